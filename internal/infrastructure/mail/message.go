package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"unlock-orders/internal/domain"
)

type Template string

const (
	TemplateInvoice        Template = "invoice"
	TemplateNewOrder       Template = "newOrder"
	TemplatePendingPayment Template = "pendingPayment"
)

type Attachment struct {
	Name    string
	Content []byte
}

type Message struct {
	To         string
	Subject    string
	Template   Template
	Fields     domain.Summary
	Attachment *Attachment
}

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Render produces the HTML body of a message.
func Render(msg Message) (string, error) {
	var buf bytes.Buffer
	name := string(msg.Template) + ".html"
	if templates.Lookup(name) == nil {
		return "", fmt.Errorf("unknown email template %q", msg.Template)
	}
	if err := templates.ExecuteTemplate(&buf, name, msg.Fields); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
