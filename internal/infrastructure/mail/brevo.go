package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultBrevoURL = "https://api.brevo.com/v3/smtp/email"

var tracer = otel.Tracer("unlock-orders/mail")

// BrevoMailer sends transactional email through the Brevo HTTP API.
type BrevoMailer struct {
	apiKey     string
	url        string
	sender     contact
	httpClient *http.Client
}

type contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoAttachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type brevoRequest struct {
	Sender      contact           `json:"sender"`
	To          []contact         `json:"to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"htmlContent"`
	Attachment  []brevoAttachment `json:"attachment,omitempty"`
}

func NewBrevoMailer(apiKey, senderName, senderEmail, url string) *BrevoMailer {
	if url == "" {
		url = DefaultBrevoURL
	}
	return &BrevoMailer{
		apiKey:     apiKey,
		url:        url,
		sender:     contact{Name: senderName, Email: senderEmail},
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Send renders msg and posts it. It returns the provider message id.
func (m *BrevoMailer) Send(ctx context.Context, msg Message) (string, error) {
	ctx, span := tracer.Start(ctx, "brevo.Send")
	defer span.End()
	span.SetAttributes(attribute.String("mail.template", string(msg.Template)))

	html, err := Render(msg)
	if err != nil {
		return "", err
	}

	body := brevoRequest{
		Sender:      m.sender,
		To:          []contact{{Email: msg.To}},
		Subject:     msg.Subject,
		HTMLContent: html,
	}
	if msg.Attachment != nil {
		body.Attachment = []brevoAttachment{{
			Name:    msg.Attachment.Name,
			Content: base64.StdEncoding.EncodeToString(msg.Attachment.Content),
		}}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal brevo request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("api-key", m.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("send email to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		err := fmt.Errorf("send email to %s: brevo returned %s: %s", msg.To, resp.Status, detail)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var out struct {
		MessageID string `json:"messageId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode brevo response: %w", err)
	}
	return out.MessageID, nil
}
