package pricing

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"unlock-orders/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed pricing.yaml
var defaultTable []byte

// Device is the pricing entry of one device family.
type Device struct {
	Model  string
	Prices map[domain.Carrier]decimal.Decimal
}

// Table is the immutable TAC price table. It is loaded once at start-up
// and shared read-only between requests.
type Table struct {
	defaultPrice decimal.Decimal
	devices      map[string]Device
}

type tableFile struct {
	DefaultPrice string `yaml:"default_price"`
	Devices      map[string]struct {
		Model  string            `yaml:"model"`
		Prices map[string]string `yaml:"prices"`
	} `yaml:"devices"`
}

// DefaultTable returns the table compiled into the binary.
func DefaultTable() (*Table, error) {
	return LoadTable(bytes.NewReader(defaultTable))
}

func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pricing table: %w", err)
	}
	defer f.Close()
	return LoadTable(f)
}

func LoadTable(r io.Reader) (*Table, error) {
	var file tableFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode pricing table: %w", err)
	}

	def, err := positive(file.DefaultPrice)
	if err != nil {
		return nil, fmt.Errorf("default_price: %w", err)
	}

	t := &Table{defaultPrice: def, devices: make(map[string]Device, len(file.Devices))}
	for tac, d := range file.Devices {
		if len(tac) != 8 {
			return nil, fmt.Errorf("device %q: TAC must be 8 digits", tac)
		}
		dev := Device{Model: d.Model, Prices: make(map[domain.Carrier]decimal.Decimal, len(d.Prices))}
		for carrier, raw := range d.Prices {
			p, err := positive(raw)
			if err != nil {
				return nil, fmt.Errorf("device %s carrier %s: %w", tac, carrier, err)
			}
			dev.Prices[domain.ParseCarrier(carrier)] = p
		}
		t.devices[tac] = dev
	}
	return t, nil
}

func positive(raw string) (decimal.Decimal, error) {
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("price %s must be positive", raw)
	}
	return p, nil
}

func (t *Table) DefaultPrice() decimal.Decimal { return t.defaultPrice }

func (t *Table) Device(tac string) (Device, bool) {
	d, ok := t.devices[tac]
	return d, ok
}

func (t *Table) Len() int { return len(t.devices) }
