package compose

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// Template holds the strings a notice is built from. Placeholders:
//
//	greeting, header, subject: {name} {count}
//	item:                      {index} {due} {amount} {reference} {link}
type Template struct {
	Greeting       string `yaml:"greeting"`
	Header         string `yaml:"header"`
	Item           string `yaml:"item"`
	Footer         string `yaml:"footer"`
	Subject        string `yaml:"subject"`
	DateLayout     string `yaml:"date_layout"`
	CurrencySymbol string `yaml:"currency_symbol"`
	CurrencyFormat string `yaml:"currency_format"`
}

func DefaultTemplate() Template {
	return Template{
		Greeting: "Olá, {name}!",
		Header:   "Você possui {count} boleto(s) em aberto:",
		Item: "*{index}.* Vencimento: {due}\n" +
			"Valor: {amount}\n" +
			"Linha digitável: {reference}\n" +
			"Boleto: {link}",
		Footer:         "Em caso de dúvidas, responda esta mensagem.",
		Subject:        "Aviso de cobrança: {count} boleto(s) em aberto",
		DateLayout:     "02/01/2006",
		CurrencySymbol: "R$",
		CurrencyFormat: "#.###,##",
	}
}

// LoadTemplate reads a YAML template file. Fields left empty keep their defaults.
func LoadTemplate(path string) (Template, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("read notice template: %w", err)
	}
	var t Template
	if err := yaml.Unmarshal(b, &t); err != nil {
		return Template{}, fmt.Errorf("parse notice template: %w", err)
	}
	return t.withDefaults(), nil
}

func (t Template) withDefaults() Template {
	d := DefaultTemplate()
	if t.Greeting == "" {
		t.Greeting = d.Greeting
	}
	if t.Header == "" {
		t.Header = d.Header
	}
	if t.Item == "" {
		t.Item = d.Item
	}
	if t.Subject == "" {
		t.Subject = d.Subject
	}
	if t.DateLayout == "" {
		t.DateLayout = d.DateLayout
	}
	if t.CurrencyFormat == "" {
		t.CurrencyFormat = d.CurrencyFormat
	}
	// Footer and symbol may be intentionally empty.
	return t
}
