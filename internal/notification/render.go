// Package notification renders and sends patient-facing billing emails.
package notification

import (
	"bytes"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicledger/internal/config"
)

var ErrEmptyTemplate = errors.New("empty_email_template")

// Data holds the placeholders available to reminder and confirmation templates.
type Data struct {
	InvoiceNumber    string
	PractitionerName string
	RecipientName    string
	Amount           string
	DueDate          string
	OffsetDays       int
	PaymentURL       string
}

type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

var funcs = map[string]any{
	"formatMoney": FormatMoney,
	"formatDate":  FormatDate,
	"upper":       strings.ToUpper,
}

// Render executes subject and text as text/template and the HTML body as
// html/template so patient-supplied names are escaped.
func Render(tpl config.ReminderTemplate, data Data) (Rendered, error) {
	if strings.TrimSpace(tpl.Subject) == "" || (strings.TrimSpace(tpl.HTML) == "" && strings.TrimSpace(tpl.Text) == "") {
		return Rendered{}, ErrEmptyTemplate
	}

	var out Rendered
	var err error
	if out.Subject, err = renderText("subject", tpl.Subject, data); err != nil {
		return Rendered{}, err
	}
	out.Subject = strings.Join(strings.Fields(out.Subject), " ")
	if tpl.Text != "" {
		if out.Text, err = renderText("text", tpl.Text, data); err != nil {
			return Rendered{}, err
		}
	}
	if tpl.HTML != "" {
		if out.HTML, err = renderHTML(tpl.HTML, data); err != nil {
			return Rendered{}, err
		}
	}
	return out, nil
}

func renderText(name, body string, data Data) (string, error) {
	t, err := texttemplate.New(name).Funcs(funcs).Parse(body)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}

func renderHTML(body string, data Data) (string, error) {
	t, err := htmltemplate.New("html").Funcs(htmltemplate.FuncMap(funcs)).Parse(body)
	if err != nil {
		return "", fmt.Errorf("parse html template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render html template: %w", err)
	}
	return buf.String(), nil
}

// zeroDecimal lists ISO currencies whose minor unit is the major unit.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// FormatMoney renders an amount in minor units, e.g. 12050 USD as "USD 120.50".
func FormatMoney(amount int64, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	places := int32(2)
	if zeroDecimal[currency] {
		places = 0
	}
	value := decimal.New(amount, -places)
	return fmt.Sprintf("%s %s", currency, value.StringFixed(places))
}

func FormatDate(value *time.Time) string {
	if value == nil || value.IsZero() {
		return "-"
	}
	return value.UTC().Format("2006-01-02")
}
