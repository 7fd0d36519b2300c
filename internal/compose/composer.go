// Package compose renders billing notices. Everything here is pure: no I/O
// beyond loading an optional template file at startup.
package compose

import (
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"billnotif/internal/domain"
	"billnotif/internal/util"
)

type Composer struct {
	tmpl Template
}

func New(t Template) *Composer {
	return &Composer{tmpl: t.withDefaults()}
}

// Compose renders the notice for a recipient. Items are rendered in the order
// given; callers pass them earliest due date first.
func (c *Composer) Compose(r domain.Recipient, items []domain.PendingItem) string {
	vars := c.headerVars(r, items)

	blocks := make([]string, 0, len(items)+3)
	blocks = append(blocks, util.RenderTemplate(c.tmpl.Greeting, vars))
	blocks = append(blocks, util.RenderTemplate(c.tmpl.Header, vars))
	for i, it := range items {
		blocks = append(blocks, util.RenderTemplate(c.tmpl.Item, map[string]string{
			"index":     strconv.Itoa(i + 1),
			"due":       it.DueDate.Format(c.tmpl.DateLayout),
			"amount":    c.FormatAmount(it.AmountCents),
			"reference": it.ReferenceCode,
			"link":      it.DocumentURL,
		}))
	}
	if strings.TrimSpace(c.tmpl.Footer) != "" {
		blocks = append(blocks, util.RenderTemplate(c.tmpl.Footer, vars))
	}
	return strings.Join(blocks, "\n\n")
}

// Subject renders the email subject line.
func (c *Composer) Subject(r domain.Recipient, items []domain.PendingItem) string {
	return util.RenderTemplate(c.tmpl.Subject, c.headerVars(r, items))
}

// FormatAmount formats cents with the configured currency symbol and grouping.
func (c *Composer) FormatAmount(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	s := humanize.FormatFloat(c.tmpl.CurrencyFormat, float64(cents)/100)
	if neg {
		s = "-" + s
	}
	if c.tmpl.CurrencySymbol == "" {
		return s
	}
	return c.tmpl.CurrencySymbol + " " + s
}

func (c *Composer) headerVars(r domain.Recipient, items []domain.PendingItem) map[string]string {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		for _, it := range items {
			if n := strings.TrimSpace(it.DisplayName); n != "" {
				name = n
				break
			}
		}
	}
	return map[string]string{
		"name":  name,
		"count": strconv.Itoa(len(items)),
	}
}
