package channel

import (
	"context"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"billnotif/internal/domain"
)

// Mailer is an outbound email transport.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
	Configured() bool
}

// Email sends the notice to the recipient's email address.
type Email struct {
	Mailer  Mailer
	Subject func(r domain.Recipient, items []domain.PendingItem) string
	Breaker *gobreaker.CircuitBreaker
	Timeout time.Duration
}

func (e *Email) Kind() Kind { return KindEmail }

func (e *Email) Send(ctx context.Context, r domain.Recipient, text string, items []domain.PendingItem) (Receipt, error) {
	if e.Mailer == nil || !e.Mailer.Configured() {
		return Receipt{}, unavailable(KindEmail, "relay not configured")
	}
	if e.Breaker != nil && e.Breaker.State() == gobreaker.StateOpen {
		return Receipt{}, unavailable(KindEmail, "transport breaker open")
	}

	subject := "Billing notice"
	if e.Subject != nil {
		subject = e.Subject(r, items)
	}
	to := strings.TrimSpace(r.Email)
	return execute(ctx, KindEmail, e.Breaker, e.Timeout, func(ctx context.Context) (string, error) {
		return e.Mailer.SendEmail(ctx, to, subject, text)
	})
}
