package channel

import (
	"context"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"billnotif/internal/domain"
)

// Gateway is a chat-messaging transport (WhatsApp via Twilio, Telegram).
type Gateway interface {
	SendText(ctx context.Context, address, text string) (string, error)
	Available(ctx context.Context) bool
}

// Messaging sends the notice to the recipient's chat address.
type Messaging struct {
	Gateway Gateway
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker
	Timeout time.Duration
	// Normalize rewrites addresses before sending; nil leaves them as is.
	Normalize func(string) string
}

func (m *Messaging) Kind() Kind { return KindMessaging }

func (m *Messaging) Send(ctx context.Context, r domain.Recipient, text string, _ []domain.PendingItem) (Receipt, error) {
	if m.Gateway == nil || !m.Gateway.Available(ctx) {
		return Receipt{}, unavailable(KindMessaging, "gateway session not open")
	}
	if m.Breaker != nil && m.Breaker.State() == gobreaker.StateOpen {
		return Receipt{}, unavailable(KindMessaging, "transport breaker open")
	}

	address := strings.TrimSpace(r.ChatAddress)
	if m.Normalize != nil {
		address = m.Normalize(address)
	}

	if m.Limiter != nil {
		if err := m.Limiter.Wait(ctx); err != nil {
			return Receipt{}, err
		}
	}
	return execute(ctx, KindMessaging, m.Breaker, m.Timeout, func(ctx context.Context) (string, error) {
		return m.Gateway.SendText(ctx, address, text)
	})
}
