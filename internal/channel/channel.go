// Package channel adapts delivery transports to a single contract: send one
// notice to one recipient. The dispatcher never looks past Sender.
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"billnotif/internal/domain"
	"billnotif/internal/observability"
)

type Kind string

const (
	KindMessaging Kind = "messaging"
	KindEmail     Kind = "email"
)

type Receipt struct {
	MessageID string
}

// Sender delivers a composed notice over one transport. Errors wrapping
// domain.ErrChannelUnavailable mean the transport was not ready and nothing was sent.
type Sender interface {
	Kind() Kind
	Send(ctx context.Context, r domain.Recipient, text string, items []domain.PendingItem) (Receipt, error)
}

// NewBreaker returns the transport breaker used by the adapters. It opens after
// trip consecutive failures and half-opens after cooldown.
func NewBreaker(name string, trip uint32, cooldown time.Duration) *gobreaker.CircuitBreaker {
	if trip == 0 {
		trip = 10
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= trip },
	})
}

// execute runs call under the optional breaker and per-send timeout, and
// records the outcome metrics for kind.
func execute(ctx context.Context, kind Kind, cb *gobreaker.CircuitBreaker, timeout time.Duration, call func(ctx context.Context) (string, error)) (Receipt, error) {
	start := time.Now()
	run := func() (any, error) {
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return call(callCtx)
	}

	var (
		res any
		err error
	)
	if cb == nil {
		res, err = run()
	} else {
		res, err = cb.Execute(run)
	}
	observability.ChannelLatency.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.ChannelSend.WithLabelValues(string(kind), "breaker_open").Inc()
		return Receipt{}, fmt.Errorf("%w: %s transport breaker open", domain.ErrChannelUnavailable, kind)
	}
	if err != nil {
		observability.ChannelSend.WithLabelValues(string(kind), "error").Inc()
		return Receipt{}, err
	}
	observability.ChannelSend.WithLabelValues(string(kind), "ok").Inc()
	id, _ := res.(string)
	return Receipt{MessageID: id}, nil
}

func unavailable(kind Kind, reason string) error {
	observability.ChannelSend.WithLabelValues(string(kind), "unavailable").Inc()
	return fmt.Errorf("%w: %s %s", domain.ErrChannelUnavailable, kind, reason)
}
