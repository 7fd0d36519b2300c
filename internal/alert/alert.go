// Package alert delivers critical operational alerts raised by the dispatcher.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"billnotif/internal/dispatch"
	"billnotif/internal/observability"
)

const KindBreakerOpen = "dispatch_breaker_open"

// Alert describes why automation stopped. LastRun is the run that tripped the breaker.
type Alert struct {
	Kind              string               `json:"kind"`
	Message           string               `json:"message"`
	ConsecutiveErrors int                  `json:"consecutiveErrors"`
	Threshold         int                  `json:"threshold"`
	LastError         string               `json:"lastError,omitempty"`
	LastRun           *dispatch.RunSummary `json:"lastRun,omitempty"`
	At                time.Time            `json:"at"`
}

// Text renders a short human-readable form for chat and logs.
func (a Alert) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[CRITICAL] %s\n", a.Message)
	fmt.Fprintf(&b, "consecutive failures: %d/%d\n", a.ConsecutiveErrors, a.Threshold)
	if a.LastError != "" {
		fmt.Fprintf(&b, "last error: %s\n", a.LastError)
	}
	if a.LastRun != nil {
		fmt.Fprintf(&b, "last run: %s\n", a.LastRun.RunID)
	}
	b.WriteString("automatic dispatch is disabled until restarted")
	return b.String()
}

type Alerter interface {
	NotifyCritical(ctx context.Context, a Alert) error
}

// Sink is a named Alerter; the name labels metrics and logs.
type Sink struct {
	Name    string
	Alerter Alerter
}

// Multi delivers to every sink. A failing sink does not stop the others;
// their errors are joined.
type Multi []Sink

func (m Multi) NotifyCritical(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range m {
		if s.Alerter == nil {
			continue
		}
		if err := s.Alerter.NotifyCritical(ctx, a); err != nil {
			observability.Alerts.WithLabelValues(s.Name, "error").Inc()
			slog.Error("alert delivery failed", "sink", s.Name, "kind", a.Kind, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		observability.Alerts.WithLabelValues(s.Name, "ok").Inc()
	}
	return errors.Join(errs...)
}

// Log writes the alert to the process log. It never fails.
type Log struct{}

func (Log) NotifyCritical(ctx context.Context, a Alert) error {
	slog.Error("critical alert",
		"kind", a.Kind,
		"message", a.Message,
		"consecutive_errors", a.ConsecutiveErrors,
		"threshold", a.Threshold,
		"last_error", a.LastError,
	)
	return nil
}

type ChatGateway interface {
	SendText(ctx context.Context, address, text string) (string, error)
}

// Chat sends the alert to an operator over the messaging gateway.
type Chat struct {
	Gateway ChatGateway
	Address string
	Timeout time.Duration
}

func (c Chat) NotifyCritical(ctx context.Context, a Alert) error {
	if c.Gateway == nil || strings.TrimSpace(c.Address) == "" {
		return errors.New("chat alert sink not configured")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	_, err := c.Gateway.SendText(ctx, c.Address, a.Text())
	return err
}
