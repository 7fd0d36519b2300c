package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"billnotif/internal/domain"
)

type fakeGateway struct {
	available bool
	err       error
	sent      []string
}

func (g *fakeGateway) SendText(ctx context.Context, address, text string) (string, error) {
	g.sent = append(g.sent, address+"|"+text)
	if g.err != nil {
		return "", g.err
	}
	return "SM1", nil
}

func (g *fakeGateway) Available(ctx context.Context) bool { return g.available }

type fakeMailer struct {
	configured bool
	err        error
	subjects   []string
}

func (m *fakeMailer) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	m.subjects = append(m.subjects, to+"|"+subject)
	if m.err != nil {
		return "", m.err
	}
	return "<id@example.com>", nil
}

func (m *fakeMailer) Configured() bool { return m.configured }

var rcpt = domain.Recipient{ID: "r1", Name: "Maria", ChatAddress: " +55 11 99999 0000 ", Email: "maria@example.com"}

func TestMessagingSend(t *testing.T) {
	gw := &fakeGateway{available: true}
	m := &Messaging{Gateway: gw, Normalize: func(s string) string { return "n:" + s }}
	rec, err := m.Send(context.Background(), rcpt, "hello", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if rec.MessageID != "SM1" {
		t.Fatalf("unexpected receipt %+v", rec)
	}
	if len(gw.sent) != 1 || gw.sent[0] != "n:+55 11 99999 0000|hello" {
		t.Fatalf("unexpected sends %v", gw.sent)
	}
}

func TestMessagingUnavailableDoesNotSend(t *testing.T) {
	gw := &fakeGateway{available: false}
	m := &Messaging{Gateway: gw}
	_, err := m.Send(context.Background(), rcpt, "hello", nil)
	if !errors.Is(err, domain.ErrChannelUnavailable) {
		t.Fatalf("expected ErrChannelUnavailable, got %v", err)
	}
	if len(gw.sent) != 0 {
		t.Fatalf("unavailable gateway must not be called")
	}

	var nilGateway Messaging
	if _, err := nilGateway.Send(context.Background(), rcpt, "x", nil); !errors.Is(err, domain.ErrChannelUnavailable) {
		t.Fatalf("expected ErrChannelUnavailable for missing gateway, got %v", err)
	}
}

func TestMessagingBreakerOpensAfterFailures(t *testing.T) {
	gw := &fakeGateway{available: true, err: errors.New("gateway down")}
	m := &Messaging{Gateway: gw, Breaker: NewBreaker("test", 2, time.Minute)}

	for i := 0; i < 2; i++ {
		_, err := m.Send(context.Background(), rcpt, "x", nil)
		if err == nil || errors.Is(err, domain.ErrChannelUnavailable) {
			t.Fatalf("attempt %d: expected transport error, got %v", i, err)
		}
	}
	_, err := m.Send(context.Background(), rcpt, "x", nil)
	if !errors.Is(err, domain.ErrChannelUnavailable) {
		t.Fatalf("expected ErrChannelUnavailable once breaker opened, got %v", err)
	}
	if len(gw.sent) != 2 {
		t.Fatalf("expected 2 gateway calls, got %d", len(gw.sent))
	}
}

func TestMessagingTimeoutSurfacesAsError(t *testing.T) {
	m := &Messaging{Gateway: slowGateway{}, Timeout: 10 * time.Millisecond}
	_, err := m.Send(context.Background(), rcpt, "x", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type slowGateway struct{}

func (slowGateway) SendText(ctx context.Context, address, text string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (slowGateway) Available(ctx context.Context) bool { return true }

func TestEmailSend(t *testing.T) {
	mailer := &fakeMailer{configured: true}
	e := &Email{Mailer: mailer, Subject: func(r domain.Recipient, items []domain.PendingItem) string {
		return "Aviso para " + r.Name
	}}
	rec, err := e.Send(context.Background(), rcpt, "body", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if rec.MessageID != "<id@example.com>" {
		t.Fatalf("unexpected receipt %+v", rec)
	}
	if len(mailer.subjects) != 1 || mailer.subjects[0] != "maria@example.com|Aviso para Maria" {
		t.Fatalf("unexpected mails %v", mailer.subjects)
	}
}

func TestEmailNotConfigured(t *testing.T) {
	e := &Email{Mailer: &fakeMailer{configured: false}}
	if _, err := e.Send(context.Background(), rcpt, "body", nil); !errors.Is(err, domain.ErrChannelUnavailable) {
		t.Fatalf("expected ErrChannelUnavailable, got %v", err)
	}
}
