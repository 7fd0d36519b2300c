package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"billnotif/internal/channel"
	"billnotif/internal/domain"
)

func newProcessor(st *memStore, msg, mail *fakeSender) *Processor {
	p := &Processor{Store: st, Composer: idsComposer{}, Now: func() time.Time { return day("2024-04-01") }}
	if msg != nil {
		p.Messaging = msg
	}
	if mail != nil {
		p.Email = mail
	}
	return p
}

func eligible(r domain.Recipient, ids ...string) domain.EligibleRecipient {
	er := domain.EligibleRecipient{Recipient: r}
	for _, id := range ids {
		er.Items = append(er.Items, domain.PendingItem{ID: id, RecipientID: r.ID, Status: domain.ItemPending})
	}
	return er
}

func TestProcessDeliveredWhenAnyChannelSucceeds(t *testing.T) {
	cases := []struct {
		name      string
		msgErr    error
		mailErr   error
		delivered bool
		sent      int
	}{
		{"both ok", nil, nil, true, 2},
		{"messaging fails", errors.New("boom"), nil, true, 1},
		{"email fails", nil, errors.New("boom"), true, 1},
		{"both fail", errors.New("boom"), fmt.Errorf("%w: smtp down", domain.ErrChannelUnavailable), false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newMemStore()
			r := domain.Recipient{ID: "r1", ChatAddress: "+5511", Email: "a@x"}
			st.add(r, domain.PendingItem{ID: "i1"}, domain.PendingItem{ID: "i2"})
			msg := &fakeSender{kind: channel.KindMessaging, err: tc.msgErr}
			mail := &fakeSender{kind: channel.KindEmail, err: tc.mailErr}

			out, err := newProcessor(st, msg, mail).Process(context.Background(), eligible(r, "i1", "i2"))
			if out.Delivered != tc.delivered {
				t.Fatalf("delivered=%v, want %v", out.Delivered, tc.delivered)
			}
			if out.NotificationsSent() != tc.sent {
				t.Fatalf("notifications=%d, want %d", out.NotificationsSent(), tc.sent)
			}
			if tc.delivered {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(st.marked) != 2 || out.ItemsMarked != 2 {
					t.Fatalf("expected both items marked, got %v", st.marked)
				}
				return
			}
			if !errors.Is(err, domain.ErrDeliveryFailed) {
				t.Fatalf("expected delivery failure, got %v", err)
			}
			if !errors.Is(err, domain.ErrChannelUnavailable) {
				t.Fatalf("expected joined channel error, got %v", err)
			}
			if len(st.marked) != 0 {
				t.Fatalf("nothing should be marked, got %v", st.marked)
			}
		})
	}
}

func TestProcessSkipsChannelWithoutContact(t *testing.T) {
	st := newMemStore()
	r := domain.Recipient{ID: "r1", Email: "a@x"}
	st.add(r, domain.PendingItem{ID: "i1"})
	msg := &fakeSender{kind: channel.KindMessaging}
	mail := &fakeSender{kind: channel.KindEmail}

	out, err := newProcessor(st, msg, mail).Process(context.Background(), eligible(r, "i1"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(msg.sent) != 0 {
		t.Fatalf("messaging must not be attempted, got %v", msg.sent)
	}
	if len(mail.sent) != 1 {
		t.Fatalf("expected one email, got %v", mail.sent)
	}
	if out.Channels[0].Attempted {
		t.Fatalf("messaging recorded as attempted: %+v", out.Channels)
	}
}

func TestProcessUsesItemContactFallback(t *testing.T) {
	st := newMemStore()
	r := domain.Recipient{ID: "r1"}
	er := eligible(r, "i1")
	er.Items[0].ChatAddress = "+5511"
	st.add(r, domain.PendingItem{ID: "i1"})
	msg := &fakeSender{kind: channel.KindMessaging}

	if _, err := newProcessor(st, msg, nil).Process(context.Background(), er); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(msg.sent) != 1 {
		t.Fatalf("expected a message, got %v", msg.sent)
	}
}

func TestProcessNoContactIsValidationError(t *testing.T) {
	st := newMemStore()
	r := domain.Recipient{ID: "r1", Name: "Ana"}
	st.add(r, domain.PendingItem{ID: "i1"})
	msg := &fakeSender{kind: channel.KindMessaging}
	mail := &fakeSender{kind: channel.KindEmail}

	_, err := newProcessor(st, msg, mail).Process(context.Background(), eligible(r, "i1"))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(msg.sent)+len(mail.sent) != 0 || len(st.marked) != 0 {
		t.Fatalf("nothing should happen: msg=%v mail=%v marked=%v", msg.sent, mail.sent, st.marked)
	}
}

func TestProcessPartialMarkIsPickedUpAgain(t *testing.T) {
	st := newMemStore()
	r := domain.Recipient{ID: "r1", ChatAddress: "+5511"}
	st.add(r, domain.PendingItem{ID: "i1"}, domain.PendingItem{ID: "i2"}, domain.PendingItem{ID: "i3"})
	st.failMark["i2"] = true
	msg := &fakeSender{kind: channel.KindMessaging}
	p := newProcessor(st, msg, nil)

	out, err := p.Process(context.Background(), eligible(r, "i1", "i2", "i3"))
	if !errors.Is(err, domain.ErrPartialFailure) {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if !out.Delivered || out.ItemsMarked != 2 {
		t.Fatalf("unexpected outcome %+v", out)
	}

	st.failMark = map[string]bool{}
	got, err := (&Scanner{Store: st}).Scan(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 1 || len(got[0].Items) != 1 || got[0].Items[0].ID != "i2" {
		t.Fatalf("expected only i2 pending, got %+v", got)
	}
	if _, err := p.Process(context.Background(), got[0]); err != nil {
		t.Fatalf("second process: %v", err)
	}
	got, err = (&Scanner{Store: st}).Scan(context.Background(), time.Now())
	if err != nil || len(got) != 0 {
		t.Fatalf("expected nothing left, got %+v err=%v", got, err)
	}
	if len(msg.sent) != 2 {
		t.Fatalf("expected the recipient notified twice, got %v", msg.sent)
	}
}

type unconfiguredMailer struct{ calls int }

func (m *unconfiguredMailer) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	m.calls++
	return "", nil
}

func (m *unconfiguredMailer) Configured() bool { return false }

func TestProcessEmailOnlyWithUnconfiguredMailer(t *testing.T) {
	st := newMemStore()
	r := domain.Recipient{ID: "r1", Email: "a@x"}
	st.add(r, domain.PendingItem{ID: "i1"})
	mailer := &unconfiguredMailer{}
	p := &Processor{
		Store:     st,
		Composer:  idsComposer{},
		Messaging: &channel.Messaging{},
		Email:     &channel.Email{Mailer: mailer},
	}

	out, err := p.Process(context.Background(), eligible(r, "i1"))
	if !errors.Is(err, domain.ErrDeliveryFailed) || !errors.Is(err, domain.ErrChannelUnavailable) {
		t.Fatalf("expected unavailable email channel, got %v", err)
	}
	if mailer.calls != 0 || len(st.marked) != 0 {
		t.Fatalf("nothing should be sent or marked: calls=%d marked=%v", mailer.calls, st.marked)
	}
	var email *ChannelResult
	for i := range out.Channels {
		if out.Channels[i].Channel == channel.KindEmail {
			email = &out.Channels[i]
		}
	}
	if email == nil || !email.Attempted || email.Delivered || !strings.Contains(email.Error, "unavailable") {
		t.Fatalf("expected a failed email result, got %+v", out.Channels)
	}
}
