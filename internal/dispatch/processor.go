package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"billnotif/internal/channel"
	"billnotif/internal/domain"
	"billnotif/internal/observability"
)

// ItemMarker is the write side of the external store.
type ItemMarker interface {
	MarkItemSent(ctx context.Context, itemID string, at time.Time) error
}

type Composer interface {
	Compose(r domain.Recipient, items []domain.PendingItem) string
}

// Processor drives one recipient through composition, both channels and the
// status update.
type Processor struct {
	Store     ItemMarker
	Composer  Composer
	Messaging channel.Sender
	Email     channel.Sender
	Now       func() time.Time
}

// Process sends the recipient's notice on every channel it has a contact for.
// The recipient counts as delivered when at least one attempted channel
// succeeded; only then are its items marked sent, each independently.
//
// Returned errors: domain.ErrValidation when no contact exists,
// domain.ErrDeliveryFailed when every attempted channel failed, and
// domain.ErrPartialFailure when delivery succeeded but marking did not.
// The Outcome is filled in all cases.
func (p *Processor) Process(ctx context.Context, er domain.EligibleRecipient) (Outcome, error) {
	r := er.Contact()
	out := Outcome{RecipientID: r.ID}

	if !r.HasChat() && !r.HasEmail() {
		observability.Recipients.WithLabelValues("invalid").Inc()
		return out, fmt.Errorf("%w: recipient %s has no chat address or email", domain.ErrValidation, r.ID)
	}

	text := p.Composer.Compose(r, er.Items)

	var sendErrs []error
	for _, step := range []struct {
		sender  channel.Sender
		contact bool
	}{
		{p.Messaging, r.HasChat()},
		{p.Email, r.HasEmail()},
	} {
		if step.sender == nil {
			continue
		}
		res := ChannelResult{Channel: step.sender.Kind()}
		if !step.contact {
			out.Channels = append(out.Channels, res)
			continue
		}
		res.Attempted = true
		receipt, err := step.sender.Send(ctx, r, text, er.Items)
		if err != nil {
			res.Error = err.Error()
			sendErrs = append(sendErrs, fmt.Errorf("%s: %w", res.Channel, err))
			slog.Warn("channel send failed",
				"recipient_id", r.ID,
				"channel", res.Channel,
				"err", err,
			)
		} else {
			res.Delivered = true
			res.MessageID = receipt.MessageID
			out.Delivered = true
		}
		out.Channels = append(out.Channels, res)
	}

	if !out.Delivered {
		observability.Recipients.WithLabelValues("undelivered").Inc()
		if len(sendErrs) == 0 {
			return out, fmt.Errorf("%w: recipient %s: no channel configured for its contacts", domain.ErrDeliveryFailed, r.ID)
		}
		return out, fmt.Errorf("%w: recipient %s: %w", domain.ErrDeliveryFailed, r.ID, errors.Join(sendErrs...))
	}
	out.ItemsNotified = len(er.Items)

	// Notifications are never retracted: a failed mark leaves the item pending
	// and the next scan notifies it again.
	at := p.now()
	var markErrs []error
	for _, it := range er.Items {
		if err := p.Store.MarkItemSent(ctx, it.ID, at); err != nil {
			observability.ItemsMarked.WithLabelValues("error").Inc()
			markErrs = append(markErrs, fmt.Errorf("item %s: %w", it.ID, err))
			continue
		}
		observability.ItemsMarked.WithLabelValues("ok").Inc()
		out.ItemsMarked++
	}
	if len(markErrs) > 0 {
		observability.Recipients.WithLabelValues("partial").Inc()
		return out, fmt.Errorf("%w: recipient %s notified but %d of %d items not marked sent: %w",
			domain.ErrPartialFailure, r.ID, len(markErrs), len(er.Items), errors.Join(markErrs...))
	}
	observability.Recipients.WithLabelValues("delivered").Inc()
	return out, nil
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
