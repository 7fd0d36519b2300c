package dispatch

import (
	"time"

	"billnotif/internal/channel"
)

// ChannelResult is what happened on one channel for one recipient.
type ChannelResult struct {
	Channel   channel.Kind `json:"channel"`
	Attempted bool         `json:"attempted"`
	Delivered bool         `json:"delivered"`
	MessageID string       `json:"messageId,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Outcome is the per-recipient result of one run.
type Outcome struct {
	RecipientID   string          `json:"recipientId"`
	Channels      []ChannelResult `json:"channels"`
	Delivered     bool            `json:"delivered"`
	ItemsNotified int             `json:"itemsNotified"`
	ItemsMarked   int             `json:"itemsMarked"`
	Error         string          `json:"error,omitempty"`
}

// Attempted reports whether any channel send was tried.
func (o Outcome) Attempted() bool {
	for _, c := range o.Channels {
		if c.Attempted {
			return true
		}
	}
	return false
}

// NotificationsSent counts channels that delivered the notice.
func (o Outcome) NotificationsSent() int {
	n := 0
	for _, c := range o.Channels {
		if c.Delivered {
			n++
		}
	}
	return n
}

type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// RecipientError records a recipient that could not be fully processed.
type RecipientError struct {
	RecipientID string `json:"recipientId"`
	Error       string `json:"error"`
}

// RunSummary is the result of one scan-and-process cycle.
type RunSummary struct {
	RunID               string           `json:"runId"`
	Trigger             Trigger          `json:"trigger"`
	StartedAt           time.Time        `json:"startedAt"`
	FinishedAt          time.Time        `json:"finishedAt"`
	RecipientsScanned   int              `json:"recipientsScanned"`
	RecipientsProcessed int              `json:"recipientsProcessed"`
	NotificationsSent   int              `json:"notificationsSent"`
	ItemsMarked         int              `json:"itemsMarked"`
	Errors              int              `json:"errors"`
	RecipientErrors     []RecipientError `json:"recipientErrors,omitempty"`
	Outcomes            []Outcome        `json:"outcomes,omitempty"`
	Failed              bool             `json:"failed"`
	FailureReason       string           `json:"failureReason,omitempty"`
}

func (s RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
