package domain

import (
	"strings"
	"time"
)

type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemSent    ItemStatus = "sent"
)

// Recipient is the party a billing notice is addressed to. Contact fields may be
// empty; an empty field means the matching channel is not attempted.
type Recipient struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ChatAddress string `json:"chatAddress,omitempty"`
	Email       string `json:"email,omitempty"`
}

func (r Recipient) HasChat() bool  { return strings.TrimSpace(r.ChatAddress) != "" }
func (r Recipient) HasEmail() bool { return strings.TrimSpace(r.Email) != "" }

// PendingItem is one billable item awaiting notification. Contact fields are
// denormalized from the recipient at the time the item was read.
type PendingItem struct {
	ID            string     `json:"id"`
	RecipientID   string     `json:"recipientId"`
	ChatAddress   string     `json:"chatAddress,omitempty"`
	Email         string     `json:"email,omitempty"`
	DisplayName   string     `json:"displayName,omitempty"`
	AmountCents   int64      `json:"amountCents"`
	DueDate       time.Time  `json:"dueDate"`
	ReferenceCode string     `json:"referenceCode"`
	DocumentURL   string     `json:"documentUrl"`
	Status        ItemStatus `json:"status"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
}

// EligibleRecipient is a recipient whose window is open together with its
// pending items, earliest due date first.
type EligibleRecipient struct {
	Recipient Recipient
	Items     []PendingItem
}

// Contact returns the recipient with empty contact fields filled from the first
// item that carries them.
func (e EligibleRecipient) Contact() Recipient {
	r := e.Recipient
	for _, it := range e.Items {
		if !r.HasChat() && strings.TrimSpace(it.ChatAddress) != "" {
			r.ChatAddress = it.ChatAddress
		}
		if !r.HasEmail() && strings.TrimSpace(it.Email) != "" {
			r.Email = it.Email
		}
		if strings.TrimSpace(r.Name) == "" && strings.TrimSpace(it.DisplayName) != "" {
			r.Name = it.DisplayName
		}
	}
	return r
}
