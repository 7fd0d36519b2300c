package store

import (
	"context"
	"time"

	"billnotif/internal/domain"
)

// Store is the external store the dispatcher reads eligibility from and
// writes delivery status to. Implemented by pg.Store and sqlite.Store.
type Store interface {
	// FindOpenEligibilityWindows returns recipients with at least one active
	// window open at now; the date and time of day are taken in now's location.
	FindOpenEligibilityWindows(ctx context.Context, now time.Time) ([]domain.Recipient, error)
	// FindPendingItems returns a recipient's pending items, earliest due date first.
	FindPendingItems(ctx context.Context, recipientID string) ([]domain.PendingItem, error)
	// MarkItemSent flips one pending item to sent. Items already sent are left as is.
	MarkItemSent(ctx context.Context, itemID string, at time.Time) error
	HealthCheck(ctx context.Context) error
}

// Seeder loads recipients, windows and items. Used by tooling and tests;
// billing items are normally created by the billing system.
type Seeder interface {
	UpsertRecipient(ctx context.Context, r domain.Recipient) error
	InsertWindow(ctx context.Context, w domain.EligibilityWindow) error
	InsertItem(ctx context.Context, it domain.PendingItem) error
}

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04:05"
)
