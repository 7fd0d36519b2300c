package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"billnotif/internal/domain"
)

// WindowStore is the read side of the external store used by a scan.
type WindowStore interface {
	FindOpenEligibilityWindows(ctx context.Context, now time.Time) ([]domain.Recipient, error)
	FindPendingItems(ctx context.Context, recipientID string) ([]domain.PendingItem, error)
}

// Scanner finds recipients whose window is open and who have pending items.
type Scanner struct {
	Store WindowStore
}

// Scan returns eligible recipients with their pending items, earliest due
// date first. Recipients without pending items are dropped. Any store error
// aborts the scan and no partial result is returned.
func (s *Scanner) Scan(ctx context.Context, now time.Time) ([]domain.EligibleRecipient, error) {
	recipients, err := s.Store.FindOpenEligibilityWindows(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("%w: find open eligibility windows: %v", domain.ErrConnectivity, err)
	}

	out := make([]domain.EligibleRecipient, 0, len(recipients))
	for _, r := range recipients {
		items, err := s.Store.FindPendingItems(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: find pending items for %s: %v", domain.ErrConnectivity, r.ID, err)
		}
		pending := make([]domain.PendingItem, 0, len(items))
		for _, it := range items {
			if it.Status == "" || it.Status == domain.ItemPending {
				pending = append(pending, it)
			}
		}
		if len(pending) == 0 {
			continue
		}
		sort.SliceStable(pending, func(i, j int) bool {
			return pending[i].DueDate.Before(pending[j].DueDate)
		})
		out = append(out, domain.EligibleRecipient{Recipient: r, Items: pending})
	}
	return out, nil
}
