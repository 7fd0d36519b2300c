package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"billnotif/internal/channel"
	"billnotif/internal/domain"
)

// memStore is an in-memory store: every recipient it holds has an open window.
type memStore struct {
	mu         sync.Mutex
	recipients []domain.Recipient
	items      map[string][]domain.PendingItem
	findErr    error
	itemsErr   error
	healthErr  error
	failMark   map[string]bool
	marked     []string
}

func newMemStore() *memStore {
	return &memStore{items: map[string][]domain.PendingItem{}, failMark: map[string]bool{}}
}

func (s *memStore) add(r domain.Recipient, items ...domain.PendingItem) {
	s.recipients = append(s.recipients, r)
	for i := range items {
		items[i].RecipientID = r.ID
		if items[i].Status == "" {
			items[i].Status = domain.ItemPending
		}
	}
	s.items[r.ID] = append(s.items[r.ID], items...)
}

func (s *memStore) FindOpenEligibilityWindows(ctx context.Context, now time.Time) ([]domain.Recipient, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return append([]domain.Recipient(nil), s.recipients...), nil
}

func (s *memStore) FindPendingItems(ctx context.Context, recipientID string) ([]domain.PendingItem, error) {
	if s.itemsErr != nil {
		return nil, s.itemsErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PendingItem
	for _, it := range s.items[recipientID] {
		if it.Status == domain.ItemPending {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *memStore) MarkItemSent(ctx context.Context, itemID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMark[itemID] {
		return errors.New("write timeout")
	}
	for rid, items := range s.items {
		for i := range items {
			if items[i].ID == itemID && items[i].Status == domain.ItemPending {
				items[i].Status = domain.ItemSent
				items[i].SentAt = &at
				s.items[rid] = items
				s.marked = append(s.marked, itemID)
			}
		}
	}
	return nil
}

func (s *memStore) HealthCheck(ctx context.Context) error { return s.healthErr }

type fakeSender struct {
	kind  channel.Kind
	err   error
	fail  map[string]bool
	panic string
	sent  []string
	texts []string
}

func (f *fakeSender) Kind() channel.Kind { return f.kind }

func (f *fakeSender) Send(ctx context.Context, r domain.Recipient, text string, items []domain.PendingItem) (channel.Receipt, error) {
	if f.panic != "" && f.panic == r.ID {
		panic("transport exploded")
	}
	if f.err != nil {
		return channel.Receipt{}, f.err
	}
	if f.fail[r.ID] {
		return channel.Receipt{}, errors.New("rejected by provider")
	}
	f.sent = append(f.sent, r.ID)
	f.texts = append(f.texts, text)
	return channel.Receipt{MessageID: string(f.kind) + "-" + r.ID}, nil
}

type idsComposer struct{}

// Compose lists item ids in the order received.
func (idsComposer) Compose(r domain.Recipient, items []domain.PendingItem) string {
	s := r.ID + ":"
	for _, it := range items {
		s += " " + it.ID
	}
	return s
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}
