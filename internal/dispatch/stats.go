package dispatch

import (
	"sync"
	"time"
)

// Statistics accumulates run results in process memory.
type Statistics struct {
	TotalRuns          int64       `json:"totalRuns"`
	FailedRuns         int64       `json:"failedRuns"`
	TotalRecipients    int64       `json:"totalRecipients"`
	TotalNotifications int64       `json:"totalNotifications"`
	TotalItemsMarked   int64       `json:"totalItemsMarked"`
	TotalErrors        int64       `json:"totalErrors"`
	LastRun            *RunSummary `json:"lastRun,omitempty"`
	LastError          string      `json:"lastError,omitempty"`
	LastErrorAt        *time.Time  `json:"lastErrorAt,omitempty"`
	Since              time.Time   `json:"since"`
}

// Stats is safe for concurrent use.
type Stats struct {
	mu  sync.RWMutex
	s   Statistics
	now func() time.Time
}

func NewStats(now func() time.Time) *Stats {
	if now == nil {
		now = time.Now
	}
	return &Stats{now: now, s: Statistics{Since: now()}}
}

func (t *Stats) Record(sum RunSummary) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.s.TotalRuns++
	if sum.Failed {
		t.s.FailedRuns++
	}
	t.s.TotalRecipients += int64(sum.RecipientsProcessed)
	t.s.TotalNotifications += int64(sum.NotificationsSent)
	t.s.TotalItemsMarked += int64(sum.ItemsMarked)
	t.s.TotalErrors += int64(sum.Errors)

	last := sum
	t.s.LastRun = &last

	lastErr := sum.FailureReason
	if lastErr == "" && len(sum.RecipientErrors) > 0 {
		lastErr = sum.RecipientErrors[len(sum.RecipientErrors)-1].Error
	}
	if lastErr != "" {
		at := sum.FinishedAt
		if at.IsZero() {
			at = t.now()
		}
		t.s.LastError = lastErr
		t.s.LastErrorAt = &at
	}
}

func (t *Stats) Snapshot() Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.s
	if t.s.LastRun != nil {
		last := *t.s.LastRun
		out.LastRun = &last
	}
	if t.s.LastErrorAt != nil {
		at := *t.s.LastErrorAt
		out.LastErrorAt = &at
	}
	return out
}

func (t *Stats) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s = Statistics{Since: t.now()}
}
