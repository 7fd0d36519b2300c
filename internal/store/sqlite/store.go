// Package sqlite is a single-file store for small deployments and local runs.
// Dates are kept as ISO text so lexical order matches calendar order.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"billnotif/internal/domain"
	"billnotif/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string, busyTimeout time.Duration) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON")

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// FindOpenEligibilityWindows loads active windows and evaluates them in Go so
// the rule lives in one place (domain.EligibilityWindow.Contains).
func (s *Store) FindOpenEligibilityWindows(ctx context.Context, now time.Time) ([]domain.Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, COALESCE(r.chat_address,''), COALESCE(r.email,''),
		       w.start_date, w.end_date, w.start_time, w.end_time
		FROM eligibility_windows w
		JOIN recipients r ON r.id = w.recipient_id
		WHERE w.active = 1
		ORDER BY r.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := map[string]bool{}
	var out []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		var sd, ed, st, et string
		if err := rows.Scan(&r.ID, &r.Name, &r.ChatAddress, &r.Email, &sd, &ed, &st, &et); err != nil {
			return nil, err
		}
		w, err := parseWindow(r.ID, sd, ed, st, et)
		if err != nil {
			return nil, err
		}
		if seen[r.ID] || !w.Contains(now) {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) FindPendingItems(ctx context.Context, recipientID string) ([]domain.PendingItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.recipient_id, COALESCE(r.chat_address,''), COALESCE(r.email,''), r.name,
		       i.amount_cents, i.due_date, i.reference_code, COALESCE(i.document_url,''), i.status
		FROM billing_items i
		JOIN recipients r ON r.id = i.recipient_id
		WHERE i.recipient_id = ? AND i.status = ?
		ORDER BY i.due_date ASC, i.id ASC
	`, recipientID, string(domain.ItemPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingItem
	for rows.Next() {
		var it domain.PendingItem
		var due, status string
		if err := rows.Scan(&it.ID, &it.RecipientID, &it.ChatAddress, &it.Email, &it.DisplayName,
			&it.AmountCents, &due, &it.ReferenceCode, &it.DocumentURL, &status); err != nil {
			return nil, err
		}
		d, err := time.Parse(store.DateLayout, due)
		if err != nil {
			return nil, fmt.Errorf("item %s due date: %w", it.ID, err)
		}
		it.DueDate = d
		it.Status = domain.ItemStatus(status)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) MarkItemSent(ctx context.Context, itemID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE billing_items SET status = ?, sent_at = ? WHERE id = ? AND status = ?
	`, string(domain.ItemSent), at.UTC().Format(time.RFC3339Nano), itemID, string(domain.ItemPending))
	return err
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) UpsertRecipient(ctx context.Context, r domain.Recipient) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recipients (id, name, chat_address, email, updated_at) VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, chat_address=excluded.chat_address,
		    email=excluded.email, updated_at=excluded.updated_at
	`, r.ID, r.Name, nullStr(r.ChatAddress), nullStr(r.Email), time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *Store) InsertWindow(ctx context.Context, w domain.EligibilityWindow) error {
	active := 0
	if w.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO eligibility_windows (recipient_id, start_date, end_date, start_time, end_time, active)
		VALUES (?,?,?,?,?,?)
	`, w.RecipientID, w.StartDate.Format(store.DateLayout), w.EndDate.Format(store.DateLayout),
		w.StartTime.String(), w.EndTime.String(), active)
	return err
}

func (s *Store) InsertItem(ctx context.Context, it domain.PendingItem) error {
	status := it.Status
	if status == "" {
		status = domain.ItemPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_items (id, recipient_id, amount_cents, due_date, reference_code, document_url, status)
		VALUES (?,?,?,?,?,?,?)
	`, it.ID, it.RecipientID, it.AmountCents, it.DueDate.Format(store.DateLayout),
		it.ReferenceCode, nullStr(it.DocumentURL), string(status))
	return err
}

// ItemStatus reports an item's stored status.
func (s *Store) ItemStatus(ctx context.Context, itemID string) (domain.ItemStatus, error) {
	var st string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM billing_items WHERE id = ?`, itemID).Scan(&st)
	if err != nil {
		return "", err
	}
	return domain.ItemStatus(st), nil
}

func parseWindow(recipientID, sd, ed, st, et string) (domain.EligibilityWindow, error) {
	start, err := time.Parse(store.DateLayout, sd)
	if err != nil {
		return domain.EligibilityWindow{}, fmt.Errorf("window start date: %w", err)
	}
	end, err := time.Parse(store.DateLayout, ed)
	if err != nil {
		return domain.EligibilityWindow{}, fmt.Errorf("window end date: %w", err)
	}
	from, err := domain.ParseClock(st)
	if err != nil {
		return domain.EligibilityWindow{}, err
	}
	to, err := domain.ParseClock(et)
	if err != nil {
		return domain.EligibilityWindow{}, err
	}
	return domain.EligibilityWindow{
		RecipientID: recipientID,
		StartDate:   start,
		EndDate:     end,
		StartTime:   from,
		EndTime:     to,
		Active:      true,
	}, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
