package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"billnotif/internal/domain"
	"billnotif/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) FindOpenEligibilityWindows(ctx context.Context, now time.Time) ([]domain.Recipient, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT DISTINCT r.id, r.name, COALESCE(r.chat_address,''), COALESCE(r.email,'')
		FROM eligibility_windows w
		JOIN recipients r ON r.id = w.recipient_id
		WHERE w.active
		  AND $1::text::date BETWEEN w.start_date AND w.end_date
		  AND $2::text::time BETWEEN w.start_time AND w.end_time
		ORDER BY r.id
	`, now.Format(store.DateLayout), now.Format(store.ClockLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		if err := rows.Scan(&r.ID, &r.Name, &r.ChatAddress, &r.Email); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) FindPendingItems(ctx context.Context, recipientID string) ([]domain.PendingItem, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT i.id, i.recipient_id, COALESCE(r.chat_address,''), COALESCE(r.email,''), r.name,
		       i.amount_cents, i.due_date, i.reference_code, COALESCE(i.document_url,''), i.status
		FROM billing_items i
		JOIN recipients r ON r.id = i.recipient_id
		WHERE i.recipient_id=$1 AND i.status=$2
		ORDER BY i.due_date ASC, i.id ASC
	`, recipientID, string(domain.ItemPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingItem
	for rows.Next() {
		var it domain.PendingItem
		var status string
		if err := rows.Scan(&it.ID, &it.RecipientID, &it.ChatAddress, &it.Email, &it.DisplayName,
			&it.AmountCents, &it.DueDate, &it.ReferenceCode, &it.DocumentURL, &status); err != nil {
			return nil, err
		}
		it.Status = domain.ItemStatus(status)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) MarkItemSent(ctx context.Context, itemID string, at time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE billing_items SET status=$2, sent_at=$3, updated_at=$3
		WHERE id=$1 AND status=$4
	`, itemID, string(domain.ItemSent), at, string(domain.ItemPending))
	return err
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.DB.Ping(ctx)
}

func (s *Store) UpsertRecipient(ctx context.Context, r domain.Recipient) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO recipients (id, name, chat_address, email)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, chat_address=EXCLUDED.chat_address,
		    email=EXCLUDED.email, updated_at=now()
	`, r.ID, r.Name, nullIfEmpty(r.ChatAddress), nullIfEmpty(r.Email))
	return err
}

func (s *Store) InsertWindow(ctx context.Context, w domain.EligibilityWindow) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO eligibility_windows (recipient_id, start_date, end_date, start_time, end_time, active)
		VALUES ($1, $2::text::date, $3::text::date, $4::text::time, $5::text::time, $6)
	`, w.RecipientID, w.StartDate.Format(store.DateLayout), w.EndDate.Format(store.DateLayout),
		w.StartTime.String(), w.EndTime.String(), w.Active)
	return err
}

func (s *Store) InsertItem(ctx context.Context, it domain.PendingItem) error {
	status := it.Status
	if status == "" {
		status = domain.ItemPending
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO billing_items (id, recipient_id, amount_cents, due_date, reference_code, document_url, status)
		VALUES ($1,$2,$3,$4::text::date,$5,$6,$7)
	`, it.ID, it.RecipientID, it.AmountCents, it.DueDate.Format(store.DateLayout),
		it.ReferenceCode, nullIfEmpty(it.DocumentURL), string(status))
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
