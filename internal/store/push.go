package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/textblast/internal/model"
)

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

const pushCols = `id, account_id, endpoint, p256dh_key, auth_key, created_at`

func scanPushSubscription(scanner interface{ Scan(...any) error }) (*model.PushSubscription, error) {
	var ps model.PushSubscription
	if err := scanner.Scan(&ps.ID, &ps.AccountID, &ps.Endpoint, &ps.P256dhKey, &ps.AuthKey, &ps.CreatedAt); err != nil {
		return nil, err
	}
	return &ps, nil
}

// Subscribe stores a browser subscription. Re-subscribing an endpoint moves
// it to the given account and refreshes its keys.
func (s *PushStore) Subscribe(ctx context.Context, accountID int64, endpoint, p256dh, auth string) (*model.PushSubscription, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (account_id, endpoint, p256dh_key, auth_key) VALUES (?, ?, ?, ?)
		 ON CONFLICT (endpoint) DO UPDATE SET account_id = excluded.account_id, p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key`,
		accountID, endpoint, p256dh, auth,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert push subscription: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+pushCols+` FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	ps, err := scanPushSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("get push subscription: %w", err)
	}
	return ps, nil
}

func (s *PushStore) ListByAccount(ctx context.Context, accountID int64) ([]model.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pushCols+` FROM push_subscriptions WHERE account_id = ? ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		ps, err := scanPushSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *ps)
	}
	return subs, rows.Err()
}

func (s *PushStore) DeleteByEndpoint(ctx context.Context, accountID int64, endpoint string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE account_id = ? AND endpoint = ?`, accountID, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

func (s *PushStore) DeleteByID(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}
