package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/textblast/internal/model"
)

type StatsStore struct {
	db *sql.DB
}

func NewStatsStore(db *sql.DB) *StatsStore {
	return &StatsStore{db: db}
}

const (
	recentSignupCount = 3
	activityMonths    = 6
)

// Overview computes the admin dashboard counters. Day and month boundaries
// are UTC.
func (s *StatsStore) Overview(ctx context.Context) (*model.OverviewStats, error) {
	var st model.OverviewStats

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN last_active_at >= datetime('now', 'start of day') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN active = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(credits_used), 0)
		FROM accounts`,
	).Scan(&st.TotalUsers, &st.ActiveToday, &st.RestrictedUsers, &st.CreditsUsed)
	if err != nil {
		return nil, fmt.Errorf("account counters: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE created_at >= datetime('now', 'start of month')`,
	).Scan(&st.MessagesThisMonth)
	if err != nil {
		return nil, fmt.Errorf("message counter: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountCols+` FROM accounts ORDER BY created_at DESC, id DESC LIMIT ?`, recentSignupCount)
	if err != nil {
		return nil, fmt.Errorf("recent signups: %w", err)
	}
	st.RecentSignups = []model.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan account: %w", err)
		}
		st.RecentSignups = append(st.RecentSignups, *a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent signups: %w", err)
	}

	st.MonthlyActivity, err = s.monthlySignups(ctx)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *StatsStore) monthlySignups(ctx context.Context) ([]model.MonthlyActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m', created_at) AS month, COUNT(*)
		FROM accounts
		WHERE created_at >= datetime('now', 'start of month', ?)
		GROUP BY month
		ORDER BY month`,
		fmt.Sprintf("-%d months", activityMonths-1),
	)
	if err != nil {
		return nil, fmt.Errorf("monthly activity: %w", err)
	}
	defer rows.Close()

	activity := []model.MonthlyActivity{}
	for rows.Next() {
		var m model.MonthlyActivity
		var month sql.NullString
		if err := rows.Scan(&month, &m.Signups); err != nil {
			return nil, fmt.Errorf("scan monthly activity: %w", err)
		}
		m.Month = month.String
		activity = append(activity, m)
	}
	return activity, rows.Err()
}
