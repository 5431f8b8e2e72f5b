package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/model"
)

type PaymentStore struct {
	db *sql.DB
}

func NewPaymentStore(db *sql.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

func scanPayment(scanner interface{ Scan(...any) error }) (*model.Payment, error) {
	var p model.Payment
	var amount string
	err := scanner.Scan(
		&p.ID, &p.Email, &p.Status, &amount, &p.Credits, &p.SessionID,
		&p.PlanName, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return &p, nil
}

const paymentCols = `id, email, status, amount, credits, session_id, plan_name, error_message, created_at, updated_at`

// CreatePending records a checkout attempt in the pending state.
func (s *PaymentStore) CreatePending(ctx context.Context, email, sessionID, planName string, credits int64, amount decimal.Decimal) (*model.Payment, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (email, status, amount, credits, session_id, plan_name) VALUES (?, 'pending', ?, ?, ?, ?)`,
		email, amount.StringFixed(2), credits, sessionID, planName,
	)
	if isUniqueViolation(err) {
		return nil, apperr.Conflictf("payments.create", "payment for session %s already exists", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	return s.GetBySessionID(ctx, nil, sessionID)
}

func (s *PaymentStore) GetBySessionID(ctx context.Context, q DBTX, sessionID string) (*model.Payment, error) {
	if q == nil {
		q = s.db
	}
	row := q.QueryRowContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE session_id = ?`, sessionID)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment by session: %w", err)
	}
	return p, nil
}

// Settle moves a pending payment to a terminal status. It reports false when
// the payment is missing or already terminal, so a payment transitions at
// most once.
func (s *PaymentStore) Settle(ctx context.Context, q DBTX, sessionID, status, errorMessage string) (bool, error) {
	if q == nil {
		q = s.db
	}
	result, err := q.ExecContext(ctx,
		`UPDATE payments SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE session_id = ? AND status = 'pending'`,
		status, errorMessage, sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("settle payment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// List returns payments newest first. An empty email lists every payment.
func (s *PaymentStore) List(ctx context.Context, email string, p ListParams) (Page[model.Payment], error) {
	p = p.normalized()
	where := ""
	var args []any
	if email != "" {
		where = ` WHERE email = ?`
		args = append(args, email)
	}

	page := Page[model.Payment]{Items: []model.Payment{}, Page: p.Page, Limit: p.Limit}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments`+where, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count payments: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentCols+` FROM payments`+where+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, p.Limit, p.offset())...,
	)
	if err != nil {
		return page, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		pay, err := scanPayment(rows)
		if err != nil {
			return page, fmt.Errorf("scan payment: %w", err)
		}
		page.Items = append(page.Items, *pay)
	}
	return page, rows.Err()
}

// MarkEventProcessed records that an event type was applied for a session.
// It reports false if the marker already existed.
func (s *PaymentStore) MarkEventProcessed(ctx context.Context, q DBTX, eventID, sessionID, eventType string) (bool, error) {
	if q == nil {
		q = s.db
	}
	result, err := q.ExecContext(ctx,
		`INSERT INTO webhook_events (event_id, session_id, event_type) VALUES (?, ?, ?)
		 ON CONFLICT (session_id, event_type) DO NOTHING`,
		eventID, sessionID, eventType,
	)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
