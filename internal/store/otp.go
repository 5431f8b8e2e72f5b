package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/textblast/internal/model"
)

// OTPStore keeps at most one code per (email, phone) pair. Absent halves of
// the pair are stored as empty strings so the unique key holds.
type OTPStore struct {
	db *sql.DB
}

func NewOTPStore(db *sql.DB) *OTPStore {
	return &OTPStore{db: db}
}

const otpCols = `id, email, phone, code, expires_at, created_at`

func scanOTP(scanner interface{ Scan(...any) error }) (*model.OTP, error) {
	var o model.OTP
	if err := scanner.Scan(&o.ID, &o.Email, &o.Phone, &o.Code, &o.ExpiresAt, &o.CreatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// Upsert replaces any existing code for the pair.
func (s *OTPStore) Upsert(ctx context.Context, email, phone, code string, expiresAt time.Time) (*model.OTP, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO otps (email, phone, code, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (email, phone) DO UPDATE SET code = excluded.code, expires_at = excluded.expires_at, created_at = CURRENT_TIMESTAMP`,
		email, phone, code, expiresAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert otp: %w", err)
	}
	return s.Get(ctx, email, phone)
}

func (s *OTPStore) Get(ctx context.Context, email, phone string) (*model.OTP, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+otpCols+` FROM otps WHERE email = ? AND phone = ?`, email, phone)
	o, err := scanOTP(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get otp: %w", err)
	}
	return o, nil
}

func (s *OTPStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM otps WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete otp: %w", err)
	}
	return nil
}

// DeleteExpiredBefore removes codes whose expiry is older than cutoff.
func (s *OTPStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM otps WHERE expires_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired otps: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
