// Package ledger owns every mutation of an account's credit balance.
//
// Debits are a single conditional UPDATE, so two concurrent spenders can
// never both pass the balance check and drive the balance below zero.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/store"
)

// Balance is the credit position of one account.
type Balance struct {
	AccountID        int64 `json:"account_id"`
	Credits          int64 `json:"credits"`
	CreditsUsed      int64 `json:"credits_used"`
	CreditsPurchased int64 `json:"credits_purchased"`
}

// Observer is told about every committed balance change.
type Observer interface {
	BalanceChanged(accountID int64, delta int64, reason string)
}

// Reasons passed to Observer.
const (
	ReasonDebit  = "debit"
	ReasonRefund = "refund"
	ReasonCredit = "credit"
	ReasonAdjust = "adjust"
)

type Ledger struct {
	db       *sql.DB
	observer Observer
}

func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// SetObserver registers o to receive balance changes. Pass nil to disable.
func (l *Ledger) SetObserver(o Observer) {
	l.observer = o
}

func (l *Ledger) notify(accountID, delta int64, reason string) {
	if l.observer != nil {
		l.observer.BalanceChanged(accountID, delta, reason)
	}
}

func (l *Ledger) GetBalance(ctx context.Context, accountID int64) (Balance, error) {
	b := Balance{AccountID: accountID}
	err := l.db.QueryRowContext(ctx,
		`SELECT credits, credits_used, credits_purchased FROM accounts WHERE id = ?`, accountID,
	).Scan(&b.Credits, &b.CreditsUsed, &b.CreditsPurchased)
	if err == sql.ErrNoRows {
		return b, apperr.NotFoundf("ledger.balance", "Account not found")
	}
	if err != nil {
		return b, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

// Debit removes amount credits from the account and adds them to its used
// counter. It fails with InsufficientCredits when the balance is smaller
// than amount, leaving the balance untouched.
func (l *Ledger) Debit(ctx context.Context, accountID, amount int64) error {
	const op = "ledger.debit"
	if amount <= 0 {
		return apperr.Invalid(op, "debit amount must be positive")
	}

	result, err := l.db.ExecContext(ctx,
		`UPDATE accounts SET credits = credits - ?, credits_used = credits_used + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND credits >= ?`,
		amount, amount, accountID, amount,
	)
	if err != nil {
		return fmt.Errorf("debit credits: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Either the account is gone or the guard rejected the debit.
		if _, err := l.GetBalance(ctx, accountID); err != nil {
			return err
		}
		return apperr.New(apperr.InsufficientCredits, op, "Insufficient credits")
	}

	l.notify(accountID, -amount, ReasonDebit)
	return nil
}

// Refund returns credits taken by a Debit whose purpose did not complete.
func (l *Ledger) Refund(ctx context.Context, accountID, amount int64) error {
	if amount <= 0 {
		return apperr.Invalid("ledger.refund", "refund amount must be positive")
	}
	result, err := l.db.ExecContext(ctx,
		`UPDATE accounts SET credits = credits + ?, credits_used = MAX(credits_used - ?, 0), updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		amount, amount, accountID,
	)
	if err != nil {
		return fmt.Errorf("refund credits: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.NotFoundf("ledger.refund", "Account not found")
	}

	l.notify(accountID, amount, ReasonRefund)
	return nil
}

// Credit adds purchased credits to the account with the given email and
// records the plan, creating the account when it does not exist yet. It runs
// on q so callers can make it part of a larger transaction; observers are
// notified by CreditCommitted once that transaction commits.
func (l *Ledger) Credit(ctx context.Context, q store.DBTX, email string, amount int64, plan string) (int64, error) {
	const op = "ledger.credit"
	email = strings.TrimSpace(email)
	if email == "" {
		return 0, apperr.Invalid(op, "email is required")
	}
	if amount <= 0 {
		return 0, apperr.Invalid(op, "credit amount must be positive")
	}
	if q == nil {
		q = l.db
	}

	var accountID int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO accounts (email, credits, credits_purchased, plan) VALUES (?, ?, ?, ?)
		 ON CONFLICT (email) DO UPDATE SET
		     credits = credits + excluded.credits,
		     credits_purchased = credits_purchased + excluded.credits_purchased,
		     plan = excluded.plan,
		     updated_at = CURRENT_TIMESTAMP
		 RETURNING id`,
		email, amount, amount, plan,
	).Scan(&accountID)
	if err != nil {
		return 0, fmt.Errorf("credit account: %w", err)
	}
	return accountID, nil
}

// CreditCommitted notifies observers of a credit applied through Credit.
func (l *Ledger) CreditCommitted(accountID, amount int64) {
	l.notify(accountID, amount, ReasonCredit)
}

// SetCredits overwrites the balance of an account. It is the admin path for
// manual corrections and does not touch the used or purchased counters.
func (l *Ledger) SetCredits(ctx context.Context, accountID, credits int64) error {
	const op = "ledger.set"
	if credits < 0 {
		return apperr.Invalid(op, "credits cannot be negative", apperr.FieldError{Field: "credits", Message: "must be zero or more"})
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var before int64
	err = tx.QueryRowContext(ctx, `SELECT credits FROM accounts WHERE id = ?`, accountID).Scan(&before)
	if err == sql.ErrNoRows {
		return apperr.NotFoundf(op, "Account not found")
	}
	if err != nil {
		return fmt.Errorf("get credits: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET credits = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, credits, accountID,
	); err != nil {
		return fmt.Errorf("set credits: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if delta := credits - before; delta != 0 {
		l.notify(accountID, delta, ReasonAdjust)
	}
	return nil
}
