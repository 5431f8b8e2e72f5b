package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/model"
)

type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var lastActive sql.NullTime
	err := scanner.Scan(
		&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.Phone,
		&a.Credits, &a.CreditsUsed, &a.CreditsPurchased, &a.Plan,
		&a.Active, &a.Role, &a.Permission, &lastActive, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastActive.Valid {
		a.LastActiveAt = &lastActive.Time
	}
	return &a, nil
}

const accountCols = `id, name, email, password_hash, phone, credits, credits_used, credits_purchased, plan, active, role, permission, last_active_at, created_at, updated_at`

type NewAccount struct {
	Name         string
	Email        string
	PasswordHash string
	Phone        string
	Role         string
	Permission   string
}

func (s *AccountStore) Create(ctx context.Context, na NewAccount) (*model.Account, error) {
	if na.Role == "" {
		na.Role = model.RoleMember
	}
	if na.Permission == "" {
		na.Permission = model.PermissionFull
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (name, email, password_hash, phone, role, permission) VALUES (?, ?, ?, ?, ?, ?)`,
		na.Name, na.Email, na.PasswordHash, na.Phone, na.Role, na.Permission,
	)
	if isUniqueViolation(err) {
		return nil, apperr.Conflictf("accounts.create", "Email already exists")
	}
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *AccountStore) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE email = ?`, strings.TrimSpace(email))
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

// List returns accounts newest first, optionally filtered by a substring of
// name or email.
func (s *AccountStore) List(ctx context.Context, p ListParams) (Page[model.Account], error) {
	p = p.normalized()
	where := ""
	var args []any
	if p.Search != "" {
		where = ` WHERE name LIKE ? ESCAPE '\' OR email LIKE ? ESCAPE '\'`
		pat := likePattern(p.Search)
		args = append(args, pat, pat)
	}

	page := Page[model.Account]{Items: []model.Account{}, Page: p.Page, Limit: p.Limit}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`+where, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count accounts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountCols+` FROM accounts`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, p.Limit, p.offset())...,
	)
	if err != nil {
		return page, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return page, fmt.Errorf("scan account: %w", err)
		}
		page.Items = append(page.Items, *a)
	}
	return page, rows.Err()
}

// AccountUpdate holds the profile fields that may change. Nil fields are left
// untouched. Balances are not here: they only move through the ledger.
type AccountUpdate struct {
	Name       *string
	Email      *string
	Phone      *string
	Plan       *string
	Active     *bool
	Role       *string
	Permission *string
}

func (s *AccountStore) Update(ctx context.Context, id int64, u AccountUpdate) (*model.Account, error) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Email != nil {
		add("email", strings.TrimSpace(*u.Email))
	}
	if u.Phone != nil {
		add("phone", *u.Phone)
	}
	if u.Plan != nil {
		add("plan", *u.Plan)
	}
	if u.Active != nil {
		add("active", *u.Active)
	}
	if u.Role != nil {
		add("role", *u.Role)
	}
	if u.Permission != nil {
		add("permission", *u.Permission)
	}
	if len(sets) == 0 {
		return s.GetByID(ctx, id)
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")

	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		append(args, id)...,
	)
	if isUniqueViolation(err) {
		return nil, apperr.Conflictf("accounts.update", "Email is already in use")
	}
	if err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}
	return s.GetByID(ctx, id)
}

// ClaimCredentials sets the name and password on an account that has none,
// which happens when a payment created the account before signup. It
// reports whether a row was claimed.
func (s *AccountStore) ClaimCredentials(ctx context.Context, email, name, passwordHash string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET name = ?, password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE email = ? AND password_hash = ''`,
		name, passwordHash, strings.TrimSpace(email),
	)
	if err != nil {
		return false, fmt.Errorf("claim account: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *AccountStore) TouchLastActive(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET last_active_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("touch last active: %w", err)
	}
	return nil
}

// Delete removes the account and, by cascade, its contacts, messages,
// feedback and push subscriptions. It reports whether a row existed.
func (s *AccountStore) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete account: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
