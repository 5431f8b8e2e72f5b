package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/model"
)

// ContactStore persists contacts. Every query is scoped to the owning
// account; phone number and email are unique per account.
type ContactStore struct {
	db *sql.DB
}

func NewContactStore(db *sql.DB) *ContactStore {
	return &ContactStore{db: db}
}

func scanContact(scanner interface{ Scan(...any) error }) (*model.Contact, error) {
	var c model.Contact
	var tags string
	err := scanner.Scan(
		&c.ID, &c.AccountID, &c.FirstName, &c.LastName, &c.PhoneNumber,
		&c.Email, &tags, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return &c, nil
}

const contactCols = `id, account_id, first_name, last_name, phone_number, email, tags, created_at, updated_at`

type ContactInput struct {
	FirstName   string
	LastName    string
	PhoneNumber string
	Email       string
	Tags        []string
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func contactConflict(op string, err error) error {
	msg := "Contact already exists"
	switch {
	case strings.Contains(err.Error(), "contacts.email"):
		msg = "Email already exists"
	case strings.Contains(err.Error(), "contacts.phone_number"):
		msg = "Phone number already exists"
	}
	return apperr.Conflictf(op, "%s", msg)
}

func (s *ContactStore) Create(ctx context.Context, accountID int64, in ContactInput) (*model.Contact, error) {
	id, err := insertContact(ctx, s.db, accountID, in)
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, accountID, id)
}

func insertContact(ctx context.Context, q DBTX, accountID int64, in ContactInput) (int64, error) {
	tags, err := encodeTags(in.Tags)
	if err != nil {
		return 0, err
	}
	result, err := q.ExecContext(ctx,
		`INSERT INTO contacts (account_id, first_name, last_name, phone_number, email, tags) VALUES (?, ?, ?, ?, ?, ?)`,
		accountID, in.FirstName, in.LastName, in.PhoneNumber, in.Email, tags,
	)
	if isUniqueViolation(err) {
		return 0, contactConflict("contacts.create", err)
	}
	if err != nil {
		return 0, fmt.Errorf("insert contact: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// CreateBatch inserts all contacts in one transaction. Any collision, with an
// existing contact or within the batch, rejects the whole batch.
func (s *ContactStore) CreateBatch(ctx context.Context, accountID int64, inputs []ContactInput) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx)

	for i, in := range inputs {
		if _, err := insertContact(ctx, tx, accountID, in); err != nil {
			if e, ok := apperr.As(err); ok && e.Kind == apperr.Conflict {
				return 0, apperr.Conflictf("contacts.import", "row %d: %s", i+1, e.Message)
			}
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit contacts: %w", err)
	}
	return len(inputs), nil
}

func (s *ContactStore) GetByID(ctx context.Context, accountID, id int64) (*model.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactCols+` FROM contacts WHERE id = ? AND account_id = ?`, id, accountID)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// IDsByPhone maps phone numbers to contact ids for the given account. Numbers
// without a matching contact are absent from the map.
func (s *ContactStore) IDsByPhone(ctx context.Context, accountID int64, phones []string) (map[string]int64, error) {
	ids := make(map[string]int64)
	if len(phones) == 0 {
		return ids, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(phones)), ",")
	args := make([]any, 0, len(phones)+1)
	args = append(args, accountID)
	for _, p := range phones {
		args = append(args, p)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, phone_number FROM contacts WHERE account_id = ? AND phone_number IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("lookup contacts by phone: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var phone string
		if err := rows.Scan(&id, &phone); err != nil {
			return nil, fmt.Errorf("scan contact id: %w", err)
		}
		ids[phone] = id
	}
	return ids, rows.Err()
}

// List pages through an account's contacts. With p.All set every match is
// returned in one page.
func (s *ContactStore) List(ctx context.Context, accountID int64, p ListParams) (Page[model.Contact], error) {
	p = p.normalized()
	where := ` WHERE account_id = ?`
	args := []any{accountID}
	if p.Search != "" {
		where += ` AND (first_name LIKE ? ESCAPE '\' OR last_name LIKE ? ESCAPE '\' OR phone_number LIKE ? ESCAPE '\' OR email LIKE ? ESCAPE '\')`
		pat := likePattern(p.Search)
		args = append(args, pat, pat, pat, pat)
	}

	page := Page[model.Contact]{Items: []model.Contact{}, Page: p.Page, Limit: p.Limit}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`+where, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count contacts: %w", err)
	}

	query := `SELECT ` + contactCols + ` FROM contacts` + where + ` ORDER BY created_at DESC, id DESC`
	if p.All {
		page.Page, page.Limit = 1, int(page.Total)
	} else {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, p.Limit, p.offset())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return page, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return page, fmt.Errorf("scan contact: %w", err)
		}
		page.Items = append(page.Items, *c)
	}
	return page, rows.Err()
}

func (s *ContactStore) Update(ctx context.Context, accountID, id int64, in ContactInput) (*model.Contact, error) {
	tags, err := encodeTags(in.Tags)
	if err != nil {
		return nil, err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET first_name = ?, last_name = ?, phone_number = ?, email = ?, tags = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND account_id = ?`,
		in.FirstName, in.LastName, in.PhoneNumber, in.Email, tags, id, accountID,
	)
	if isUniqueViolation(err) {
		return nil, contactConflict("contacts.update", err)
	}
	if err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, accountID, id)
}

// Delete reports whether the contact existed.
func (s *ContactStore) Delete(ctx context.Context, accountID, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = ? AND account_id = ?`, id, accountID)
	if err != nil {
		return false, fmt.Errorf("delete contact: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
