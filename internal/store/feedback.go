package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/textblast/internal/model"
)

type FeedbackStore struct {
	db *sql.DB
}

func NewFeedbackStore(db *sql.DB) *FeedbackStore {
	return &FeedbackStore{db: db}
}

func scanFeedback(scanner interface{ Scan(...any) error }) (*model.Feedback, error) {
	var f model.Feedback
	err := scanner.Scan(
		&f.ID, &f.AccountID, &f.Title, &f.Description, &f.Category,
		&f.Priority, &f.Status, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

const feedbackCols = `id, account_id, title, description, category, priority, status, created_at, updated_at`

func (s *FeedbackStore) Create(ctx context.Context, accountID int64, title, description, category, priority string) (*model.Feedback, error) {
	if priority == "" {
		priority = "medium"
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (account_id, title, description, category, priority) VALUES (?, ?, ?, ?, ?)`,
		accountID, title, description, category, priority,
	)
	if err != nil {
		return nil, fmt.Errorf("insert feedback: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *FeedbackStore) GetByID(ctx context.Context, id int64) (*model.Feedback, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+feedbackCols+` FROM feedback WHERE id = ?`, id)
	f, err := scanFeedback(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get feedback: %w", err)
	}
	return f, nil
}

// List pages through feedback newest first. accountID of 0 lists everyone's.
func (s *FeedbackStore) List(ctx context.Context, accountID int64, p ListParams) (Page[model.Feedback], error) {
	p = p.normalized()
	where := ""
	var args []any
	if accountID != 0 {
		where = ` WHERE account_id = ?`
		args = append(args, accountID)
	}

	page := Page[model.Feedback]{Items: []model.Feedback{}, Page: p.Page, Limit: p.Limit}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback`+where, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count feedback: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedbackCols+` FROM feedback`+where+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, p.Limit, p.offset())...,
	)
	if err != nil {
		return page, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return page, fmt.Errorf("scan feedback: %w", err)
		}
		page.Items = append(page.Items, *f)
	}
	return page, rows.Err()
}

type FeedbackUpdate struct {
	Title       *string
	Description *string
	Category    *string
	Priority    *string
	Status      *string
}

func (s *FeedbackStore) Update(ctx context.Context, id int64, u FeedbackUpdate) (*model.Feedback, error) {
	var sets []string
	var args []any
	for _, f := range []struct {
		col string
		v   *string
	}{
		{"title", u.Title},
		{"description", u.Description},
		{"category", u.Category},
		{"priority", u.Priority},
		{"status", u.Status},
	} {
		if f.v != nil {
			sets = append(sets, f.col+" = ?")
			args = append(args, *f.v)
		}
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
		_, err := s.db.ExecContext(ctx,
			`UPDATE feedback SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
			append(args, id)...,
		)
		if err != nil {
			return nil, fmt.Errorf("update feedback: %w", err)
		}
	}
	return s.GetByID(ctx, id)
}
