package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/model"
)

type PlanStore struct {
	db *sql.DB
}

func NewPlanStore(db *sql.DB) *PlanStore {
	return &PlanStore{db: db}
}

func scanPlan(scanner interface{ Scan(...any) error }) (*model.Plan, error) {
	var p model.Plan
	var price, features string
	if err := scanner.Scan(&p.ID, &p.Name, &p.Credits, &price, &features, &p.Popular, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	if p.Features == nil {
		p.Features = []string{}
	}
	return &p, nil
}

const planCols = `id, name, credits, price, features, popular, created_at, updated_at`

type PlanInput struct {
	Name     string
	Credits  int64
	Price    decimal.Decimal
	Features []string
	Popular  bool
}

func (in PlanInput) encodedFeatures() (string, error) {
	features := in.Features
	if features == nil {
		features = []string{}
	}
	b, err := json.Marshal(features)
	if err != nil {
		return "", fmt.Errorf("encode features: %w", err)
	}
	return string(b), nil
}

func (s *PlanStore) Create(ctx context.Context, in PlanInput) (*model.Plan, error) {
	features, err := in.encodedFeatures()
	if err != nil {
		return nil, err
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO plans (name, credits, price, features, popular) VALUES (?, ?, ?, ?, ?)`,
		in.Name, in.Credits, in.Price.StringFixed(2), features, in.Popular,
	)
	if isUniqueViolation(err) {
		return nil, apperr.Conflictf("plans.create", "Plan %q already exists", in.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("insert plan: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *PlanStore) GetByID(ctx context.Context, id int64) (*model.Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planCols+` FROM plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

func (s *PlanStore) GetByName(ctx context.Context, name string) (*model.Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planCols+` FROM plans WHERE name = ?`, name)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan by name: %w", err)
	}
	return p, nil
}

// List returns plans ordered by credit grant, smallest first.
func (s *PlanStore) List(ctx context.Context) ([]model.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+planCols+` FROM plans ORDER BY credits, id`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	plans := []model.Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

func (s *PlanStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM plans`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count plans: %w", err)
	}
	return n, nil
}

func (s *PlanStore) Update(ctx context.Context, id int64, in PlanInput) (*model.Plan, error) {
	features, err := in.encodedFeatures()
	if err != nil {
		return nil, err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE plans SET name = ?, credits = ?, price = ?, features = ?, popular = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		in.Name, in.Credits, in.Price.StringFixed(2), features, in.Popular, id,
	)
	if isUniqueViolation(err) {
		return nil, apperr.Conflictf("plans.update", "Plan %q already exists", in.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("update plan: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, id)
}

func (s *PlanStore) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete plan: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
