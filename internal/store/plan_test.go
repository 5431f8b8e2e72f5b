package store

import (
	"context"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/textblast/internal/apperr"
)

func TestPlanCRUD(t *testing.T) {
	ps := NewPlanStore(openTestDB(t))
	ctx := context.Background()

	p, err := ps.Create(ctx, PlanInput{
		Name:     "Pro",
		Credits:  500,
		Price:    decimal.RequireFromString("29.00"),
		Features: []string{"500 SMS Credits", "Priority Support"},
		Popular:  true,
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if !p.Popular || p.Credits != 500 {
		t.Errorf("plan = %+v", p)
	}
	if !reflect.DeepEqual(p.Features, []string{"500 SMS Credits", "Priority Support"}) {
		t.Errorf("features = %v", p.Features)
	}

	byName, _ := ps.GetByName(ctx, "Pro")
	if byName == nil || byName.ID != p.ID {
		t.Errorf("get by name = %+v", byName)
	}

	_, err = ps.Create(ctx, PlanInput{Name: "Pro", Credits: 1, Price: decimal.NewFromInt(1)})
	if !apperr.Is(err, apperr.Conflict) {
		t.Errorf("duplicate name err = %v, want conflict", err)
	}

	updated, err := ps.Update(ctx, p.ID, PlanInput{Name: "Pro", Credits: 600, Price: decimal.RequireFromString("34.50")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Credits != 600 || updated.Price.String() != "34.5" {
		t.Errorf("updated = %+v", updated)
	}
	if len(updated.Features) != 0 {
		t.Errorf("features = %v, want empty", updated.Features)
	}

	ok, err := ps.Delete(ctx, p.ID)
	if err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	if n, _ := ps.Count(ctx); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestPlanListOrderedByCredits(t *testing.T) {
	ps := NewPlanStore(openTestDB(t))
	ctx := context.Background()

	ps.Create(ctx, PlanInput{Name: "Enterprise", Credits: 2000, Price: decimal.NewFromInt(99)})
	ps.Create(ctx, PlanInput{Name: "Starter", Credits: 100, Price: decimal.NewFromInt(10)})

	plans, err := ps.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(plans) != 2 || plans[0].Name != "Starter" {
		t.Errorf("plans = %+v, want Starter first", plans)
	}
}
