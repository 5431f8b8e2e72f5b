// Package seed installs the default credit plans.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/textblast/internal/store"
)

// DefaultPlans are offered on a fresh install.
var DefaultPlans = []store.PlanInput{
	{
		Name:     "Starter",
		Credits:  100,
		Price:    decimal.NewFromInt(10),
		Features: []string{"100 SMS credits", "Contact management", "Email support"},
	},
	{
		Name:     "Pro",
		Credits:  500,
		Price:    decimal.NewFromInt(29),
		Features: []string{"500 SMS credits", "Bulk campaigns", "MMS attachments", "Priority support"},
		Popular:  true,
	},
	{
		Name:     "Enterprise",
		Credits:  2000,
		Price:    decimal.NewFromInt(99),
		Features: []string{"2000 SMS credits", "Bulk campaigns", "MMS attachments", "Dedicated number", "Account manager"},
	},
}

// Plans inserts DefaultPlans when the plans table is empty and reports how
// many were created. An existing catalogue is never touched.
func Plans(ctx context.Context, plans *store.PlanStore, logger *slog.Logger) (int, error) {
	n, err := plans.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count plans: %w", err)
	}
	if n > 0 {
		logger.Debug("plans already present, skipping seed", "count", n)
		return 0, nil
	}

	for _, p := range DefaultPlans {
		if _, err := plans.Create(ctx, p); err != nil {
			return 0, fmt.Errorf("seed plan %s: %w", p.Name, err)
		}
	}
	logger.Info("seeded default plans", "count", len(DefaultPlans))
	return len(DefaultPlans), nil
}
