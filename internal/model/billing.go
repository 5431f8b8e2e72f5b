package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentPending = "pending"
	PaymentSuccess = "success"
	PaymentFailed  = "failed"
)

type Plan struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Credits   int64           `json:"credits"`
	Price     decimal.Decimal `json:"price"`
	Features  []string        `json:"features"`
	Popular   bool            `json:"popular"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Payment struct {
	ID           int64           `json:"id"`
	Email        string          `json:"email"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	Credits      int64           `json:"credits"`
	SessionID    string          `json:"session_id"`
	PlanName     string          `json:"plan_name"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
