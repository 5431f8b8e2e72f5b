package model

import "time"

const (
	FeedbackPending  = "pending"
	FeedbackInReview = "in_review"
	FeedbackResolved = "resolved"
)

type Feedback struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"account_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
