package model

type MonthlyActivity struct {
	Month   string `json:"month"`
	Signups int64  `json:"signups"`
}

type OverviewStats struct {
	TotalUsers        int64             `json:"total_users"`
	ActiveToday       int64             `json:"active_today"`
	RestrictedUsers   int64             `json:"restricted_users"`
	MessagesThisMonth int64             `json:"messages_this_month"`
	CreditsUsed       int64             `json:"credits_used"`
	RecentSignups     []Account         `json:"recent_signups"`
	MonthlyActivity   []MonthlyActivity `json:"monthly_activity"`
}
