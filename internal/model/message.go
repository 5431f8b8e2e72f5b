package model

import "time"

const (
	KindSMS = "sms"
	KindMMS = "mms"
)

// Message is an immutable record of one successful dispatch. ToNumber is
// always the number the carrier was given; ContactID is set when the number
// belongs to one of the sender's contacts.
type Message struct {
	ID               int64     `json:"id"`
	AccountID        int64     `json:"account_id"`
	ContactID        *int64    `json:"contact_id"`
	CampaignID       *int64    `json:"campaign_id"`
	ToNumber         string    `json:"to_number"`
	Content          string    `json:"content"`
	Kind             string    `json:"kind"`
	MediaURL         string    `json:"media_url,omitempty"`
	CarrierMessageID string    `json:"carrier_message_id,omitempty"`
	Cost             int64     `json:"cost"`
	CreatedAt        time.Time `json:"created_at"`
}

// Delivery outcome labels recorded per number in a campaign.
const (
	DeliverySent   = "Sent"
	DeliveryFailed = "Failed"
)

type DeliveryResult struct {
	Number string `json:"number"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type Campaign struct {
	ID        int64            `json:"id"`
	AccountID int64            `json:"account_id"`
	Content   string           `json:"content"`
	Kind      string           `json:"kind"`
	Total     int              `json:"total"`
	Sent      int              `json:"sent"`
	Failed    int              `json:"failed"`
	Cost      int64            `json:"cost"`
	Results   []DeliveryResult `json:"results"`
	CreatedAt time.Time        `json:"created_at"`
}
