package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/textblast/internal/model"
)

type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func scanMessage(scanner interface{ Scan(...any) error }) (*model.Message, error) {
	var m model.Message
	var contactID, campaignID sql.NullInt64
	err := scanner.Scan(
		&m.ID, &m.AccountID, &contactID, &campaignID, &m.ToNumber, &m.Content,
		&m.Kind, &m.MediaURL, &m.CarrierMessageID, &m.Cost, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if contactID.Valid {
		m.ContactID = &contactID.Int64
	}
	if campaignID.Valid {
		m.CampaignID = &campaignID.Int64
	}
	return &m, nil
}

const messageCols = `id, account_id, contact_id, campaign_id, to_number, content, kind, media_url, carrier_message_id, cost, created_at`

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

// Insert writes one message using q, which may be a transaction, and sets
// its ID.
func (s *MessageStore) Insert(ctx context.Context, q DBTX, m *model.Message) error {
	if q == nil {
		q = s.db
	}
	result, err := q.ExecContext(ctx,
		`INSERT INTO messages (account_id, contact_id, campaign_id, to_number, content, kind, media_url, carrier_message_id, cost)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.AccountID, nullInt64(m.ContactID), nullInt64(m.CampaignID), m.ToNumber, m.Content,
		m.Kind, m.MediaURL, m.CarrierMessageID, m.Cost,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id
	return nil
}

func (s *MessageStore) GetByID(ctx context.Context, accountID, id int64) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageCols+` FROM messages WHERE id = ? AND account_id = ?`, id, accountID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (s *MessageStore) List(ctx context.Context, accountID int64, p ListParams) (Page[model.Message], error) {
	p = p.normalized()
	page := Page[model.Message]{Items: []model.Message{}, Page: p.Page, Limit: p.Limit}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE account_id = ?`, accountID).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages WHERE account_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`,
		accountID, p.Limit, p.offset(),
	)
	if err != nil {
		return page, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return page, fmt.Errorf("scan message: %w", err)
		}
		page.Items = append(page.Items, *m)
	}
	return page, rows.Err()
}

func (s *MessageStore) CountByAccount(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE account_id = ?`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// InsertCampaign writes the campaign summary row and sets its ID.
func (s *MessageStore) InsertCampaign(ctx context.Context, q DBTX, c *model.Campaign) error {
	if q == nil {
		q = s.db
	}
	results, err := json.Marshal(c.Results)
	if err != nil {
		return fmt.Errorf("encode campaign results: %w", err)
	}
	result, err := q.ExecContext(ctx,
		`INSERT INTO campaigns (account_id, content, kind, total, sent, failed, cost, results) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.AccountID, c.Content, c.Kind, c.Total, c.Sent, c.Failed, c.Cost, string(results),
	)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	c.ID = id
	return nil
}

func (s *MessageStore) GetCampaign(ctx context.Context, accountID, id int64) (*model.Campaign, error) {
	var c model.Campaign
	var results string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, content, kind, total, sent, failed, cost, results, created_at
		 FROM campaigns WHERE id = ? AND account_id = ?`, id, accountID,
	).Scan(&c.ID, &c.AccountID, &c.Content, &c.Kind, &c.Total, &c.Sent, &c.Failed, &c.Cost, &results, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if err := json.Unmarshal([]byte(results), &c.Results); err != nil {
		return nil, fmt.Errorf("decode campaign results: %w", err)
	}
	return &c, nil
}
