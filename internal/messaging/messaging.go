// Package messaging sends SMS and MMS on behalf of an account and meters
// them against its credit balance.
//
// Credits are reserved with a conditional debit before the carrier is
// called and refunded if the dispatch does not go through, so a balance is
// never spent twice by concurrent sends.
package messaging

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/carrier"
	"github.com/dukerupert/textblast/internal/ledger"
	"github.com/dukerupert/textblast/internal/model"
	"github.com/dukerupert/textblast/internal/store"
)

// Credit costs per message.
const (
	CostSMS  int64 = 1
	CostMMS  int64 = 3
	CostBulk int64 = 2
)

// Event types published to the sender's realtime channel.
const (
	EventMessageSent       = "message_sent"
	EventCampaignCompleted = "campaign_completed"
)

// Carrier dispatches one message.
type Carrier interface {
	Send(ctx context.Context, m carrier.Message) (carrier.SendResult, error)
}

// MediaStore turns an attachment into a URL the carrier can fetch.
type MediaStore interface {
	Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

// Publisher delivers an event to every connection of one account.
type Publisher interface {
	Publish(accountID int64, eventType string, payload any)
}

// Recorder counts dispatch outcomes.
type Recorder interface {
	MessageDispatched(kind, status string)
}

type Deps struct {
	DB        *sql.DB
	Ledger    *ledger.Ledger
	Accounts  *store.AccountStore
	Contacts  *store.ContactStore
	Messages  *store.MessageStore
	Carrier   Carrier
	Media     MediaStore
	Publisher Publisher
	Recorder  Recorder
	Logger    *slog.Logger
}

type Orchestrator struct {
	db        *sql.DB
	ledger    *ledger.Ledger
	accounts  *store.AccountStore
	contacts  *store.ContactStore
	messages  *store.MessageStore
	carrier   Carrier
	media     MediaStore
	publisher Publisher
	recorder  Recorder
	logger    *slog.Logger
}

func New(d Deps) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		db:        d.DB,
		ledger:    d.Ledger,
		accounts:  d.Accounts,
		contacts:  d.Contacts,
		messages:  d.Messages,
		carrier:   d.Carrier,
		media:     d.Media,
		publisher: d.Publisher,
		recorder:  d.Recorder,
		logger:    logger.With("component", "messaging"),
	}
}

func (o *Orchestrator) publish(accountID int64, eventType string, payload any) {
	if o.publisher != nil {
		o.publisher.Publish(accountID, eventType, payload)
	}
}

func (o *Orchestrator) record(kind, status string) {
	if o.recorder != nil {
		o.recorder.MessageDispatched(kind, status)
	}
}

func (o *Orchestrator) refund(ctx context.Context, accountID, amount int64) {
	// The reservation must come back even if the request was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := o.ledger.Refund(ctx, accountID, amount); err != nil {
		o.logger.Error("refund failed", "account_id", accountID, "amount", amount, "error", err)
	}
}

func (o *Orchestrator) requireAccount(ctx context.Context, op string, accountID int64) error {
	a, err := o.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if a == nil {
		return apperr.NotFoundf(op, "Account not found")
	}
	return nil
}

func normalizeKind(op, kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", model.KindSMS:
		return model.KindSMS, nil
	case model.KindMMS:
		return model.KindMMS, nil
	default:
		return "", apperr.Invalid(op, "Validation failed", apperr.FieldError{Field: "type", Message: "must be sms or mms"})
	}
}

// Attachment is an uploaded file to send as MMS media.
type Attachment struct {
	Name        string
	ContentType string
	Body        io.Reader
}

type SendRequest struct {
	AccountID  int64
	ContactID  int64
	Body       string
	Kind       string
	Attachment *Attachment
}

type SendResult struct {
	Message *model.Message `json:"data"`
	Credits int64          `json:"credits"`
}

// SendMessage sends one message to a contact of the account. An attachment
// forces MMS. The cost is reserved before dispatch and refunded when the
// upload or the carrier call fails.
func (o *Orchestrator) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	const op = "messaging.send"

	kind, err := normalizeKind(op, req.Kind)
	if err != nil {
		return nil, err
	}
	if req.Attachment != nil {
		kind = model.KindMMS
	}
	body := strings.TrimSpace(req.Body)
	if body == "" && req.Attachment == nil {
		return nil, apperr.Invalid(op, "Validation failed", apperr.FieldError{Field: "content", Message: "is required"})
	}

	if err := o.requireAccount(ctx, op, req.AccountID); err != nil {
		return nil, err
	}
	contact, err := o.contacts.GetByID(ctx, req.AccountID, req.ContactID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, apperr.NotFoundf(op, "Contact not found")
	}

	cost := CostSMS
	if kind == model.KindMMS {
		cost = CostMMS
	}
	if err := o.ledger.Debit(ctx, req.AccountID, cost); err != nil {
		return nil, err
	}

	out := carrier.Message{To: contact.PhoneNumber, Text: body, Kind: kind}
	if req.Attachment != nil {
		url, err := o.media.Upload(ctx, req.Attachment.Name, req.Attachment.ContentType, req.Attachment.Body)
		if err != nil {
			o.refund(ctx, req.AccountID, cost)
			o.logger.Error("media upload failed", "account_id", req.AccountID, "error", err)
			return nil, apperr.UpstreamError(op, err)
		}
		out.MediaURLs = []string{url}
	}

	sent, err := o.carrier.Send(ctx, out)
	if err != nil {
		o.refund(ctx, req.AccountID, cost)
		o.record(kind, "failed")
		o.logger.Warn("carrier send failed", "account_id", req.AccountID, "contact_id", contact.ID, "error", err)
		return nil, apperr.UpstreamError(op, err)
	}
	o.record(kind, "sent")

	msg := &model.Message{
		AccountID:        req.AccountID,
		ContactID:        &contact.ID,
		ToNumber:         contact.PhoneNumber,
		Content:          body,
		Kind:             kind,
		CarrierMessageID: sent.ID,
		Cost:             cost,
	}
	if len(out.MediaURLs) > 0 {
		msg.MediaURL = out.MediaURLs[0]
	}
	// The carrier has accepted the message, so the send succeeds and the
	// debit stands even if the history row cannot be written.
	if err := o.messages.Insert(context.WithoutCancel(ctx), nil, msg); err != nil {
		o.logger.Error("record sent message", "account_id", req.AccountID, "carrier_id", sent.ID, "error", err)
	}

	balance, err := o.ledger.GetBalance(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	o.publish(req.AccountID, EventMessageSent, msg)
	o.logger.Info("message sent", "account_id", req.AccountID, "message_id", msg.ID, "kind", kind, "cost", cost)
	return &SendResult{Message: msg, Credits: balance.Credits}, nil
}

type CampaignRequest struct {
	AccountID int64
	Numbers   []string
	Body      string
	Kind      string
}

type CampaignResult struct {
	CampaignID *int64                 `json:"campaign_id"`
	Message    string                 `json:"message"`
	Results    []model.DeliveryResult `json:"results"`
	Sent       int                    `json:"sent"`
	Failed     int                    `json:"failed"`
	Cost       int64                  `json:"cost"`
	Credits    int64                  `json:"credits"`
}

// normalizeNumbers trims every number. Repeated numbers are kept: each
// entry is dispatched and charged on its own.
func normalizeNumbers(op string, numbers []string) ([]string, error) {
	if len(numbers) == 0 {
		return nil, apperr.Invalid(op, "Validation failed", apperr.FieldError{Field: "numbers", Message: "at least one number is required"})
	}
	out := make([]string, 0, len(numbers))
	for i, n := range numbers {
		n = strings.TrimSpace(n)
		if n == "" {
			return nil, apperr.Invalid(op, "Validation failed",
				apperr.FieldError{Field: fmt.Sprintf("numbers[%d]", i), Message: "must not be empty"})
		}
		out = append(out, n)
	}
	return out, nil
}

// SendCampaign sends the same text to every number at the flat bulk rate.
// The whole batch is reserved upfront. Individual carrier failures are
// reported per number and do not stop the loop. If nothing was delivered
// the reservation is refunded; otherwise the campaign and its delivered
// messages are stored in one transaction.
func (o *Orchestrator) SendCampaign(ctx context.Context, req CampaignRequest) (*CampaignResult, error) {
	const op = "messaging.send_bulk"

	kind, err := normalizeKind(op, req.Kind)
	if err != nil {
		return nil, err
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, apperr.Invalid(op, "Validation failed", apperr.FieldError{Field: "content", Message: "is required"})
	}
	numbers, err := normalizeNumbers(op, req.Numbers)
	if err != nil {
		return nil, err
	}
	if err := o.requireAccount(ctx, op, req.AccountID); err != nil {
		return nil, err
	}

	total := CostBulk * int64(len(numbers))
	if err := o.ledger.Debit(ctx, req.AccountID, total); err != nil {
		return nil, err
	}

	contactIDs, err := o.contacts.IDsByPhone(ctx, req.AccountID, numbers)
	if err != nil {
		o.refund(ctx, req.AccountID, total)
		return nil, err
	}

	result := &CampaignResult{Message: "Bulk messages processed", Results: make([]model.DeliveryResult, 0, len(numbers))}
	var delivered []*model.Message
	for _, number := range numbers {
		if err := ctx.Err(); err != nil {
			result.Results = append(result.Results, model.DeliveryResult{Number: number, Status: model.DeliveryFailed, Detail: err.Error()})
			o.record(kind, "failed")
			continue
		}

		sent, err := o.carrier.Send(ctx, carrier.Message{To: number, Text: body, Kind: kind})
		if err != nil {
			result.Results = append(result.Results, model.DeliveryResult{Number: number, Status: model.DeliveryFailed, Detail: err.Error()})
			o.record(kind, "failed")
			o.logger.Warn("bulk send failed", "account_id", req.AccountID, "number", number, "error", err)
			continue
		}
		o.record(kind, "sent")
		result.Results = append(result.Results, model.DeliveryResult{Number: number, Status: model.DeliverySent, Detail: sent.Status})

		msg := &model.Message{
			AccountID:        req.AccountID,
			ToNumber:         number,
			Content:          body,
			Kind:             kind,
			CarrierMessageID: sent.ID,
			Cost:             CostBulk,
		}
		if id, ok := contactIDs[number]; ok {
			msg.ContactID = &id
		}
		delivered = append(delivered, msg)
	}
	result.Sent = len(delivered)
	result.Failed = len(numbers) - len(delivered)

	if len(delivered) == 0 {
		o.refund(ctx, req.AccountID, total)
	} else {
		result.Cost = total
		campaign := &model.Campaign{
			AccountID: req.AccountID,
			Content:   body,
			Kind:      kind,
			Total:     len(numbers),
			Sent:      result.Sent,
			Failed:    result.Failed,
			Cost:      total,
			Results:   result.Results,
		}
		if err := o.storeCampaign(context.WithoutCancel(ctx), campaign, delivered); err != nil {
			o.logger.Error("record campaign", "account_id", req.AccountID, "sent", result.Sent, "error", err)
			return nil, err
		}
		result.CampaignID = &campaign.ID
		o.publish(req.AccountID, EventCampaignCompleted, campaign)
	}

	balance, err := o.ledger.GetBalance(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	result.Credits = balance.Credits

	o.logger.Info("campaign processed", "account_id", req.AccountID, "sent", result.Sent, "failed", result.Failed, "cost", result.Cost)
	return result, nil
}

func (o *Orchestrator) storeCampaign(ctx context.Context, c *model.Campaign, msgs []*model.Message) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := o.messages.InsertCampaign(ctx, tx, c); err != nil {
		return err
	}
	for _, m := range msgs {
		m.CampaignID = &c.ID
		if err := o.messages.Insert(ctx, tx, m); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit campaign: %w", err)
	}
	return nil
}

func (o *Orchestrator) ListMessages(ctx context.Context, accountID int64, p store.ListParams) (store.Page[model.Message], error) {
	return o.messages.List(ctx, accountID, p)
}

func (o *Orchestrator) GetCampaign(ctx context.Context, accountID, id int64) (*model.Campaign, error) {
	c, err := o.messages.GetCampaign(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.NotFoundf("messaging.campaign", "Campaign not found")
	}
	return c, nil
}
