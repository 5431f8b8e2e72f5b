// Package push delivers Web Push notifications to an account's browsers.
package push

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dukerupert/textblast/internal/model"
)

// ErrExpired is returned when a push subscription is no longer valid (410 Gone).
var ErrExpired = errors.New("push subscription expired")

// Payload is the JSON sent to the push service.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
}

func (c Config) Enabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// Subscriptions is the storage the service reads and prunes.
type Subscriptions interface {
	ListByAccount(ctx context.Context, accountID int64) ([]model.PushSubscription, error)
	DeleteByID(ctx context.Context, id int64) error
}

type sendFunc func(ctx context.Context, data []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// Service handles sending web push notifications.
type Service struct {
	cfg    Config
	subs   Subscriptions
	send   sendFunc
	logger *slog.Logger
}

func NewService(cfg Config, subs Subscriptions, logger *slog.Logger) *Service {
	if cfg.Subscriber == "" {
		cfg.Subscriber = "mailto:noreply@textblast.app"
	}
	return &Service{
		cfg:    cfg,
		subs:   subs,
		send:   webpush.SendNotificationWithContext,
		logger: logger,
	}
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (s *Service) VAPIDPublicKey() string {
	return s.cfg.VAPIDPublicKey
}

// Send sends a push notification to a subscription.
func (s *Service) Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := s.send(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		Subscriber:      s.cfg.Subscriber,
		TTL:             86400,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}

	return nil
}

// Notify sends payload to every subscription of the account and removes
// the ones the push service reports as gone.
func (s *Service) Notify(ctx context.Context, accountID int64, payload Payload) error {
	if !s.cfg.Enabled() {
		return nil
	}
	subs, err := s.subs.ListByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	for i := range subs {
		sub := &subs[i]
		err := s.Send(ctx, sub, payload)
		switch {
		case errors.Is(err, ErrExpired):
			if err := s.subs.DeleteByID(ctx, sub.ID); err != nil {
				s.logger.Error("delete expired subscription", "id", sub.ID, "error", err)
			}
		case err != nil:
			s.logger.Warn("push delivery failed", "account_id", accountID, "subscription_id", sub.ID, "error", err)
		}
	}
	return nil
}

// Publish turns selected realtime events into push notifications. Delivery
// happens in the background so callers are never held up by push services.
func (s *Service) Publish(accountID int64, eventType string, payload any) {
	p, ok := notificationFor(eventType, payload)
	if !ok || !s.cfg.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Notify(ctx, accountID, p); err != nil {
			s.logger.Error("push notify", "account_id", accountID, "type", eventType, "error", err)
		}
	}()
}

// BalanceChanged notifies the account when purchased credits land.
func (s *Service) BalanceChanged(accountID, delta int64, reason string) {
	if reason != "credit" || delta <= 0 {
		return
	}
	s.Publish(accountID, "credits_added", delta)
}

func notificationFor(eventType string, payload any) (Payload, bool) {
	switch eventType {
	case "campaign_completed":
		if c, ok := payload.(*model.Campaign); ok {
			return Payload{
				Title: "Campaign finished",
				Body:  fmt.Sprintf("%d sent, %d failed", c.Sent, c.Failed),
				URL:   fmt.Sprintf("/campaigns/%d", c.ID),
				Tag:   "campaign",
			}, true
		}
		return Payload{Title: "Campaign finished", Tag: "campaign"}, true
	case "credits_added":
		if n, ok := payload.(int64); ok {
			return Payload{Title: "Credits added", Body: fmt.Sprintf("%d credits were added to your account.", n), URL: "/plans", Tag: "credits"}, true
		}
	case "payment_updated":
		return Payload{Title: "Payment update", Body: "Your payment status has changed.", URL: "/payments", Tag: "payment"}, true
	}
	return Payload{}, false
}

// GenerateVAPIDKeys generates a new ECDSA P-256 key pair for VAPID.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	pubBytes := elliptic.Marshal(elliptic.P256(), key.PublicKey.X, key.PublicKey.Y)
	publicKey = base64.RawURLEncoding.EncodeToString(pubBytes)
	privateKey = base64.RawURLEncoding.EncodeToString(key.D.FillBytes(make([]byte, 32)))

	return publicKey, privateKey, nil
}
