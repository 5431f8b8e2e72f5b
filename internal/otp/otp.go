// Package otp issues and checks short-lived numeric verification codes.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/carrier"
	"github.com/dukerupert/textblast/internal/store"
)

const (
	// TTL is how long a code stays valid.
	TTL = 5 * time.Minute
	// sweepAfter is how long an expired code is kept before Sweep deletes it.
	sweepAfter = 24 * time.Hour
)

type Mailer interface {
	SendOTP(ctx context.Context, to, code string, ttl time.Duration) error
}

type Texter interface {
	Send(ctx context.Context, m carrier.Message) (carrier.SendResult, error)
}

type Service struct {
	codes  *store.OTPStore
	mailer Mailer
	texter Texter
	logger *slog.Logger
	now    func() time.Time
}

func NewService(codes *store.OTPStore, mailer Mailer, texter Texter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		codes:  codes,
		mailer: mailer,
		texter: texter,
		logger: logger.With("component", "otp"),
		now:    time.Now,
	}
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func normalize(email, phone string) (string, string) {
	return strings.ToLower(strings.TrimSpace(email)), strings.TrimSpace(phone)
}

// Send creates or replaces the code for the (email, phone) pair and
// delivers it by email, or by SMS when only a phone number is given.
func (s *Service) Send(ctx context.Context, email, phone string) error {
	const op = "otp.send"
	email, phone = normalize(email, phone)
	if email == "" && phone == "" {
		return apperr.Invalid(op, "Validation failed", apperr.FieldError{Field: "email", Message: "email or phone is required"})
	}

	code, err := generateCode()
	if err != nil {
		return err
	}
	if _, err := s.codes.Upsert(ctx, email, phone, code, s.now().Add(TTL)); err != nil {
		return err
	}

	if email != "" {
		if err := s.mailer.SendOTP(ctx, email, code, TTL); err != nil {
			s.logger.Error("send otp email", "email", email, "error", err)
			return apperr.Wrap(apperr.Upstream, op, "Failed to send OTP email.", err)
		}
	} else {
		text := fmt.Sprintf("Your OTP code is %s. It will expire in %d minutes.", code, int(TTL.Minutes()))
		if _, err := s.texter.Send(ctx, carrier.Message{To: phone, Text: text}); err != nil {
			s.logger.Error("send otp sms", "phone", phone, "error", err)
			return apperr.Wrap(apperr.Upstream, op, "Failed to send OTP SMS.", err)
		}
	}

	s.logger.Info("otp sent", "email", email, "phone", phone)
	return nil
}

// Verify checks code against the live code for the pair and deletes it on
// success. A wrong code leaves the record in place.
func (s *Service) Verify(ctx context.Context, email, phone, code string) error {
	const op = "otp.verify"
	email, phone = normalize(email, phone)
	if email == "" && phone == "" {
		return apperr.Invalid(op, "Validation failed", apperr.FieldError{Field: "email", Message: "email or phone is required"})
	}

	rec, err := s.codes.Get(ctx, email, phone)
	if err != nil {
		return err
	}
	if rec == nil {
		return apperr.NotFoundf(op, "OTP not found. Please request a new one.")
	}
	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(strings.TrimSpace(code))) != 1 {
		return apperr.Invalid(op, "Invalid OTP. Please try again.")
	}
	if s.now().After(rec.ExpiresAt) {
		return apperr.New(apperr.Expired, op, "OTP expired. Please request a new one.")
	}

	return s.codes.Delete(ctx, rec.ID)
}

// Sweep deletes codes that expired more than a day ago.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	n, err := s.codes.DeleteExpiredBefore(ctx, s.now().Add(-sweepAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired otps removed", "count", n)
	}
	return n, nil
}
