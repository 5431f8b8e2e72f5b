package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/model"
	"github.com/dukerupert/textblast/internal/store"
)

// Session is returned to the client after signup or login.
type Session struct {
	Token     string         `json:"token"`
	ExpiresIn int64          `json:"expiresIn"`
	Account   *model.Account `json:"user"`
}

// Service signs accounts up and in.
type Service struct {
	accounts *store.AccountStore
	tokens   *Tokens
	logger   *slog.Logger
}

func NewService(accounts *store.AccountStore, tokens *Tokens, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{accounts: accounts, tokens: tokens, logger: logger.With("component", "auth")}
}

func (s *Service) session(a *model.Account) (*Session, error) {
	token, err := s.tokens.Issue(a.ID, a.Email, a.Role)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresIn: int64(s.tokens.TTL().Seconds()), Account: a}, nil
}

// Signup registers a new account. An account that a payment created
// before its owner signed up has no password yet and is claimed instead.
func (s *Service) Signup(ctx context.Context, name, email, password string) (*Session, error) {
	const op = "auth.signup"
	email = strings.ToLower(strings.TrimSpace(email))

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	a, err := s.accounts.Create(ctx, store.NewAccount{Name: strings.TrimSpace(name), Email: email, PasswordHash: hash})
	if apperr.Is(err, apperr.Conflict) {
		claimed, cerr := s.accounts.ClaimCredentials(ctx, email, strings.TrimSpace(name), hash)
		if cerr != nil {
			return nil, cerr
		}
		if !claimed {
			return nil, apperr.Conflictf(op, "Email already exists")
		}
		a, err = s.accounts.GetByEmail(ctx, email)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("account signed up", "account_id", a.ID, "email", email)
	return s.session(a)
}

func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	const op = "auth.login"
	email = strings.ToLower(strings.TrimSpace(email))

	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if a == nil || !CheckPassword(a.PasswordHash, password) {
		return nil, apperr.New(apperr.Unauthorized, op, "Invalid email or password")
	}
	if !a.Active {
		return nil, apperr.Forbiddenf(op, "Your account has been restricted")
	}

	if err := s.accounts.TouchLastActive(ctx, a.ID); err != nil {
		s.logger.Warn("touch last active", "account_id", a.ID, "error", err)
	}
	return s.session(a)
}

// Authenticate resolves a bearer token to a principal. Restricted accounts
// are refused.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	const op = "auth.authenticate"
	id, err := s.tokens.Parse(token)
	if err != nil {
		return Principal{}, apperr.Wrap(apperr.Unauthorized, op, "Invalid or expired token", err)
	}
	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return Principal{}, err
	}
	if a == nil {
		return Principal{}, apperr.New(apperr.Unauthorized, op, "Invalid or expired token")
	}
	if !a.Active {
		return Principal{}, apperr.Forbiddenf(op, "Your account has been restricted")
	}
	return Principal{AccountID: a.ID, Email: a.Email, Role: a.Role, Permission: a.Permission}, nil
}
