package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/auth"
	"github.com/dukerupert/textblast/internal/store"
)

// WelcomeMailer greets new accounts.
type WelcomeMailer interface {
	SendWelcome(ctx context.Context, to, name, loginURL string) error
}

type AuthHandler struct {
	service  *auth.Service
	accounts *store.AccountStore
	mailer   WelcomeMailer
	baseURL  string
	logger   *slog.Logger
}

func NewAuthHandler(svc *auth.Service, accounts *store.AccountStore, mailer WelcomeMailer, baseURL string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, accounts: accounts, mailer: mailer, baseURL: baseURL, logger: logger}
}

func (h *AuthHandler) sendWelcome(ctx context.Context, email, name string) {
	if h.mailer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := h.mailer.SendWelcome(ctx, email, name, h.baseURL+"/login"); err != nil {
			h.logger.Warn("send welcome email", "email", email, "error", err)
		}
	}()
}

type signupRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// Signup handles POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	sess, err := h.service.Signup(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.sendWelcome(r.Context(), sess.Account.Email, sess.Account.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":   true,
		"message":   "Account created successfully",
		"token":     sess.Token,
		"expiresIn": sess.ExpiresIn,
		"user":      sess.Account,
	})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	sess, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Login successful",
		"token":     sess.Token,
		"expiresIn": sess.ExpiresIn,
		"user":      sess.Account,
	})
}

// Profile handles GET /auth/profile and GET /user/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapRead); err != nil {
		writeError(w, h.logger, err)
		return
	}

	a, err := h.accounts.GetByID(r.Context(), p.AccountID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if a == nil {
		writeError(w, h.logger, apperr.NotFoundf("auth.profile", "User not found"))
		return
	}
	writeData(w, http.StatusOK, a)
}
