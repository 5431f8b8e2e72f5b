package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/auth"
	"github.com/dukerupert/textblast/internal/ledger"
	"github.com/dukerupert/textblast/internal/model"
	"github.com/dukerupert/textblast/internal/store"
)

type UserHandler struct {
	accounts *store.AccountStore
	ledger   *ledger.Ledger
	logger   *slog.Logger
}

func NewUserHandler(accounts *store.AccountStore, l *ledger.Ledger, logger *slog.Logger) *UserHandler {
	return &UserHandler{accounts: accounts, ledger: l, logger: logger}
}

// List handles GET /user
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapAdmin); err != nil {
		writeError(w, h.logger, err)
		return
	}

	page, err := h.accounts.List(r.Context(), listParams(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

// canAccess reports whether p may act on account id.
func canAccess(p auth.Principal, id int64) bool {
	return p.AccountID == id || p.IsAdmin()
}

// Get handles GET /user/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapRead); err != nil {
		writeError(w, h.logger, err)
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !canAccess(p, id) {
		writeError(w, h.logger, apperr.Forbiddenf("users.get", "You can only view your own account"))
		return
	}

	a, err := h.accounts.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if a == nil {
		writeError(w, h.logger, apperr.NotFoundf("users.get", "User not found"))
		return
	}
	writeData(w, http.StatusOK, a)
}

type updateUserRequest struct {
	Name       *string `json:"name" validate:"omitempty,min=1,max=100"`
	Email      *string `json:"email" validate:"omitempty,email"`
	Phone      *string `json:"phone" validate:"omitempty,max=32"`
	Role       *string `json:"role" validate:"omitempty,oneof=admin member"`
	Permission *string `json:"permission" validate:"omitempty,oneof=read_only editor manager full"`
	Active     *bool   `json:"active"`
	Credits    *int64  `json:"credits" validate:"omitempty,gte=0"`
}

// Update handles PUT /user/{id}. Members may edit their own profile; role,
// permission, status and credits are admin only.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	const op = "users.update"
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapUpdate); err != nil {
		writeError(w, h.logger, err)
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !canAccess(p, id) {
		writeError(w, h.logger, apperr.Forbiddenf(op, "You can only update your own account"))
		return
	}

	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !p.IsAdmin() && (req.Role != nil || req.Permission != nil || req.Active != nil || req.Credits != nil) {
		writeError(w, h.logger, apperr.Forbiddenf(op, "Only admins can change role, permission, status or credits"))
		return
	}

	existing, err := h.accounts.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if existing == nil {
		writeError(w, h.logger, apperr.NotFoundf(op, "User not found"))
		return
	}

	upd := store.AccountUpdate{
		Name:       req.Name,
		Phone:      req.Phone,
		Role:       req.Role,
		Permission: req.Permission,
		Active:     req.Active,
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		upd.Email = &email
	}
	a, err := h.accounts.Update(r.Context(), id, upd)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if req.Credits != nil {
		if err := h.ledger.SetCredits(r.Context(), id, *req.Credits); err != nil {
			writeError(w, h.logger, err)
			return
		}
		if a, err = h.accounts.GetByID(r.Context(), id); err != nil {
			writeError(w, h.logger, err)
			return
		}
		h.logger.Info("credits set by admin", "account_id", id, "credits", *req.Credits, "admin_id", p.AccountID)
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "User updated successfully", "data": a})
}

// Delete handles DELETE /user/{id}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	const op = "users.delete"
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapAdmin); err != nil {
		writeError(w, h.logger, err)
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if id == p.AccountID {
		writeError(w, h.logger, apperr.Invalid(op, "You cannot delete your own account"))
		return
	}

	deleted, err := h.accounts.Delete(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !deleted {
		writeError(w, h.logger, apperr.NotFoundf(op, "User not found"))
		return
	}
	h.logger.Info("account deleted", "account_id", id, "admin_id", p.AccountID)
	writeMessage(w, http.StatusOK, "User deleted successfully")
}

type subUserRequest struct {
	Name       string `json:"name" validate:"required,max=100"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=6,max=72"`
	Phone      string `json:"phone" validate:"omitempty,max=32"`
	Permission string `json:"permission" validate:"omitempty,oneof=read_only editor manager full"`
}

// CreateSubUser handles POST /user/sub-user
func (h *UserHandler) CreateSubUser(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapAdmin); err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req subUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Permission == "" {
		req.Permission = model.PermissionReadOnly
	}

	a, err := h.accounts.Create(r.Context(), store.NewAccount{
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		Phone:        strings.TrimSpace(req.Phone),
		Role:         model.RoleMember,
		Permission:   req.Permission,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("sub-user created", "account_id", a.ID, "admin_id", p.AccountID)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": "User created successfully", "data": a})
}
