package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/auth"
	"github.com/dukerupert/textblast/internal/contactcsv"
	"github.com/dukerupert/textblast/internal/store"
)

const maxUploadSize = 5 << 20

type ContactHandler struct {
	contacts *store.ContactStore
	logger   *slog.Logger
}

func NewContactHandler(contacts *store.ContactStore, logger *slog.Logger) *ContactHandler {
	return &ContactHandler{contacts: contacts, logger: logger}
}

type contactRequest struct {
	FirstName   string   `json:"first_name" validate:"max=100"`
	LastName    string   `json:"last_name" validate:"max=100"`
	PhoneNumber string   `json:"phone_number" validate:"required,min=3,max=32"`
	Email       string   `json:"email" validate:"required,email"`
	Tags        []string `json:"tags" validate:"max=50,dive,max=50"`
}

func (req contactRequest) input() store.ContactInput {
	tags := make([]string, 0, len(req.Tags))
	for _, t := range req.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return store.ContactInput{
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		Tags:        tags,
	}
}

// List handles GET /contacts
func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapRead); err != nil {
		writeError(w, h.logger, err)
		return
	}

	page, err := h.contacts.List(r.Context(), p.AccountID, listParams(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

// Create handles POST /contacts
func (h *ContactHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapWrite); err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req contactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	c, err := h.contacts.Create(r.Context(), p.AccountID, req.input())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": "Contact created successfully", "data": c})
}

// Get handles GET /contacts/{id}
func (h *ContactHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	c, err := h.contacts.GetByID(r.Context(), p.AccountID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if c == nil {
		writeError(w, h.logger, apperr.NotFoundf("contacts.get", "Contact not found"))
		return
	}
	writeData(w, http.StatusOK, c)
}

// Update handles PUT /contacts/{id}
func (h *ContactHandler) Update(w http.ResponseWriter, r *http.Request) {
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

	var req contactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	c, err := h.contacts.Update(r.Context(), p.AccountID, id, req.input())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if c == nil {
		writeError(w, h.logger, apperr.NotFoundf("contacts.update", "Contact not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Contact updated successfully", "data": c})
}

// Delete handles DELETE /contacts/{id}
func (h *ContactHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapDelete); err != nil {
		writeError(w, h.logger, err)
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	deleted, err := h.contacts.Delete(r.Context(), p.AccountID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !deleted {
		writeError(w, h.logger, apperr.NotFoundf("contacts.delete", "Contact not found"))
		return
	}
	writeMessage(w, http.StatusOK, "Contact deleted successfully")
}

// Upload handles POST /contacts/upload with a multipart "file" field
// holding a CSV. The file is imported in full or not at all.
func (h *ContactHandler) Upload(w http.ResponseWriter, r *http.Request) {
	const op = "contacts.upload"
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapWrite); err != nil {
		writeError(w, h.logger, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, h.logger, apperr.Wrap(apperr.Validation, op, "Invalid upload", err))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.logger, apperr.Invalid(op, "CSV file is required", apperr.FieldError{Field: "file", Message: "is required"}))
		return
	}
	defer file.Close()

	rows, err := contactcsv.Parse(file)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	n, err := h.contacts.CreateBatch(r.Context(), p.AccountID, rows)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info("contacts imported", "account_id", p.AccountID, "count", n)
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Contacts uploaded successfully",
		"count":   n,
	})
}
