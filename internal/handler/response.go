package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/store"
)

const maxJSONBody = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeData wraps v in the success envelope.
func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, map[string]any{"success": true, "data": v})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": true, "message": message})
}

type errorBody struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Errors  []apperr.FieldError `json:"errors,omitempty"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation, apperr.Expired:
		return http.StatusBadRequest
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.InsufficientCredits:
		return http.StatusPaymentRequired
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.Upstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status and body. Internal errors are logged and
// replaced with a generic message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok {
		logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Message: "Internal server error"})
		return
	}

	status := statusFor(e.Kind)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "op", e.Op, "error", err)
		writeJSON(w, status, errorBody{Message: "Internal server error"})
		return
	}
	if status == http.StatusBadGateway {
		logger.Warn("upstream failure", "op", e.Op, "error", err)
	}
	writeJSON(w, status, errorBody{Message: e.Message, Errors: e.Fields})
}

// decodeJSON reads the body into dst and runs its validate tags.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalid("decode", "Request body is required")
		}
		return apperr.Wrap(apperr.Validation, "decode", "Invalid JSON", err)
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.Validation, "validate", "Validation failed", err)
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return apperr.Invalid("validate", "Validation failed", fields...)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "email":
		return "must be a valid email address"
	case "min":
		if fe.Kind() == reflect.String {
			return "must be at least " + fe.Param() + " characters"
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be " + fe.Param() + " or more"
	default:
		return "is invalid"
	}
}

func parseIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("params", "Invalid id", apperr.FieldError{Field: "id", Message: "must be a positive integer"})
	}
	return id, nil
}

// listParams reads page, limit, search and all from the query string.
func listParams(r *http.Request) store.ListParams {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	all, _ := strconv.ParseBool(q.Get("all"))
	return store.ListParams{Page: page, Limit: limit, Search: q.Get("search"), All: all}
}
