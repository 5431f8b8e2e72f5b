package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/textblast/internal/otp"
)

type OTPHandler struct {
	service *otp.Service
	logger  *slog.Logger
}

func NewOTPHandler(svc *otp.Service, logger *slog.Logger) *OTPHandler {
	return &OTPHandler{service: svc, logger: logger}
}

type otpSendRequest struct {
	Email string `json:"email" validate:"required_without=Phone,omitempty,email"`
	Phone string `json:"phone" validate:"required_without=Email,omitempty,max=32"`
}

// Send handles POST /otp/send
func (h *OTPHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req otpSendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.service.Send(r.Context(), req.Email, req.Phone); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "OTP sent successfully")
}

type otpVerifyRequest struct {
	Email string `json:"email" validate:"required_without=Phone,omitempty,email"`
	Phone string `json:"phone" validate:"required_without=Email,omitempty,max=32"`
	Code  string `json:"code" validate:"required,max=10"`
}

// Verify handles POST /otp/verify
func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.service.Verify(r.Context(), req.Email, req.Phone, req.Code); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "OTP verified successfully!")
}
