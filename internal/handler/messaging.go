package handler

import (
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/auth"
	"github.com/dukerupert/textblast/internal/media"
	"github.com/dukerupert/textblast/internal/messaging"
)

type MessagingHandler struct {
	orchestrator *messaging.Orchestrator
	logger       *slog.Logger
}

func NewMessagingHandler(o *messaging.Orchestrator, logger *slog.Logger) *MessagingHandler {
	return &MessagingHandler{orchestrator: o, logger: logger}
}

type sendRequest struct {
	ContactID int64  `json:"contact_id" validate:"required,gt=0"`
	Content   string `json:"content" validate:"max=1600"`
	Type      string `json:"type" validate:"omitempty,oneof=sms mms"`
}

// Send handles POST /messaging/send. A multipart body may carry a "file"
// field, which is sent as MMS media.
func (h *MessagingHandler) Send(w http.ResponseWriter, r *http.Request) {
	const op = "messaging.send"
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapWrite); err != nil {
		writeError(w, h.logger, err)
		return
	}

	req := messaging.SendRequest{AccountID: p.AccountID}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, media.MaxSize+(1<<20))
		if err := r.ParseMultipartForm(media.MaxSize); err != nil {
			writeError(w, h.logger, apperr.Wrap(apperr.Validation, op, "Invalid upload", err))
			return
		}
		body := sendRequest{Content: r.FormValue("content"), Type: r.FormValue("type")}
		body.ContactID, _ = strconv.ParseInt(r.FormValue("contact_id"), 10, 64)
		if err := validateStruct(&body); err != nil {
			writeError(w, h.logger, err)
			return
		}
		req.ContactID, req.Body, req.Kind = body.ContactID, body.Content, body.Type

		if file, fh, err := r.FormFile("file"); err == nil {
			defer file.Close()
			req.Attachment = &messaging.Attachment{
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Body:        file,
			}
		}
	} else {
		var body sendRequest
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, h.logger, err)
			return
		}
		req.ContactID, req.Body, req.Kind = body.ContactID, body.Content, body.Type
	}

	res, err := h.orchestrator.SendMessage(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Message sent successfully",
		"data":    res.Message,
		"credits": res.Credits,
	})
}

type bulkRequest struct {
	Numbers []string `json:"numbers" validate:"required,min=1,max=1000"`
	Content string   `json:"content" validate:"required,max=1600"`
	Type    string   `json:"type" validate:"omitempty,oneof=sms mms"`
}

// SendBulk handles POST /messaging/send-bulk
func (h *MessagingHandler) SendBulk(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapWrite); err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.orchestrator.SendCampaign(r.Context(), messaging.CampaignRequest{
		AccountID: p.AccountID,
		Numbers:   req.Numbers,
		Body:      req.Content,
		Kind:      req.Type,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     res.Sent > 0,
		"message":     res.Message,
		"campaign_id": res.CampaignID,
		"results":     res.Results,
		"sent":        res.Sent,
		"failed":      res.Failed,
		"cost":        res.Cost,
		"credits":     res.Credits,
	})
}

// Messages handles GET /messaging/messages
func (h *MessagingHandler) Messages(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapRead); err != nil {
		writeError(w, h.logger, err)
		return
	}

	page, err := h.orchestrator.ListMessages(r.Context(), p.AccountID, listParams(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

// Campaign handles GET /messaging/campaigns/{id}
func (h *MessagingHandler) Campaign(w http.ResponseWriter, r *http.Request) {
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

	c, err := h.orchestrator.GetCampaign(r.Context(), p.AccountID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, c)
}
