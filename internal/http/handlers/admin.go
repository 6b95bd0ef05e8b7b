package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/aliado-ai-platform/internal/audit"
	"github.com/wolfman30/aliado-ai-platform/internal/bots"
	"github.com/wolfman30/aliado-ai-platform/internal/channels/whatsapp"
	"github.com/wolfman30/aliado-ai-platform/internal/conversation"
	"github.com/wolfman30/aliado-ai-platform/internal/http/middleware"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

const defaultTranscriptLimit = 50

type deliveryAdmin interface {
	QueueStatus() whatsapp.QueueStatus
	SendText(ctx context.Context, creds whatsapp.Credentials, to, body string) (whatsapp.DeliveryResult, error)
}

type transcriptLister interface {
	List(ctx context.Context, userID string, limit int64) ([]conversation.TranscriptEntry, error)
}

type auditQuerier interface {
	QueryEvents(ctx context.Context, filter audit.Filter) ([]audit.Event, error)
}

// AdminHandler exposes operational views of the pipeline.
type AdminHandler struct {
	processor  *conversation.Processor
	delivery   deliveryAdmin
	transcript transcriptLister
	audit      auditQuerier
	logger     *logging.Logger
}

func NewAdminHandler(processor *conversation.Processor, delivery deliveryAdmin, logger *logging.Logger) *AdminHandler {
	if processor == nil || delivery == nil {
		panic("handlers: processor and delivery manager are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{processor: processor, delivery: delivery, logger: logger.Component("handlers.admin")}
}

// WithTranscript adds the Redis transcript to conversation lookups.
func (h *AdminHandler) WithTranscript(t transcriptLister) *AdminHandler {
	h.transcript = t
	return h
}

// WithAudit adds audited handoffs and abandoned deliveries to conversation lookups.
func (h *AdminHandler) WithAudit(a auditQuerier) *AdminHandler {
	h.audit = a
	return h
}

// QueueStatus returns the deferred delivery queue.
// GET /admin/queue
func (h *AdminHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.delivery.QueueStatus())
}

// ListConversations returns every live conversation, most recent first.
// GET /admin/conversations
func (h *AdminHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	list := h.processor.Store().List()
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": list,
		"total":         len(list),
	})
}

// ConversationDetailResponse describes one user's conversation.
type ConversationDetailResponse struct {
	Phone         string                         `json:"phone"`
	Active        bool                           `json:"active"`
	Context       *conversation.Context          `json:"context,omitempty"`
	ShouldHandoff bool                           `json:"shouldHandoff"`
	Transcript    []conversation.TranscriptEntry `json:"transcript,omitempty"`
	AuditEvents   []audit.Event                  `json:"auditEvents,omitempty"`
}

// GetConversation returns the live context and stored transcript for a phone.
// GET /admin/conversations/{phone}
func (h *AdminHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	phone, err := whatsapp.NormalizePhone(chi.URLParam(r, "phone"))
	if err != nil {
		jsonError(w, "invalid phone number", http.StatusBadRequest)
		return
	}

	limit := int64(defaultTranscriptLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	resp := ConversationDetailResponse{Phone: phone}
	if c, ok := h.processor.Store().Peek(phone); ok {
		resp.Active = true
		resp.Context = &c
		resp.ShouldHandoff = h.processor.ShouldHandoffToHuman(phone, 0)
	}

	if h.transcript != nil {
		entries, err := h.transcript.List(r.Context(), phone, limit)
		if err != nil {
			h.logger.Warn("failed to load transcript", "phone", phone, "error", err)
		}
		resp.Transcript = entries
	}
	if h.audit != nil {
		events, err := h.audit.QueryEvents(r.Context(), audit.Filter{UserID: phone, Limit: int(limit)})
		if err != nil {
			h.logger.Warn("failed to load audit events", "phone", phone, "error", err)
		}
		resp.AuditEvents = events
	}

	if !resp.Active && len(resp.Transcript) == 0 && len(resp.AuditEvents) == 0 {
		jsonError(w, "conversation not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// TestSendRequest is the body of POST /api/test/send.
type TestSendRequest struct {
	To            string `json:"to"`
	Message       string `json:"message"`
	PhoneNumberID string `json:"phoneNumberId"`
}

// TestSend delivers a text through the normal delivery path.
// POST /api/test/send
func (h *AdminHandler) TestSend(w http.ResponseWriter, r *http.Request) {
	var req TestSendRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		jsonError(w, "message required", http.StatusBadRequest)
		return
	}

	creds := h.processor.CredentialsFor(bots.Configuration{}, whatsapp.Metadata{PhoneNumberID: strings.TrimSpace(req.PhoneNumberID)})
	result, err := h.delivery.SendText(r.Context(), creds, req.To, req.Message)
	if err != nil {
		status := http.StatusBadGateway
		if isValidation(err) {
			status = http.StatusBadRequest
		}
		jsonError(w, err.Error(), status)
		return
	}
	if !result.Success && !result.Queued {
		h.logger.Warn("test send failed", "to", req.To, "operator", middleware.AdminSubject(r.Context()), "error", result.Err)
		msg := "delivery failed"
		if result.Err != nil {
			msg = result.Err.Error()
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": msg, "result": result})
		return
	}

	h.logger.Info("test message sent", "to", req.To, "operator", middleware.AdminSubject(r.Context()), "queued", result.Queued)
	message := "Test message sent successfully"
	if result.Queued {
		message = "Test message queued for retry"
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result, "message": message})
}
