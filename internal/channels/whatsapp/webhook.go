package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/aliado-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

const maxWebhookBody = 1 << 20

// InboundEvent is one inbound message queued for asynchronous processing.
type InboundEvent struct {
	BotID       string         `json:"bot_id,omitempty"`
	Message     WebhookMessage `json:"message"`
	Metadata    Metadata       `json:"metadata"`
	ContactName string         `json:"contact_name,omitempty"`
	ReceivedAt  time.Time      `json:"received_at"`
}

// Dispatcher hands inbound events to the processing pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, event InboundEvent) error
}

// WebhookHandler handles WhatsApp webhook verification and inbound messages.
type WebhookHandler struct {
	verifyToken string
	appSecret   string
	dispatcher  Dispatcher
	logger      *logging.Logger
	metrics     *metrics.PipelineMetrics
	now         func() time.Time
}

// NewWebhookHandler creates a new webhook handler. When appSecret is empty the
// X-Hub-Signature-256 header is not checked.
func NewWebhookHandler(verifyToken, appSecret string, dispatcher Dispatcher, logger *logging.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		dispatcher:  dispatcher,
		logger:      logger.Component("whatsapp.webhook"),
		now:         time.Now,
	}
}

func (h *WebhookHandler) WithMetrics(m *metrics.PipelineMetrics) *WebhookHandler {
	h.metrics = m
	return h
}

// HandleVerification answers Meta's subscription challenge.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && hmac.Equal([]byte(token), []byte(h.verifyToken)) {
		h.logger.Info("webhook verified", "bot_id", chi.URLParam(r, "botID"))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}

	h.logger.Warn("webhook verification failed", "mode", mode, "bot_id", chi.URLParam(r, "botID"))
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleInbound acknowledges a webhook POST and dispatches every user message
// it carries. The optional {botID} URL parameter selects the bot.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	botID := strings.TrimSpace(chi.URLParam(r, "botID"))
	route := "default"
	if botID != "" {
		route = "bot"
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.metrics.ObserveWebhook(route, "bad_request")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if h.appSecret != "" && !VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		h.metrics.ObserveWebhook(route, "unauthorized")
		h.logger.Warn("webhook signature mismatch", "bot_id", botID)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.metrics.ObserveWebhook(route, "bad_request")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	dispatched := 0
	for _, batch := range ExtractMessages(event) {
		if !IsFromUser(batch.Message, batch.Metadata) {
			continue
		}
		evt := InboundEvent{
			BotID:       botID,
			Message:     batch.Message,
			Metadata:    batch.Metadata,
			ContactName: batch.ContactName,
			ReceivedAt:  h.now().UTC(),
		}
		if h.dispatcher == nil {
			continue
		}
		if err := h.dispatcher.Dispatch(ctx, evt); err != nil {
			h.logger.Error("failed to dispatch inbound message", "bot_id", botID, "message_id", evt.Message.ID, "error", err)
			continue
		}
		dispatched++
	}

	h.metrics.ObserveWebhook(route, "accepted")
	if dispatched > 0 {
		h.logger.Info("webhook accepted", "bot_id", botID, "messages", dispatched)
	}
	// Meta retries anything other than a fast 200.
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// VerifySignature verifies the X-Hub-Signature-256 header.
func VerifySignature(appSecret string, body []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return false
	}

	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) || len(signature) == len(prefix) {
		return false
	}
	sigHex := signature[len(prefix):]

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sigHex)))
}
