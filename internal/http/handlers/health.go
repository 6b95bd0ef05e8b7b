package handlers

import (
	"net/http"
	"time"

	"github.com/wolfman30/aliado-ai-platform/internal/bots"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

const (
	serviceName    = "Aliado AI WhatsApp Backend"
	serviceVersion = "1.0.0"
)

// HealthHandler answers liveness checks and describes the service.
type HealthHandler struct {
	repo   bots.Repository
	logger *logging.Logger
	now    func() time.Time
}

func NewHealthHandler(repo bots.Repository, logger *logging.Logger) *HealthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HealthHandler{repo: repo, logger: logger, now: time.Now}
}

// Health reports status and the number of configured bots.
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	count := 0
	if h.repo != nil {
		all, err := h.repo.List(r.Context())
		if err != nil {
			h.logger.Warn("health: failed to count bots", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":    "DEGRADED",
				"timestamp": h.now().UTC().Format(time.RFC3339),
				"error":     "bot repository unavailable",
			})
			return
		}
		count = len(all)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"bots":      count,
	})
}

// Index lists the public endpoints.
// GET /
func (h *HealthHandler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": serviceVersion,
		"status":  "Running",
		"endpoints": map[string]string{
			"GET /health":                            "Health check",
			"GET /metrics":                           "Prometheus metrics",
			"GET/POST /whatsapp/webhook":             "WhatsApp webhook for the default bot",
			"GET/POST /api/whatsapp/webhook/{botID}": "WhatsApp webhook for specific bot",
			"POST /api/bots/{botID}/config":          "Save bot configuration",
			"GET /api/bots/{botID}/config":           "Get bot configuration",
			"GET /api/bots":                          "List all bots",
			"POST /api/test/send":                    "Send test message (admin)",
			"GET /admin/queue":                       "Deferred delivery queue (admin)",
			"GET /admin/conversations/{phone}":       "Live conversation state (admin)",
		},
		"documentation": "https://developers.facebook.com/docs/whatsapp",
	})
}
