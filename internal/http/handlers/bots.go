package handlers

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/aliado-ai-platform/internal/bots"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

// BotsHandler serves the bot configuration API used by the dashboard.
type BotsHandler struct {
	repo          bots.Repository
	publicBaseURL string
	verifyToken   string
	logger        *logging.Logger
	now           func() time.Time
}

func NewBotsHandler(repo bots.Repository, publicBaseURL, verifyToken string, logger *logging.Logger) *BotsHandler {
	if repo == nil {
		panic("handlers: bot repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BotsHandler{
		repo:          repo,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		verifyToken:   verifyToken,
		logger:        logger.Component("handlers.bots"),
		now:           time.Now,
	}
}

// SaveConfigRequest is the body of POST /api/bots/{botID}/config. Omitted
// fields keep their stored value, or the platform default for a new bot.
type SaveConfigRequest struct {
	Name          string `json:"name"`
	BusinessType  string `json:"businessType"`
	Role          string `json:"role"`
	Tone          string `json:"tone"`
	KnowledgeBase string `json:"knowledgeBase"`
	PhoneNumberID string `json:"phoneNumberId"`
	AccessToken   string `json:"accessToken"`
	NotifyEmail   string `json:"notifyEmail"`
}

type SaveConfigResponse struct {
	Success     bool               `json:"success"`
	Message     string             `json:"message"`
	WebhookURL  string             `json:"webhookUrl"`
	VerifyToken string             `json:"verifyToken"`
	Bot         bots.Configuration `json:"bot"`
}

// SaveConfig creates or updates a bot.
// POST /api/bots/{botID}/config
func (h *BotsHandler) SaveConfig(w http.ResponseWriter, r *http.Request) {
	botID := strings.TrimSpace(chi.URLParam(r, "botID"))
	if botID == "" {
		jsonError(w, "bot id required", http.StatusBadRequest)
		return
	}

	var req SaveConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg, err := h.repo.Get(r.Context(), botID)
	switch {
	case errors.Is(err, bots.ErrNotFound):
		cfg = bots.Configuration{ID: botID, CreatedAt: h.now().UTC()}
	case err != nil:
		h.logger.Error("failed to load bot config", "bot_id", botID, "error", err)
		jsonError(w, "failed to load bot configuration", http.StatusInternalServerError)
		return
	}

	merge(&cfg.Name, req.Name)
	merge(&cfg.BusinessType, req.BusinessType)
	merge(&cfg.Role, req.Role)
	merge(&cfg.KnowledgeBase, req.KnowledgeBase)
	merge(&cfg.PhoneNumberID, req.PhoneNumberID)
	merge(&cfg.AccessToken, req.AccessToken)
	merge(&cfg.NotifyEmail, req.NotifyEmail)
	if t := strings.TrimSpace(req.Tone); t != "" {
		cfg.Tone = bots.Tone(t)
	}
	cfg = cfg.WithDefaults()
	cfg.UpdatedAt = h.now().UTC()

	if err := h.repo.Put(r.Context(), cfg); err != nil {
		h.logger.Error("failed to save bot config", "bot_id", botID, "error", err)
		jsonError(w, "failed to save bot configuration", http.StatusInternalServerError)
		return
	}
	h.logger.Info("bot configuration saved", "bot_id", botID, "tone", cfg.Tone)

	writeJSON(w, http.StatusOK, SaveConfigResponse{
		Success:     true,
		Message:     "Bot configuration saved",
		WebhookURL:  h.publicBaseURL + "/api/whatsapp/webhook/" + botID,
		VerifyToken: h.verifyToken,
		Bot:         cfg,
	})
}

// GetConfig returns one bot.
// GET /api/bots/{botID}/config
func (h *BotsHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	botID := strings.TrimSpace(chi.URLParam(r, "botID"))
	cfg, err := h.repo.Get(r.Context(), botID)
	if errors.Is(err, bots.ErrNotFound) {
		jsonError(w, "Bot not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to load bot config", "bot_id", botID, "error", err)
		jsonError(w, "failed to load bot configuration", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// List returns every bot ordered by id.
// GET /api/bots
func (h *BotsHandler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list bots", "error", err)
		jsonError(w, "failed to list bots", http.StatusInternalServerError)
		return
	}
	if all == nil {
		all = []bots.Configuration{}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	writeJSON(w, http.StatusOK, all)
}

func merge(dst *string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		*dst = v
	}
}
