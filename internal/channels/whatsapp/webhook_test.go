package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []InboundEvent
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, evt InboundEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, evt)
	return nil
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newWebhookRouter(h *WebhookHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/whatsapp/webhook", h.HandleVerification)
	r.Post("/whatsapp/webhook", h.HandleInbound)
	r.Get("/api/whatsapp/webhook/{botID}", h.HandleVerification)
	r.Post("/api/whatsapp/webhook/{botID}", h.HandleInbound)
	return r
}

func TestVerifySignature(t *testing.T) {
	secret := "test_app_secret"
	body := `{"object":"whatsapp_business_account","entry":[]}`
	validSig := sign(secret, body)

	tests := []struct {
		name      string
		secret    string
		body      string
		signature string
		want      bool
	}{
		{"valid signature", secret, body, validSig, true},
		{"uppercase hex", secret, body, "sha256=" + strings.ToUpper(strings.TrimPrefix(validSig, "sha256=")), true},
		{"wrong signature", secret, body, "sha256=0000000000000000000000000000000000000000000000000000000000000000", false},
		{"empty signature", secret, body, "", false},
		{"empty secret", "", body, validSig, false},
		{"missing prefix", secret, body, strings.TrimPrefix(validSig, "sha256="), false},
		{"tampered body", secret, "tampered", validSig, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.secret, []byte(tt.body), tt.signature); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleVerification(t *testing.T) {
	router := newWebhookRouter(NewWebhookHandler("my_verify_token", "", nil, logging.Default()))

	for _, path := range []string{"/whatsapp/webhook", "/api/whatsapp/webhook/bot-1"} {
		t.Run("valid challenge "+path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path+"?hub.mode=subscribe&hub.verify_token=my_verify_token&hub.challenge=CHALLENGE_123", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "CHALLENGE_123", w.Body.String())
		})
	}

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whatsapp/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=X", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("wrong mode", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whatsapp/webhook?hub.mode=unsubscribe&hub.verify_token=my_verify_token&hub.challenge=X", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestHandleInboundDispatchesUserMessages(t *testing.T) {
	disp := &recordingDispatcher{}
	router := newWebhookRouter(NewWebhookHandler("tok", "", disp, logging.Default()))

	req := httptest.NewRequest(http.MethodPost, "/api/whatsapp/webhook/bot-7", strings.NewReader(sampleWebhook))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, disp.events, 5)
	assert.Equal(t, "bot-7", disp.events[0].BotID)
	assert.Equal(t, "wamid.1", disp.events[0].Message.ID)
	assert.Equal(t, "1065", disp.events[0].Metadata.PhoneNumberID)
	assert.False(t, disp.events[0].ReceivedAt.IsZero())
}

func TestHandleInboundDefaultRouteHasNoBotID(t *testing.T) {
	disp := &recordingDispatcher{}
	router := newWebhookRouter(NewWebhookHandler("tok", "", disp, logging.Default()))

	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", strings.NewReader(sampleWebhook))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, disp.events)
	assert.Empty(t, disp.events[0].BotID)
}

func TestHandleInboundSignature(t *testing.T) {
	disp := &recordingDispatcher{}
	router := newWebhookRouter(NewWebhookHandler("tok", "app_secret", disp, logging.Default()))

	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", strings.NewReader(sampleWebhook))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, disp.events)

	req = httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", strings.NewReader(sampleWebhook))
	req.Header.Set("X-Hub-Signature-256", sign("app_secret", sampleWebhook))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, disp.events, 5)
}

func TestHandleInboundMalformedJSON(t *testing.T) {
	router := newWebhookRouter(NewWebhookHandler("tok", "", &recordingDispatcher{}, logging.Default()))
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleInboundAcksWhenDispatchFails(t *testing.T) {
	disp := &recordingDispatcher{err: errors.New("queue down")}
	router := newWebhookRouter(NewWebhookHandler("tok", "", disp, logging.Default()))
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", strings.NewReader(sampleWebhook))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleInboundSkipsBusinessEcho(t *testing.T) {
	disp := &recordingDispatcher{}
	router := newWebhookRouter(NewWebhookHandler("tok", "", disp, logging.Default()))
	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{"metadata":{"display_phone_number":"15550001111","phone_number_id":"1065"},"messages":[{"from":"15550001111","id":"wamid.echo","type":"text","text":{"body":"eco"}}]}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, disp.events)
}
