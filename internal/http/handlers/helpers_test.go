package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/aliado-ai-platform/internal/channels/whatsapp"
	"github.com/wolfman30/aliado-ai-platform/internal/clock"
	"github.com/wolfman30/aliado-ai-platform/internal/conversation"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeDelivery struct {
	mu     sync.Mutex
	result whatsapp.DeliveryResult
	err    error
	sent   []sentText
	status whatsapp.QueueStatus
}

type sentText struct {
	creds    whatsapp.Credentials
	to, body string
}

func (f *fakeDelivery) SendText(_ context.Context, creds whatsapp.Credentials, to, body string) (whatsapp.DeliveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{creds: creds, to: to, body: body})
	if f.err != nil {
		return whatsapp.DeliveryResult{}, f.err
	}
	if f.result == (whatsapp.DeliveryResult{}) {
		return whatsapp.DeliveryResult{Success: true, MessageID: "wamid.out", Attempts: 1}, nil
	}
	return f.result, nil
}

func (f *fakeDelivery) MarkAsRead(context.Context, whatsapp.Credentials, string) (whatsapp.DeliveryResult, error) {
	return whatsapp.DeliveryResult{Success: true}, nil
}

func (f *fakeDelivery) QueueStatus() whatsapp.QueueStatus { return f.status }

func newTestProcessor(t *testing.T, delivery *fakeDelivery) (*conversation.Processor, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	store := conversation.NewContextStore(clk, nil)
	proc := conversation.NewProcessor(store, conversation.NewReplyGenerator(nil, nil), delivery, nil).
		WithClock(clk).
		WithDefaultCredentials(whatsapp.Credentials{AccessToken: "default-token", PhoneNumberID: "111000"})
	t.Cleanup(proc.Stop)
	return proc, clk
}

func doRequest(t *testing.T, method, pattern, target, body string, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
