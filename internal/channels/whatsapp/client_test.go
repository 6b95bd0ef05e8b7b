package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testCreds = Credentials{AccessToken: "test_token", PhoneNumberID: "1065"}

func TestClientPostText(t *testing.T) {
	var received OutboundPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/1065/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test_token" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatal(err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SendResponse{MessagingProduct: "whatsapp", Messages: []SentMessage{{ID: "wamid.001"}}})
	}))
	defer server.Close()

	client := NewClient(WithGraphAPIBase(server.URL + "/"))
	resp, err := client.Post(context.Background(), testCreds, OutboundPayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               "5215512345678",
		Type:             "text",
		Text:             &TextBody{Body: "Hola"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.MessageID() != "wamid.001" {
		t.Errorf("message id = %s, want wamid.001", resp.MessageID())
	}
	if received.To != "5215512345678" || received.Text == nil || received.Text.Body != "Hola" {
		t.Errorf("unexpected payload %+v", received)
	}
	if received.MessagingProduct != "whatsapp" {
		t.Errorf("messaging_product = %s", received.MessagingProduct)
	}
}

func TestClientPostAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(SendResponse{Error: &GraphError{Code: 131009, Message: "Parameter value is not valid", Type: "OAuthException"}})
	}))
	defer server.Close()

	client := NewClient(WithGraphAPIBase(server.URL))
	_, err := client.Post(context.Background(), testCreds, OutboundPayload{MessagingProduct: "whatsapp"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != 131009 {
		t.Errorf("unexpected api error %+v", apiErr)
	}
	if IsRetryable(err) {
		t.Errorf("400 with code 131009 must not be retryable")
	}
}

func TestClientPostServerErrorWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(WithGraphAPIBase(server.URL))
	_, err := client.Post(context.Background(), testCreds, OutboundPayload{MessagingProduct: "whatsapp"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 APIError, got %v", err)
	}
	if !IsRetryable(err) {
		t.Errorf("503 must be retryable")
	}
}

func TestClientPostTimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(WithGraphAPIBase(server.URL), WithTimeout(20*time.Millisecond))
	_, err := client.Post(context.Background(), testCreds, OutboundPayload{MessagingProduct: "whatsapp"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsRetryable(err) {
		t.Errorf("timeout must be retryable, got %v", err)
	}
}

func TestClientPostRequiresCredentials(t *testing.T) {
	client := NewClient()
	if _, err := client.Post(context.Background(), Credentials{PhoneNumberID: "1"}, OutboundPayload{}); err == nil {
		t.Fatal("expected error for missing token")
	}
	if _, err := client.Post(context.Background(), Credentials{AccessToken: "t"}, OutboundPayload{}); err == nil {
		t.Fatal("expected error for missing phone number id")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited status", &APIError{StatusCode: 429}, true},
		{"bad gateway", &APIError{StatusCode: 502}, true},
		{"graph code 4", &APIError{StatusCode: 400, Code: 4}, true},
		{"graph code 100", &APIError{StatusCode: 400, Code: 100}, true},
		{"graph code 190", &APIError{StatusCode: 401, Code: 190}, true},
		{"unauthorized", &APIError{StatusCode: 401, Code: 10}, false},
		{"validation", &ValidationError{Field: "to"}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
