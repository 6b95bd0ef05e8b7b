package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		method     string
		origin     string
		preflight  bool
		wantOrigin string
		wantStatus int
		wantCalled bool
	}{
		{"listed origin", []string{"https://panel.aliado.example"}, http.MethodGet, "https://panel.aliado.example", false, "https://panel.aliado.example", http.StatusOK, true},
		{"listed origin case and slash", []string{"https://Panel.aliado.example/"}, http.MethodGet, "https://panel.aliado.example", false, "https://panel.aliado.example", http.StatusOK, true},
		{"unknown origin", []string{"https://panel.aliado.example"}, http.MethodGet, "https://evil.example", false, "", http.StatusOK, true},
		{"wildcard", []string{"*"}, http.MethodGet, "https://random.example", false, "https://random.example", http.StatusOK, true},
		{"no origin", []string{"*"}, http.MethodGet, "", false, "", http.StatusOK, true},
		{"preflight allowed", []string{"https://panel.aliado.example"}, http.MethodOptions, "https://panel.aliado.example", true, "https://panel.aliado.example", http.StatusNoContent, false},
		{"preflight denied", []string{"https://panel.aliado.example"}, http.MethodOptions, "https://evil.example", true, "", http.StatusForbidden, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(tt.method, "/api/bots", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()

			CORS(tt.allowed)(handler).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCalled, called)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantOrigin != "" {
				assert.Equal(t, corsAllowedMethods, rec.Header().Get("Access-Control-Allow-Methods"))
				assert.Equal(t, "X-Request-ID", rec.Header().Get("Access-Control-Expose-Headers"))
			}
		})
	}
}
