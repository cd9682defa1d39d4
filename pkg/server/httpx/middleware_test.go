package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerMiddleware_PassesThrough(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"200 OK", http.StatusOK},
		{"202 Accepted", http.StatusAccepted},
		{"404 Not Found", http.StatusNotFound},
		{"500 Internal Server Error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte("body"))
			})

			w := httptest.NewRecorder()
			Logger(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

			require.Equal(t, tt.statusCode, w.Code)
			require.Equal(t, "body", w.Body.String())
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("test panic")
	})

	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		Recovery(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.JSONEq(t, `{"error":"Internal Server Error","message":"internal error"}`, w.Body.String())
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusOK},
		{"missing header", "abc", "", http.StatusUnauthorized},
		{"wrong scheme", "abc", "Basic abc", http.StatusUnauthorized},
		{"wrong token", "abc", "Bearer abd", http.StatusUnauthorized},
		{"valid", "abc", "Bearer abc", http.StatusOK},
		{"scheme case-insensitive", "abc", "bearer abc", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			Auth(tt.token)(ok).ServeHTTP(w, req)
			require.Equal(t, tt.want, w.Code)
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Empty(t, extractBearerToken(req))

	req.Header.Set("Authorization", "Bearer   tok  ")
	require.Equal(t, "tok", extractBearerToken(req))
}
