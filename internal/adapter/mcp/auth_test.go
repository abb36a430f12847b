package mcp_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	cmcp "github.com/conciergeos/concierge/internal/adapter/mcp"
)

func authTestHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddlewareDisabledWithEmptyKey(t *testing.T) {
	h := cmcp.AuthMiddleware("", authTestHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 without auth when key is empty, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	h := cmcp.AuthMiddleware("secret", authTestHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for missing header, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsWrongKey(t *testing.T) {
	h := cmcp.AuthMiddleware("secret", authTestHandler())

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for wrong key, got %d", rec.Code)
	}
}

func TestAuthMiddlewareAcceptsKey(t *testing.T) {
	h := cmcp.AuthMiddleware("secret", authTestHandler())

	for _, header := range []string{"Bearer secret", "secret"} {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("header %q: expected 200, got %d", header, rec.Code)
		}
	}
}
