package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func protected(mw func(http.Handler) http.Handler) http.Handler {
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestBearerMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		authHeader string
		want       int
	}{
		{"valid token", "s3cret", "Bearer s3cret", http.StatusOK},
		{"case-insensitive scheme", "s3cret", "bearer s3cret", http.StatusOK},
		{"wrong token", "s3cret", "Bearer nope", http.StatusUnauthorized},
		{"missing header", "s3cret", "", http.StatusUnauthorized},
		{"not bearer scheme", "s3cret", "Basic s3cret", http.StatusUnauthorized},
		{"empty configured token fails closed", "", "Bearer anything", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/configs", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			rec := httptest.NewRecorder()
			protected(BearerMiddleware(tc.token)).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestInternalKeyMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		header string
		want   int
	}{
		{"valid key", "agent-key", "agent-key", http.StatusOK},
		{"wrong key", "agent-key", "other", http.StatusUnauthorized},
		{"missing header", "agent-key", "", http.StatusUnauthorized},
		{"empty configured key fails closed", "", "", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/internal/proxy/rules", nil)
			if tc.header != "" {
				req.Header.Set(InternalKeyHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			protected(InternalKeyMiddleware(tc.key)).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	if !Equal("abc", "abc") {
		t.Fatal("identical secrets should match")
	}
	if Equal("abc", "abd") || Equal("abc", "") {
		t.Fatal("different secrets should not match")
	}
}
