// SPDX-License-Identifier: AGPL-3.0-or-later
package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	t.Parallel()

	cfg := Config{Token: "secret", StdOut: io.Discard}
	handler := authMiddleware(cfg)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plans", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("missing WWW-Authenticate header")
	}
}

func TestAuthMiddlewareRejectsWrongToken(t *testing.T) {
	t.Parallel()

	cfg := Config{Token: "secret", StdOut: io.Discard}
	handler := authMiddleware(cfg)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/plans", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewareAcceptsToken(t *testing.T) {
	t.Parallel()

	cfg := Config{Token: "secret", StdOut: io.Discard}
	handler := authMiddleware(cfg)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/plans", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthMiddlewareAllowsHealthz(t *testing.T) {
	t.Parallel()

	cfg := Config{Token: "secret", StdOut: io.Discard}
	handler := authMiddleware(cfg)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthMiddlewareDisabledWithoutToken(t *testing.T) {
	t.Parallel()

	cfg := Config{StdOut: io.Discard}
	handler := authMiddleware(cfg)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plans", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestTemplateRoute(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want string
	}{
		{"/healthz", "/healthz"},
		{"/health/storage", "/health/storage"},
		{"/tasks", "/tasks"},
		{"/plans", "/plans"},
		{"/plans/abc", "/plans/{id}"},
		{"/plans/abc:accept", "/plans/{id}:accept"},
		{"/plans/abc:reject", "/plans/{id}:reject"},
		{"/plans/abc:continue", "/plans/{id}:continue"},
		{"/plans/abc:abort", "/plans/{id}:abort"},
		{"/plans/abc/events", "/plans/{id}/events"},
		{"/commands/xyz:confirm", "/commands/{id}:confirm"},
		{"", "/"},
	}
	for _, tc := range cases {
		if got := templateRoute(tc.path); got != tc.want {
			t.Errorf("templateRoute(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestIsLoopbackAddress(t *testing.T) {
	t.Parallel()

	cases := []struct {
		bind string
		want bool
	}{
		{"127.0.0.1:8080", true},
		{"localhost:8080", true},
		{"[::1]:8080", true},
		{"0.0.0.0:8080", false},
		{"*", false},
		{"192.168.1.10:8080", false},
	}
	for _, tc := range cases {
		if got := isLoopbackAddress(tc.bind); got != tc.want {
			t.Errorf("isLoopbackAddress(%q) = %v, want %v", tc.bind, got, tc.want)
		}
	}
}

func TestChainMiddlewareOrder(t *testing.T) {
	t.Parallel()

	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := chainMiddleware(okHandler(), tag("outer"), nil, tag("inner"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("middleware order = %v", order)
	}
}

func TestParseAuthorization(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"bearer abc", "abc", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer", "", true},
		{"Bearer ", "", true},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		got, err := parseAuthorization(req)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseAuthorization(%q): expected error", tc.header)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseAuthorization(%q): %v", tc.header, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseAuthorization(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}
