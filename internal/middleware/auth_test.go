package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/auth"
)

type fakeAuthenticator struct {
	tokens map[string]auth.Principal
	err    error
}

func (f fakeAuthenticator) Authenticate(_ context.Context, token string) (auth.Principal, error) {
	if f.err != nil {
		return auth.Principal{}, f.err
	}
	p, ok := f.tokens[token]
	if !ok {
		return auth.Principal{}, apperr.New(apperr.Unauthorized, "test", "bad token")
	}
	return p, nil
}

func TestRequireAuth(t *testing.T) {
	authn := fakeAuthenticator{tokens: map[string]auth.Principal{"good": {AccountID: 9}}}

	var got auth.Principal
	handler := RequireAuth(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		target string
		want   int
	}{
		{"no token", "", "/", http.StatusUnauthorized},
		{"bad token", "Bearer nope", "/", http.StatusUnauthorized},
		{"good header", "Bearer good", "/", http.StatusOK},
		{"lowercase scheme", "bearer good", "/", http.StatusOK},
		{"query token ignored", "", "/contacts?token=good", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = auth.Principal{}
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && got.AccountID != 9 {
				t.Errorf("principal = %+v, want account 9", got)
			}
		})
	}
}

func TestRequireAuthWSQueryToken(t *testing.T) {
	authn := fakeAuthenticator{tokens: map[string]auth.Principal{"good": {AccountID: 9}}}
	handler := RequireAuthWS(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		target string
		want   int
	}{
		{"query token", "", "/ws?token=good", http.StatusOK},
		{"header", "Bearer good", "/ws", http.StatusOK},
		{"bad query token", "", "/ws?token=nope", http.StatusUnauthorized},
		{"missing", "", "/ws", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRequireAuthRestricted(t *testing.T) {
	authn := fakeAuthenticator{err: apperr.Forbiddenf("test", "restricted")}
	handler := RequireAuth(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer any")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Message == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if seen == "" || rec.Header().Get("X-Request-ID") != seen {
		t.Errorf("generated id = %q, header = %q", seen, rec.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc-123" {
		t.Errorf("id = %q, want caller's id", seen)
	}
}

type recordingObserver struct {
	route  string
	status int
}

func (o *recordingObserver) ObserveRequest(_, route string, status int, _ time.Duration) {
	o.route, o.status = route, status
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /contacts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	obs := &recordingObserver{}
	handler := Metrics(obs)(mux)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/contacts/42", nil))
	if obs.route != "GET /contacts/{id}" {
		t.Errorf("route = %q, want pattern", obs.route)
	}
	if obs.status != http.StatusTeapot {
		t.Errorf("status = %d", obs.status)
	}

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nope", nil))
	if obs.route != "unmatched" {
		t.Errorf("route = %q, want unmatched", obs.route)
	}
}
