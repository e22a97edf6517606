package oidc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcelo-marini/sigo-web-app/internal/domain/errs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// discoveryServer возвращает тестовый IdP и счётчик запросов к нему.
func discoveryServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

const validDocument = `{
	"issuer": "https://idp.sigo.local",
	"authorization_endpoint": "https://idp.sigo.local/connect/authorize",
	"token_endpoint": "https://idp.sigo.local/connect/token",
	"userinfo_endpoint": "https://idp.sigo.local/connect/userinfo",
	"jwks_uri": "https://idp.sigo.local/.well-known/openid-configuration/jwks",
	"end_session_endpoint": "https://idp.sigo.local/connect/endsession"
}`

func TestDiscover_Success(t *testing.T) {
	srv, _ := discoveryServer(t, http.StatusOK, validDocument)
	c := NewClient(srv.URL+"/.well-known/openid-configuration", srv.Client(), time.Minute, testLogger())

	d, err := c.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() вернул ошибку: %v", err)
	}
	if d.TokenEndpoint != "https://idp.sigo.local/connect/token" {
		t.Errorf("TokenEndpoint = %q", d.TokenEndpoint)
	}
	if d.UserinfoEndpoint != "https://idp.sigo.local/connect/userinfo" {
		t.Errorf("UserinfoEndpoint = %q", d.UserinfoEndpoint)
	}
	if d.EndSessionEndpoint == "" || d.JWKSURI == "" {
		t.Errorf("ожидались end_session_endpoint и jwks_uri: %+v", d)
	}
}

func TestDiscover_Cached(t *testing.T) {
	srv, hits := discoveryServer(t, http.StatusOK, validDocument)
	c := NewClient(srv.URL+"/.well-known/openid-configuration", srv.Client(), time.Minute, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Discover(context.Background()); err != nil {
				t.Errorf("Discover() вернул ошибку: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := hits.Load(); got != 1 {
		t.Errorf("запросов к IdP: %d, ожидается 1", got)
	}

	c.Invalidate()
	if _, err := c.Discover(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("после Invalidate запросов: %d, ожидается 2", got)
	}
}

func TestDiscover_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"статус 500", http.StatusInternalServerError, "boom"},
		{"не JSON", http.StatusOK, "<html>"},
		{"нет token_endpoint", http.StatusOK, `{"issuer":"https://idp"}`},
		{"нет issuer", http.StatusOK, `{"token_endpoint":"https://idp/token"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := discoveryServer(t, tt.status, tt.body)
			c := NewClient(srv.URL+"/.well-known/openid-configuration", srv.Client(), time.Minute, testLogger())

			_, err := c.Discover(context.Background())
			if !errors.Is(err, errs.ErrAuth) {
				t.Errorf("ожидалась ErrAuth, получено %v", err)
			}
		})
	}
}

func TestDiscover_Unreachable(t *testing.T) {
	srv, _ := discoveryServer(t, http.StatusOK, validDocument)
	url := srv.URL + "/.well-known/openid-configuration"
	srv.Close()

	c := NewClient(url, nil, time.Minute, testLogger())
	if _, err := c.Discover(context.Background()); !errors.Is(err, errs.ErrAuth) {
		t.Errorf("ожидалась ErrAuth, получено %v", err)
	}
}
