package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/marcelo-marini/sigo-web-app/internal/domain/model"
	"github.com/marcelo-marini/sigo-web-app/internal/session"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/auth"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/handlers"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/i18n"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/middleware"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubService struct {
	created int
	deleted []string
}

func (s *stubService) ListStandards(context.Context) ([]model.Standard, error) {
	return []model.Standard{{ID: "1", Code: "Q9001"}}, nil
}

func (s *stubService) GetStandard(_ context.Context, id string) (*model.Standard, error) {
	return &model.Standard{ID: id}, nil
}

func (s *stubService) CreateStandard(_ context.Context, d *model.StandardDraft) (*model.Standard, error) {
	s.created++
	return &model.Standard{ID: "2", Code: d.Code}, nil
}

func (s *stubService) UpdateStandard(_ context.Context, d *model.StandardDraft) (*model.Standard, error) {
	return &model.Standard{ID: d.ID}, nil
}

func (s *stubService) DeleteStandard(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubService) GetCurrentUserInfo(context.Context) (model.UserInfo, error) {
	return model.UserInfo{"sub": "818727"}, nil
}

type stubFlow struct{}

func (stubFlow) AuthCodeURL(context.Context, string, string, string, string) (string, error) {
	return "https://idp.sigo.local/connect/authorize", nil
}

func (stubFlow) Exchange(context.Context, string, string, string) (*auth.Tokens, error) {
	return nil, errors.New("not used")
}

func (stubFlow) VerifyIDToken(context.Context, string, string) (*auth.IDClaims, error) {
	return nil, errors.New("not used")
}

func (stubFlow) LogoutURL(context.Context, string, string) (string, error) {
	return "", nil
}

func (stubFlow) Refresh(context.Context, string) (*auth.Tokens, error) {
	return nil, errors.New("refresh отключён")
}

type fixture struct {
	router   http.Handler
	sessions *session.Manager
	service  *stubService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := testLogger()

	bundle, err := i18n.Load(logger)
	if err != nil {
		t.Fatal(err)
	}
	sessions, err := session.NewManager([]byte("0123456789abcdef0123456789abcdef"), false, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	svc := &stubService{}

	router := NewRouter(logger, &Components{
		Health:         handlers.NewHealthHandler(nil),
		Auth:           handlers.NewAuthHandler(stubFlow{}, sessions, bundle, "", false, logger),
		Standards:      handlers.NewStandardsHandler(svc, bundle, logger),
		SessionAuth:    middleware.NewSessionAuth(sessions, stubFlow{}, logger),
		Antiforgery:    middleware.NewAntiforgery(false, bundle, logger),
		MaxBodyBytes:   1 << 20,
		RequestTimeout: 5 * time.Second,
	})
	return &fixture{router: router, sessions: sessions, service: svc}
}

func (f *fixture) sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()
	value, err := f.sessions.Encrypt(&session.Data{
		AccessToken: "access",
		Subject:     "818727",
		Roles:       []string{"admin"},
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &http.Cookie{Name: session.CookieName, Value: value}
}

func TestRouter_Public(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"liveness", http.MethodGet, "/health/live", http.StatusOK},
		{"readiness", http.MethodGet, "/health/ready", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"login", http.MethodGet, "/auth/login", http.StatusFound},
		{"logout без токена", http.MethodPost, "/auth/logout", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("%s %s = %d, ожидается %d", tt.method, tt.path, rec.Code, tt.want)
			}
		})
	}
}

func TestRouter_RequiresSession(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/", "/standards", "/standards/new", "/standards/1/edit", "/userinfo"} {
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusFound || rec.Header().Get("Location") != middleware.LoginPath {
			t.Errorf("%s: ответ %d → %q", path, rec.Code, rec.Header().Get("Location"))
		}
	}
}

func TestRouter_StandardsFlow(t *testing.T) {
	f := newFixture(t)
	sc := f.sessionCookie(t)

	// GET выдаёт anti-forgery cookie
	req := httptest.NewRequest(http.MethodGet, "/standards/new", nil)
	req.AddCookie(sc)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /standards/new = %d", rec.Code)
	}
	var af *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.AntiforgeryCookieName {
			af = c
		}
	}
	if af == nil {
		t.Fatal("anti-forgery cookie не выдан")
	}

	form := url.Values{
		"description":                   {"ISO 9001"},
		"status":                        {"active"},
		"type":                          {"quality"},
		"owner":                         {"ops"},
		"code":                          {"Q9001"},
		middleware.AntiforgeryFormField: {af.Value},
	}
	req = httptest.NewRequest(http.MethodPost, "/standards", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(sc)
	req.AddCookie(af)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther || f.service.created != 1 {
		t.Fatalf("POST /standards = %d, created = %d: %s", rec.Code, f.service.created, rec.Body.String())
	}

	// DELETE без токена отклоняется
	req = httptest.NewRequest(http.MethodDelete, "/standards/1", nil)
	req.AddCookie(sc)
	req.AddCookie(af)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || len(f.service.deleted) != 0 {
		t.Errorf("DELETE без токена = %d", rec.Code)
	}

	// DELETE с токеном в заголовке
	req = httptest.NewRequest(http.MethodDelete, "/standards/1", nil)
	req.Header.Set(middleware.AntiforgeryHeader, af.Value)
	req.AddCookie(sc)
	req.AddCookie(af)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || len(f.service.deleted) != 1 || f.service.deleted[0] != "1" {
		t.Errorf("DELETE = %d, deleted = %v", rec.Code, f.service.deleted)
	}
}

func TestRouter_BodyTooLarge(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/standards", strings.NewReader("code="+strings.Repeat("x", 2<<20)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(f.sessionCookie(t))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, ожидается 413", rec.Code)
	}
}
