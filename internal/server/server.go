// Пакет server — HTTP-сервер WebApp с graceful shutdown.
// Без TLS — TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/marcelo-marini/sigo-web-app/internal/config"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/handlers"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/i18n"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/middleware"
)

// Components — обработчики и middleware, из которых собирается маршрутизатор.
type Components struct {
	Health       *handlers.HealthHandler
	Auth         *handlers.AuthHandler
	Standards    *handlers.StandardsHandler
	SessionAuth  *middleware.SessionAuth
	Antiforgery  *middleware.Antiforgery
	MaxBodyBytes int64
	// RequestTimeout — дедлайн контекста защищённых запросов; 0 — без дедлайна.
	RequestTimeout time.Duration
}

// Server — HTTP-сервер WebApp.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, c *Components) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewRouter(logger, c),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршрутизатор.
//
// Публичные: /health/*, /metrics, /auth/login, /auth/callback.
// С anti-forgery: POST /auth/logout.
// Под сессией: /, /login, /standards..., /userinfo.
func NewRouter(logger *slog.Logger, c *Components) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware
	router.Use(chimw.RequestID)
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestLogger(logger))
	router.Use(chimw.Recoverer)

	// Health и metrics проверяются Kubernetes напрямую
	router.Get("/health/live", c.Health.HealthLive)
	router.Get("/health/ready", c.Health.HealthReady)
	router.Get("/metrics", c.Health.Metrics)

	router.Group(func(r chi.Router) {
		r.Use(i18n.Middleware())

		r.Get("/auth/login", c.Auth.HandleLogin)
		r.Get("/auth/callback", c.Auth.HandleCallback)
		r.With(c.Antiforgery.Middleware()).Post("/auth/logout", c.Auth.HandleLogout)

		r.Group(func(r chi.Router) {
			if c.MaxBodyBytes > 0 {
				r.Use(middleware.MaxBodyBytes(c.MaxBodyBytes))
			}
			r.Use(c.SessionAuth.Middleware())
			r.Use(c.Antiforgery.Middleware())
			if c.RequestTimeout > 0 {
				r.Use(chimw.Timeout(c.RequestTimeout))
			}

			r.Get("/", c.Standards.Index)
			r.Get("/login", c.Standards.Login)
			r.Get("/standards", c.Standards.List)
			r.Get("/standards/new", c.Standards.New)
			r.Post("/standards", c.Standards.Create)
			r.Get("/standards/{id}/edit", c.Standards.Edit)
			r.Post("/standards/{id}/edit", c.Standards.Update)
			r.Delete("/standards/{id}", c.Standards.Delete)
			r.Get("/userinfo", c.Standards.UserInfo)
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
