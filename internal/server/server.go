// Package server exposes the authorization flow and event creation over HTTP.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/ifsports/calendar-service/internal/calendar"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Authenticator runs the OAuth authorization flow. *auth.Manager implements it.
type Authenticator interface {
	AuthorizationURL(email string) (string, error)
	Exchange(ctx context.Context, code, email string) error
}

// EventCreator creates calendar events. *calendar.Gateway implements it.
type EventCreator interface {
	CreateEvents(ctx context.Context, email string, descriptors []calendar.EventDescriptor) (calendar.BatchResult, error)
	Location() *time.Location
}

// HealthChecker reports whether the credential store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Auth           Authenticator
	Events         EventCreator
	Health         HealthChecker
	BasePath       string
	FrontendURL    string
	AllowedOrigins []string
	Logger         *log.Logger
}

// Server routes HTTP requests to the authorization flow and the event gateway.
type Server struct {
	auth        Authenticator
	events      EventCreator
	health      HealthChecker
	frontendURL string
	logger      *log.Logger
	router      chi.Router
}

// New builds the router for the service.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		auth:        opts.Auth,
		events:      opts.Events,
		health:      opts.Health,
		frontendURL: opts.FrontendURL,
		logger:      logger.WithPrefix("http"),
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Route(basePath(opts.BasePath), func(r chi.Router) {
		r.Get("/auth/login", s.handleLogin)
		r.Get("/auth/callback", s.handleCallback)
		r.Post("/events", s.handleCreateEvents)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func basePath(path string) string {
	return "/" + strings.Trim(strings.TrimSpace(path), "/")
}

// requestID propagates the caller's X-Request-ID or generates one.
// The id is stored under chi's key so middleware.GetReqID finds it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		keyvals := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Error("request", keyvals...)
			return
		}
		s.logger.Info("request", keyvals...)
	})
}
