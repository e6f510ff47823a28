// Package api exposes the HTTP surface: auth, recurring-booking management,
// live bookings, class browsing, manual actions and exports.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"gabs/internal/booking"
	"gabs/internal/config"
	"gabs/internal/domain"
	"gabs/internal/export"
)

type HTTPServer struct {
	cfg      config.APIConfig
	store    domain.Store
	sessions domain.SessionProvider
	manual   *booking.ManualService
	exporter *export.Exporter
	auth     *Auth
	server   *http.Server
	logger   zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, store domain.Store, sessions domain.SessionProvider,
	manual *booking.ManualService, exporter *export.Exporter, logger *zerolog.Logger) *HTTPServer {

	srv := &HTTPServer{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		manual:   manual,
		exporter: exporter,
		auth:     NewAuth(cfg),
		logger:   logger.With().Str("component", "api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", srv.handleLogin)
	mux.HandleFunc("/api/v1/auth/logout", srv.requireAuth(srv.handleLogout))
	mux.HandleFunc("/api/v1/auto-bookings", srv.requireAuth(srv.handleAutoBookings))
	mux.HandleFunc("/api/v1/auto-bookings/", srv.requireAuth(srv.handleAutoBookingByID))
	mux.HandleFunc("/api/v1/bookings", srv.requireAuth(srv.handleBookings))
	mux.HandleFunc("/api/v1/bookings/book", srv.requireAuth(srv.handleManualBook))
	mux.HandleFunc("/api/v1/bookings/cancel", srv.requireAuth(srv.handleManualCancel))
	mux.HandleFunc("/api/v1/classes", srv.requireAuth(srv.handleClasses))
	mux.HandleFunc("/api/v1/instructors", srv.requireAuth(srv.handleInstructors))
	mux.HandleFunc("/api/v1/subscriptions", srv.requireAuth(srv.handleSubscriptions))
	mux.HandleFunc("/api/v1/export", srv.requireAuth(srv.handleExport))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.loggingMiddleware(srv.rateLimitMiddleware(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, username string)

func (s *HTTPServer) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		username, err := s.auth.Resolve(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next(w, r, username)
	}
}

func (s *HTTPServer) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Allow(r) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
