package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gabs/internal/booking"
	"gabs/internal/database"
	"gabs/internal/domain"
	"gabs/internal/models"
	"gabs/internal/portal"
	"gabs/internal/session"
)

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	if _, err := s.sessions.Login(r.Context(), body.Username, body.Password); err != nil {
		switch {
		case errors.Is(err, portal.ErrAuthFailed):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, session.ErrCoolingDown):
			writeError(w, http.StatusTooManyRequests, "too many failed logins, try again later")
		default:
			s.logger.Error().Err(err).Str("username", body.Username).Msg("login failed")
			writeError(w, http.StatusBadGateway, "portal login failed")
		}
		return
	}

	token, expires := s.auth.Issue(body.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expires.Format(time.RFC3339),
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.auth.Revoke(bearerToken(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *HTTPServer) handleAutoBookings(w http.ResponseWriter, r *http.Request, username string) {
	switch r.Method {
	case http.MethodGet:
		bookings, err := s.store.GetAutoBookingsForUser(r.Context(), username)
		if err != nil {
			s.logger.Error().Err(err).Msg("list auto bookings failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"auto_bookings": bookings})

	case http.MethodPost:
		var body struct {
			ClassName  string `json:"class_name"`
			DayOfWeek  string `json:"day_of_week"`
			TargetTime string `json:"target_time"`
			Instructor string `json:"instructor"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(body.ClassName) == "" {
			writeError(w, http.StatusBadRequest, "class_name is required")
			return
		}
		if _, err := models.ParseWeekday(body.DayOfWeek); err != nil {
			writeError(w, http.StatusBadRequest, "day_of_week must be Monday..Sunday")
			return
		}
		if _, err := time.Parse(models.TimeLayout, body.TargetTime); err != nil {
			writeError(w, http.StatusBadRequest, "target_time must be HH:MM")
			return
		}

		b := &models.AutoBooking{
			Username:   username,
			ClassName:  strings.TrimSpace(body.ClassName),
			TargetTime: body.TargetTime,
			DayOfWeek:  body.DayOfWeek,
			Instructor: strings.TrimSpace(body.Instructor),
			Status:     models.StatusPending,
		}
		if err := s.store.CreateAutoBooking(r.Context(), b); err != nil {
			s.logger.Error().Err(err).Msg("create auto booking failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, b)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleAutoBookingByID(w http.ResponseWriter, r *http.Request, username string) {
	const prefix = "/api/v1/auto-bookings/"
	idStr := strings.TrimPrefix(r.URL.Path, prefix)
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		b, err := s.store.GetAutoBooking(r.Context(), id)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if b.Username != username {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, http.StatusOK, b)

	case http.MethodDelete:
		deleted, err := s.store.DeleteAutoBooking(r.Context(), id, username)
		if err != nil {
			s.logger.Error().Err(err).Int64("id", id).Msg("delete auto booking failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !deleted {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleBookings(w http.ResponseWriter, r *http.Request, username string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	bookings, err := s.store.ListLiveBookingsForUser(r.Context(), username)
	if err != nil {
		s.logger.Error().Err(err).Msg("list bookings failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

type manualRequest struct {
	ClassName string `json:"class_name"`
	Date      string `json:"date"`
	Time      string `json:"time"`
}

func (r manualRequest) validate() string {
	if strings.TrimSpace(r.ClassName) == "" {
		return "class_name is required"
	}
	if _, err := time.Parse(models.DateLayout, r.Date); err != nil {
		return "date must be YYYY-MM-DD"
	}
	if _, err := time.Parse(models.TimeLayout, r.Time); err != nil {
		return "time must be HH:MM"
	}
	return ""
}

func (s *HTTPServer) handleManualBook(w http.ResponseWriter, r *http.Request, username string) {
	s.handleManualAction(w, r, username, models.ActionBook)
}

func (s *HTTPServer) handleManualCancel(w http.ResponseWriter, r *http.Request, username string) {
	s.handleManualAction(w, r, username, models.ActionCancel)
}

func (s *HTTPServer) handleManualAction(w http.ResponseWriter, r *http.Request, username, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body manualRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := body.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	var (
		result booking.AttemptResult
		err    error
	)
	if action == models.ActionBook {
		result, err = s.manual.Book(r.Context(), username, body.ClassName, body.Date, body.Time)
	} else {
		result, err = s.manual.Cancel(r.Context(), username, body.ClassName, body.Date, body.Time)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("manual action failed")
		writeError(w, http.StatusBadGateway, "portal unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"outcome": result.Outcome,
		"message": result.Message,
	})
}

func (s *HTTPServer) handleClasses(w http.ResponseWriter, r *http.Request, username string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	classes, ok := s.fetchClasses(w, r, username)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"classes": classes})
}

func (s *HTTPServer) handleInstructors(w http.ResponseWriter, r *http.Request, username string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	classes, ok := s.fetchClasses(w, r, username)
	if !ok {
		return
	}
	index := make(map[string][]models.ClassCandidate)
	for _, c := range classes {
		if c.Instructor == "" {
			continue
		}
		index[c.Instructor] = append(index[c.Instructor], c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"instructors": index})
}

// fetchClasses scrapes the upcoming schedule for the caller; on failure it
// writes the error response and reports ok=false.
func (s *HTTPServer) fetchClasses(w http.ResponseWriter, r *http.Request, username string) ([]models.ClassCandidate, bool) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 31 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 31")
			return nil, false
		}
		days = n
	}

	client, err := s.sessions.Obtain(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusBadGateway, "no portal session")
		return nil, false
	}

	var classes []models.ClassCandidate
	err = session.WithRelogin(r.Context(), s.sessions, client, func(c domain.PortalClient) error {
		var opErr error
		classes, opErr = c.FetchClasses(r.Context(), days)
		return opErr
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("fetch classes failed")
		writeError(w, http.StatusBadGateway, "portal unavailable")
		return nil, false
	}
	return classes, true
}

func (s *HTTPServer) handleSubscriptions(w http.ResponseWriter, r *http.Request, username string) {
	switch r.Method {
	case http.MethodPost:
		var body struct {
			Endpoint string `json:"endpoint"`
			Keys     string `json:"keys"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if body.Endpoint == "" {
			writeError(w, http.StatusBadRequest, "endpoint is required")
			return
		}
		sub := &models.PushSubscription{Username: username, Endpoint: body.Endpoint, Keys: body.Keys}
		if err := s.store.CreatePushSubscription(r.Context(), sub); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "subscribed"})

	case http.MethodDelete:
		endpoint := r.URL.Query().Get("endpoint")
		if endpoint == "" {
			writeError(w, http.StatusBadRequest, "endpoint is required")
			return
		}
		if err := s.store.DeletePushSubscription(r.Context(), username, endpoint); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	start := r.URL.Query().Get("start")
	end := r.URL.Query().Get("end")
	if _, err := time.Parse(models.DateLayout, start); err != nil {
		writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return
	}
	if _, err := time.Parse(models.DateLayout, end); err != nil {
		writeError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
		return
	}

	path, err := s.exporter.BookingsToExcel(r.Context(), start, end)
	if err != nil {
		s.logger.Error().Err(err).Msg("export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	defer os.Remove(path)

	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(path))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	http.ServeFile(w, r, path)
}
