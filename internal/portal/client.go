// Package portal implements the client for the gym's server-rendered booking
// site. The site exposes no API: authentication is a CSRF-protected form
// post, class lists arrive as HTML partials inside JSON envelopes, and an
// expired session announces itself only as a redirect marker in the
// response. All of that is confined to this package; callers see typed
// entries and sentinel errors.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"gabs/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	// ErrSessionExpired signals the portal's redirect-to-login response.
	// It is distinguished from generic failures so the resilience layer can
	// re-login and retry exactly once.
	ErrSessionExpired = errors.New("portal session expired")
	// ErrAuthFailed signals rejected credentials.
	ErrAuthFailed = errors.New("portal authentication failed")
)

const (
	loginPath   = "/login"
	membersPath = "/members"
	bookingPath = "/book-classes"

	headerHandler  = "X-Winter-Request-Handler"
	headerPartials = "X-Winter-Request-Partials"
	headerCSRF     = "x-csrf-token"

	redirectMarker = "X_OCTOBER_REDIRECT"
	loginRedirect  = "X_WINTER_REDIRECT"
)

type Config struct {
	BaseURL           string
	UserAgent         string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	RequestBurst      int
}

type Client struct {
	cfg      Config
	username string
	http     *http.Client
	jar      *cookiejar.Jar
	limiter  *rate.Limiter
	logger   zerolog.Logger

	csrfToken string
}

func NewClient(cfg Config, username string, logger *zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("portal base URL is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = 4
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	return &Client{
		cfg:      cfg,
		username: username,
		jar:      jar,
		http:     &http.Client{Jar: jar, Timeout: cfg.RequestTimeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestBurst),
		logger:   logger.With().Str("component", "portal").Str("username", username).Logger(),
	}, nil
}

func (c *Client) Username() string { return c.username }

// Login establishes a fresh authenticated session with the given password.
func (c *Client) Login(ctx context.Context, password string) error {
	token, err := c.fetchCSRFToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: fetch csrf token: %v", ErrAuthFailed, err)
	}
	c.csrfToken = token

	form := url.Values{
		"login":    {c.username},
		"password": {password},
	}
	body, err := c.postForm(ctx, loginPath, form, "onSignin", "")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: unexpected login response", ErrAuthFailed)
	}
	if _, ok := resp[loginRedirect]; !ok {
		return fmt.Errorf("%w: server rejected credentials", ErrAuthFailed)
	}

	c.logger.Info().Msg("login successful")
	return nil
}

// ClassesForDate fetches and parses the class list for one calendar date
// (YYYY-MM-DD). The raw HTML partial is returned alongside the entries so
// no-match failures can be dumped for diagnosis.
func (c *Client) ClassesForDate(ctx context.Context, date string) ([]ClassEntry, string, error) {
	form := url.Values{"date": {date}}
	body, err := c.postForm(ctx, bookingPath, form, "onDate", "@events")
	if err != nil {
		return nil, "", fmt.Errorf("fetch classes for %s: %w", date, err)
	}

	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("fetch classes for %s: decode response: %w", date, err)
	}
	if _, ok := resp[redirectMarker]; ok {
		return nil, "", ErrSessionExpired
	}

	partial, _ := resp["@events"].(string)
	entries, err := parseClassEntries(partial, date)
	if err != nil {
		return nil, partial, fmt.Errorf("parse classes for %s: %w", date, err)
	}
	return entries, partial, nil
}

// Submit posts a booking or cancellation form. A redirect marker in the
// response means the session went stale mid-flight.
func (c *Client) Submit(ctx context.Context, form BookingForm) error {
	values := url.Values{
		"id":        {form.ClassID},
		"timestamp": {form.Timestamp},
	}
	body, err := c.postForm(ctx, bookingPath, values, form.Handler, "")
	if err != nil {
		return fmt.Errorf("submit %s: %w", form.Handler, err)
	}
	if strings.Contains(string(body), redirectMarker) {
		return ErrSessionExpired
	}
	return nil
}

// CurrentBookings scrapes the members area for the bookings the user
// actually holds right now, waiting-list entries included.
func (c *Client) CurrentBookings(ctx context.Context) ([]BookingSnapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+membersPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch members page: %w", err)
	}
	defer resp.Body.Close()

	// An unauthenticated request lands back on the login page.
	if strings.Contains(resp.Request.URL.Path, loginPath) {
		return nil, ErrSessionExpired
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read members page: %w", err)
	}
	return parseCurrentBookings(string(body), time.Now())
}

func (c *Client) fetchCSRFToken(ctx context.Context) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+loginPath, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	token := parseCSRFToken(string(body))
	if token == "" {
		return "", fmt.Errorf("csrf token meta tag not found")
	}
	return token, nil
}

func (c *Client) postForm(ctx context.Context, path string, values url.Values, handler, partials string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path,
		strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set(headerHandler, handler)
	if partials != "" {
		req.Header.Set(headerPartials, partials)
	}
	if c.csrfToken != "" {
		req.Header.Set(headerCSRF, c.csrfToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// State serializes the session cookies and CSRF token for persistence.
func (c *Client) State() (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", err
	}

	state := sessionState{CSRFToken: c.csrfToken}
	for _, ck := range c.jar.Cookies(u) {
		state.Cookies = append(state.Cookies, sessionCookie{Name: ck.Name, Value: ck.Value})
	}

	data, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RestoreState rebuilds the cookie jar and CSRF token from a persisted blob.
func (c *Client) RestoreState(blob string) error {
	var state sessionState
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return fmt.Errorf("decode session state: %w", err)
	}

	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return err
	}

	cookies := make([]*http.Cookie, 0, len(state.Cookies))
	for _, ck := range state.Cookies {
		cookies = append(cookies, &http.Cookie{Name: ck.Name, Value: ck.Value, Path: "/"})
	}
	c.jar.SetCookies(u, cookies)
	c.csrfToken = state.CSRFToken
	return nil
}

type sessionState struct {
	CSRFToken string          `json:"csrf_token"`
	Cookies   []sessionCookie `json:"cookies"`
}

type sessionCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FetchClasses collects candidates for the next N days, skipping days that
// fail to load. Used by the browse endpoints, not the processor.
func (c *Client) FetchClasses(ctx context.Context, days int) ([]models.ClassCandidate, error) {
	var all []models.ClassCandidate
	for i := 0; i < days; i++ {
		date := time.Now().AddDate(0, 0, i).Format(models.DateLayout)
		entries, _, err := c.ClassesForDate(ctx, date)
		if err != nil {
			if errors.Is(err, ErrSessionExpired) {
				return nil, err
			}
			c.logger.Warn().Err(err).Str("date", date).Msg("could not retrieve classes")
			continue
		}
		for _, e := range entries {
			all = append(all, e.Candidate)
		}
	}
	return all, nil
}
