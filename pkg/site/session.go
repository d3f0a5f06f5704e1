package site

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"coursedl/pkg/config"
	"coursedl/pkg/errors"
	"coursedl/pkg/extract"
	"coursedl/pkg/logger"
	"coursedl/pkg/ratelimit"
	"golang.org/x/net/publicsuffix"
)

// State is the authentication state of a Session
type State int

const (
	Unauthenticated State = iota
	Authenticated
	Expired
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	default:
		return "unauthenticated"
	}
}

// Session owns the cookie jar and fixed headers used for one site during one
// run. It is shared by all workers; only the state field is mutable after
// construction.
type Session struct {
	httpClient  *http.Client
	headers     map[string]string
	limiter     ratelimit.Limiter
	logger      logger.Logger
	loginFormID string

	mu    sync.RWMutex
	state State
}

// NewSession creates a cookie-carrying session for the configured site.
// limiter may be nil to disable pacing.
func NewSession(cfg *config.SiteConfig, limiter ratelimit.Limiter, log logger.Logger) (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	s := newSession(cfg, limiter, log)
	s.httpClient.Jar = jar
	return s, nil
}

// NewAnonymousSession creates a session without cookies. Media and material
// files are fetched through it so CDN requests never carry site credentials.
func NewAnonymousSession(cfg *config.SiteConfig, log logger.Logger) *Session {
	return newSession(cfg, nil, log)
}

func newSession(cfg *config.SiteConfig, limiter ratelimit.Limiter, log logger.Logger) *Session {
	if log == nil {
		log = logger.GetLogger()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Session{
		// no timeout: large media transfers may legitimately run for a long time
		httpClient: &http.Client{Transport: transport},
		headers: map[string]string{
			"User-Agent":      cfg.UserAgent,
			"Accept":          cfg.Accept,
			"Accept-Language": cfg.AcceptLanguage,
		},
		limiter:     limiter,
		logger:      log,
		loginFormID: cfg.LoginFormID,
	}
}

// State returns the current authentication state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Get performs a GET without any authentication check. Extra headers are
// applied over the session defaults. The caller owns the response body.
func (s *Session) Get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.NewFetchError("failed to create request", rawURL, "", 0, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return s.doRequest(req)
}

// PostForm posts url-encoded form values
func (s *Session) PostForm(ctx context.Context, rawURL string, values url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, errors.NewFetchError("failed to create request", rawURL, "", 0, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.doRequest(req)
}

// GetPage fetches an HTML page that requires a logged-in session. It fails
// with an auth error before authentication, and once a response shows the
// login form again the session is marked expired and every later call fails.
func (s *Session) GetPage(ctx context.Context, rawURL string) ([]byte, error) {
	switch s.State() {
	case Unauthenticated:
		return nil, errors.NewAuthError("session is not authenticated", rawURL, nil)
	case Expired:
		return nil, errors.NewAuthError("session has expired", rawURL, nil)
	}

	resp, err := s.Get(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewFetchError(fmt.Sprintf("unexpected status %s", resp.Status), rawURL, "", resp.StatusCode, nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.NewFetchError("failed to read response body", rawURL, "", resp.StatusCode, err)
	}

	if s.loginFormID != "" && extract.HasForm(body, s.loginFormID) {
		s.setState(Expired)
		s.logger.WarnWithFields("Site answered with the login form, session expired", map[string]interface{}{
			"url": rawURL,
		})
		return nil, errors.NewAuthError("session has expired", rawURL, nil)
	}

	return body, nil
}

// doRequest applies session headers and pacing, then logs the exchange
func (s *Session) doRequest(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	for key, value := range s.headers {
		if value != "" && req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}

	start := time.Now()
	s.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.NewFetchError("request failed", req.URL.String(), "", 0, err)
	}

	logger.LogRequest(s.logger, req.Method, req.URL.String(), resp.StatusCode, time.Since(start))
	return resp, nil
}
