// Package session continues the caller's auth-provider session on every
// request: it validates the access token and, once expired, exchanges the
// refresh token and writes the new session cookie.
package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/movpey/movpey/internal/config"
)

// ErrMisconfigured is returned when the provider URL or key is unusable.
var ErrMisconfigured = errors.New("session: provider not configured")

// placeholderMarkers appear in template values that were never filled in.
var placeholderMarkers = []string{"your-project", "your_supabase", "your-supabase", "placeholder", "example"}

const (
	cookiePrefix  = "base64-"
	cookieMaxAge  = 400 * 24 * 60 * 60
	maxAuthBody   = 1 << 20
	defaultLeeway = 10 * time.Second
)

// Session is the token set stored in the session cookie.
type Session struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	TokenType    string          `json:"token_type,omitempty"`
	ExpiresIn    int64           `json:"expires_in,omitempty"`
	ExpiresAt    int64           `json:"expires_at,omitempty"`
	User         json.RawMessage `json:"user,omitempty"`
}

// User is the subset of the provider's user object the edge cares about.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Client talks to the auth provider's REST API.
type Client struct {
	baseURL    string
	key        string
	cookieName string
	leeway     time.Duration
	http       *http.Client
	now        func() time.Time
}

// NewClient validates cfg and returns a client. Missing values, template
// placeholders and non-HTTP URLs yield ErrMisconfigured.
func NewClient(cfg config.SessionConfig, httpClient *http.Client) (*Client, error) {
	rawURL := strings.TrimSpace(cfg.URL)
	key := strings.TrimSpace(cfg.Key)
	if rawURL == "" || key == "" {
		return nil, ErrMisconfigured
	}
	lower := strings.ToLower(rawURL + " " + key)
	for _, m := range placeholderMarkers {
		if strings.Contains(lower, m) {
			return nil, fmt.Errorf("%w: placeholder value", ErrMisconfigured)
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: url must be http(s)", ErrMisconfigured)
	}

	name := cfg.CookieName
	if name == "" {
		name = "sb-" + strings.Split(u.Hostname(), ".")[0] + "-auth-token"
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(u.String(), "/"),
		key:        key,
		cookieName: name,
		leeway:     leeway,
		http:       httpClient,
		now:        time.Now,
	}, nil
}

// CookieName returns the name of the session cookie.
func (c *Client) CookieName() string {
	return c.cookieName
}

// ReadSession decodes the session cookie from r.
func (c *Client) ReadSession(r *http.Request) (*Session, bool) {
	ck, err := r.Cookie(c.cookieName)
	if err != nil || ck.Value == "" {
		return nil, false
	}
	s, err := DecodeCookie(ck.Value)
	if err != nil || s.RefreshToken == "" && s.AccessToken == "" {
		return nil, false
	}
	return s, true
}

// DecodeCookie parses a cookie value holding JSON, optionally base64url
// encoded behind a "base64-" prefix.
func DecodeCookie(value string) (*Session, error) {
	raw := []byte(value)
	if strings.HasPrefix(value, cookiePrefix) {
		enc := strings.TrimPrefix(value, cookiePrefix)
		b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(enc, "="))
		if err != nil {
			return nil, fmt.Errorf("session cookie: %w", err)
		}
		raw = b
	} else if unescaped, err := url.QueryUnescape(value); err == nil {
		raw = []byte(unescaped)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("session cookie: %w", err)
	}
	return &s, nil
}

// EncodeCookie serializes s in the "base64-" cookie format.
func EncodeCookie(s *Session) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return cookiePrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// Expired reports whether the access token is expired or about to be.
// expires_at wins; otherwise the JWT exp claim is read without verification.
func (c *Client) Expired(s *Session) bool {
	exp := s.ExpiresAt
	if exp == 0 && s.AccessToken != "" {
		tok, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, jwt.MapClaims{})
		if err == nil {
			if t, err := tok.Claims.GetExpirationTime(); err == nil && t != nil {
				exp = t.Unix()
			}
		}
	}
	if exp == 0 {
		return true
	}
	return c.now().Add(c.leeway).Unix() >= exp
}

// GetUser fetches the user behind accessToken.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var u User
	if err := c.do(req, &u); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// Refresh exchanges refreshToken for a new session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	body, _ := json.Marshal(map[string]string{"refresh_token": refreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/v1/token?grant_type=refresh_token", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var s Session
	if err := c.do(req, &s); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	if s.AccessToken == "" || s.RefreshToken == "" {
		return nil, fmt.Errorf("refresh session: incomplete token response")
	}
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = c.now().Unix() + s.ExpiresIn
	}
	return &s, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("apikey", c.key)
	req.Header.Set("Accept", "application/json")
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAuthBody))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.Unmarshal(data, out)
}
