package pocketbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 200
	defaultSort     = "-updated"
	// Tokens are refreshed this long before their exp claim.
	tokenRefreshSkew = 5 * time.Minute
)

// Config configures a records client.
type Config struct {
	BaseURL    string
	PageSize   int
	Identity   string
	Password   string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Page is one page of a collection listing.
type Page struct {
	Page       int               `json:"page"`
	PerPage    int               `json:"perPage"`
	TotalItems int               `json:"totalItems"`
	TotalPages int               `json:"totalPages"`
	Items      []json.RawMessage `json:"items"`
}

// ListOptions narrows a collection listing.
type ListOptions struct {
	Filter string
	Sort   string
}

// Client reads collection records page by page.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New constructs a records client.
func New(cfg Config) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, logger: cfg.Logger}
}

// ListAll walks every page of collection and returns the raw items in order.
func (c *Client) ListAll(ctx context.Context, collection string, opts ListOptions) ([]json.RawMessage, error) {
	if opts.Sort == "" {
		opts.Sort = defaultSort
	}

	var items []json.RawMessage
	for page := 1; ; page++ {
		p, err := c.ListPage(ctx, collection, page, opts)
		if err != nil {
			return nil, err
		}
		items = append(items, p.Items...)
		if len(p.Items) == 0 || page >= p.TotalPages {
			break
		}
	}
	return items, nil
}

// ListPage fetches a single page of collection.
func (c *Client) ListPage(ctx context.Context, collection string, page int, opts ListOptions) (*Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("perPage", strconv.Itoa(c.cfg.PageSize))
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}
	if opts.Filter != "" {
		q.Set("filter", opts.Filter)
	}
	endpoint := fmt.Sprintf("%s/api/collections/%s/records?%s", c.cfg.BaseURL, url.PathEscape(collection), q.Encode())

	var out Page
	if err := c.withRetry(ctx, "list "+collection, func() error {
		return c.getJSON(ctx, endpoint, &out)
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	token, err := c.authToken(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// authToken returns a cached superuser token, re-authenticating when the
// token is missing or close to its exp claim. Anonymous access is used when
// no identity is configured.
func (c *Client) authToken(ctx context.Context) (string, error) {
	if c.cfg.Identity == "" {
		return "", nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Add(tokenRefreshSkew).Before(c.tokenExpiry) {
		return c.token, nil
	}

	payload, err := json.Marshal(map[string]string{"identity": c.cfg.Identity, "password": c.cfg.Password})
	if err != nil {
		return "", err
	}
	endpoint := c.cfg.BaseURL + "/api/collections/_superusers/auth-with-password"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("authenticate records source: %w", err)
	}

	expiry, err := TokenExpiry(out.Token)
	if err != nil {
		return "", fmt.Errorf("read records token expiry: %w", err)
	}
	c.token = out.Token
	c.tokenExpiry = expiry
	return c.token, nil
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature;
// the token is only ever sent back to the server that issued it.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("token has no exp claim")
	}
	return exp.Time, nil
}

func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) || attempt == c.cfg.Retries {
			break
		}
		c.logger.Sugar().Warnw("records request failed, retrying", "op", op, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryDelay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("records source returned status %d: %s", e.Code, e.Body)
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError || se.Code == http.StatusTooManyRequests
	}
	return true
}
