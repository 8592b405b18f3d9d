package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	headerAccessToken = "x-acs-dingtalk-access-token"
	markdownMsgKey    = "sampleMarkdown"
	reminderMethod    = "dingtalk"
)

// Config configures the DingTalk client.
type Config struct {
	OAPIBaseURL  string
	APIBaseURL   string
	AppKey       string
	AppSecret    string
	RobotCode    string
	TimeZone     string
	SendInterval time.Duration
	Timeout      time.Duration
	Retries      int
	RetryDelay   time.Duration
	Logger       *zap.Logger
}

// Token is an application access token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Event is a calendar event created on behalf of the first attendee.
type Event struct {
	Summary        string
	Description    string
	AttendeeUnions []string
	Start          time.Time
	End            time.Time
	ReminderLead   int
}

// Client talks to the DingTalk open platform.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
	pacer  *pacer

	mu    sync.RWMutex
	token Token
}

// New constructs a client.
func New(cfg Config) *Client {
	if cfg.OAPIBaseURL == "" {
		cfg.OAPIBaseURL = "https://oapi.dingtalk.com"
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.dingtalk.com"
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = "Asia/Shanghai"
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
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger,
		pacer:  newPacer(cfg.SendInterval),
	}
}

// APIError is returned when DingTalk answers with a non-zero errcode or a
// non-2xx status.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dingtalk error status=%d code=%s: %s", e.Status, e.Code, e.Message)
}

// Authenticate exchanges the app key and secret for an access token and keeps
// it for subsequent calls.
func (c *Client) Authenticate(ctx context.Context) (Token, error) {
	q := url.Values{}
	q.Set("appkey", c.cfg.AppKey)
	q.Set("appsecret", c.cfg.AppSecret)

	var out struct {
		ErrCode     int    `json:"errcode"`
		ErrMsg      string `json:"errmsg"`
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	err := c.withRetry(ctx, "gettoken", func() error {
		return c.doJSON(ctx, http.MethodGet, c.cfg.OAPIBaseURL+"/gettoken?"+q.Encode(), nil, nil, &out)
	})
	if err != nil {
		return Token{}, err
	}
	if out.ErrCode != 0 || out.AccessToken == "" {
		return Token{}, &APIError{Status: http.StatusOK, Code: fmt.Sprint(out.ErrCode), Message: out.ErrMsg}
	}

	token := Token{AccessToken: out.AccessToken, ExpiresAt: time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return token, nil
}

func (c *Client) accessToken() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token.AccessToken == "" {
		return "", errors.New("dingtalk client not authenticated")
	}
	return c.token.AccessToken, nil
}

// UnionID resolves an organisation user id to its cross-app union id.
func (c *Client) UnionID(ctx context.Context, userID string) (string, error) {
	token, err := c.accessToken()
	if err != nil {
		return "", err
	}
	var out struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
		Result  struct {
			UnionID string `json:"unionid"`
		} `json:"result"`
	}
	endpoint := c.cfg.OAPIBaseURL + "/topapi/v2/user/get?access_token=" + url.QueryEscape(token)
	err = c.withRetry(ctx, "user/get", func() error {
		return c.doJSON(ctx, http.MethodPost, endpoint, nil, map[string]string{"userid": userID}, &out)
	})
	if err != nil {
		return "", err
	}
	if out.ErrCode != 0 {
		return "", &APIError{Status: http.StatusOK, Code: fmt.Sprint(out.ErrCode), Message: out.ErrMsg}
	}
	if out.Result.UnionID == "" {
		return "", &APIError{Status: http.StatusOK, Code: "empty_unionid", Message: "user " + userID + " has no union id"}
	}
	return out.Result.UnionID, nil
}

// SendMarkdown delivers a one-to-one robot markdown message. Sends are spaced
// by the configured interval across all callers.
func (c *Client) SendMarkdown(ctx context.Context, userID, title, text string) error {
	token, err := c.accessToken()
	if err != nil {
		return err
	}
	param, err := json.Marshal(map[string]string{"title": title, "text": text})
	if err != nil {
		return err
	}
	body := map[string]interface{}{
		"robotCode": c.cfg.RobotCode,
		"userIds":   []string{userID},
		"msgKey":    markdownMsgKey,
		"msgParam":  string(param),
	}

	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}

	var out struct {
		ProcessQueryKey           string   `json:"processQueryKey"`
		InvalidStaffIDList        []string `json:"invalidStaffIdList"`
		FlowControlledStaffIDList []string `json:"flowControlledStaffIdList"`
	}
	err = c.withRetry(ctx, "robot/batchSend", func() error {
		return c.doJSON(ctx, http.MethodPost, c.cfg.APIBaseURL+"/v1.0/robot/oToMessages/batchSend", authHeader(token), body, &out)
	})
	if err != nil {
		return err
	}
	if contains(out.InvalidStaffIDList, userID) {
		return &APIError{Status: http.StatusOK, Code: "invalid_staff", Message: "user " + userID + " rejected by robot"}
	}
	if contains(out.FlowControlledStaffIDList, userID) {
		return &APIError{Status: http.StatusTooManyRequests, Code: "flow_controlled", Message: "user " + userID + " is flow controlled"}
	}
	return nil
}

// CreateEvent creates a calendar event in the first attendee's primary
// calendar, inviting every attendee.
func (c *Client) CreateEvent(ctx context.Context, event Event) (string, error) {
	if len(event.AttendeeUnions) == 0 {
		return "", errors.New("calendar event needs at least one attendee")
	}
	token, err := c.accessToken()
	if err != nil {
		return "", err
	}

	attendees := make([]map[string]string, 0, len(event.AttendeeUnions))
	for _, id := range event.AttendeeUnions {
		attendees = append(attendees, map[string]string{"id": id})
	}
	body := map[string]interface{}{
		"summary":     event.Summary,
		"description": event.Description,
		"isAllDay":    false,
		"start":       map[string]string{"dateTime": event.Start.Format(time.RFC3339), "timeZone": c.cfg.TimeZone},
		"end":         map[string]string{"dateTime": event.End.Format(time.RFC3339), "timeZone": c.cfg.TimeZone},
		"attendees":   attendees,
		"reminders":   []map[string]interface{}{{"method": reminderMethod, "minutes": event.ReminderLead}},
	}

	var out struct {
		ID string `json:"id"`
	}
	endpoint := fmt.Sprintf("%s/v1.0/calendar/users/%s/calendars/primary/events", c.cfg.APIBaseURL, url.PathEscape(event.AttendeeUnions[0]))
	err = c.withRetry(ctx, "calendar/events", func() error {
		return c.doJSON(ctx, http.MethodPost, endpoint, authHeader(token), body, &out)
	})
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

func authHeader(token string) http.Header {
	h := http.Header{}
	h.Set(headerAccessToken, token)
	return h
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, header http.Header, body, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(raw)
		}
		return &APIError{Status: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
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
		c.logger.Sugar().Warnw("dingtalk request failed, retrying", "op", op, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryDelay):
		}
	}
	return fmt.Errorf("dingtalk %s: %w", op, err)
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError || apiErr.Status == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
