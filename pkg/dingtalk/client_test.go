package dingtalk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlatform struct {
	mu       sync.Mutex
	sends    []map[string]interface{}
	sendAt   []time.Time
	events   []map[string]interface{}
	eventFor []string
	invalid  []string
}

func (f *fakePlatform) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/gettoken", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("appsecret") != "secret" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"errcode": 40089, "errmsg": "invalid appsecret"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"errcode": 0, "access_token": "tok", "expires_in": 7200})
	})
	mux.HandleFunc("/topapi/v2/user/get", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["userid"] == "ghost" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"errcode": 60121, "errmsg": "user not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"errcode": 0, "result": map[string]string{"unionid": "union-" + body["userid"]}})
	})
	mux.HandleFunc("/v1.0/robot/oToMessages/batchSend", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get(headerAccessToken))
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.sends = append(f.sends, body)
		f.sendAt = append(f.sendAt, time.Now())
		invalid := f.invalid
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"processQueryKey": "k", "invalidStaffIdList": invalid})
	})
	mux.HandleFunc("/v1.0/calendar/users/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.events = append(f.events, body)
		f.eventFor = append(f.eventFor, r.URL.Path)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "evt-1"})
	})
	return httptest.NewServer(mux)
}

func newTestClient(srvURL string, interval time.Duration) *Client {
	return New(Config{
		OAPIBaseURL:  srvURL,
		APIBaseURL:   srvURL,
		AppKey:       "key",
		AppSecret:    "secret",
		RobotCode:    "robot",
		SendInterval: interval,
		RetryDelay:   time.Millisecond,
	})
}

func TestAuthenticateAndResolveUnionID(t *testing.T) {
	platform := &fakePlatform{}
	srv := platform.server(t)
	defer srv.Close()
	client := newTestClient(srv.URL, 0)

	_, err := client.UnionID(context.Background(), "u1")
	require.Error(t, err, "calls before authentication must fail")

	token, err := client.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", token.AccessToken)
	assert.True(t, token.ExpiresAt.After(time.Now()))

	union, err := client.UnionID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "union-u1", union)

	_, err = client.UnionID(context.Background(), "ghost")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "60121", apiErr.Code)
}

func TestAuthenticateRejectsBadSecret(t *testing.T) {
	platform := &fakePlatform{}
	srv := platform.server(t)
	defer srv.Close()
	client := New(Config{OAPIBaseURL: srv.URL, AppKey: "key", AppSecret: "wrong"})

	_, err := client.Authenticate(context.Background())
	require.Error(t, err)
}

func TestSendMarkdownIsPaced(t *testing.T) {
	platform := &fakePlatform{}
	srv := platform.server(t)
	defer srv.Close()
	interval := 40 * time.Millisecond
	client := newTestClient(srv.URL, interval)
	_, err := client.Authenticate(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, user := range []string{"u1", "u2", "u3"} {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			assert.NoError(t, client.SendMarkdown(context.Background(), u, "Today", "body"))
		}(user)
	}
	wg.Wait()

	require.Len(t, platform.sendAt, 3)
	first, last := platform.sendAt[0], platform.sendAt[0]
	for _, ts := range platform.sendAt {
		if ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}
	assert.GreaterOrEqual(t, last.Sub(first), 2*interval-10*time.Millisecond)

	body := platform.sends[0]
	assert.Equal(t, "robot", body["robotCode"])
	assert.Equal(t, markdownMsgKey, body["msgKey"])
	var param map[string]string
	require.NoError(t, json.Unmarshal([]byte(body["msgParam"].(string)), &param))
	assert.Equal(t, "Today", param["title"])
}

func TestSendMarkdownReportsInvalidUser(t *testing.T) {
	platform := &fakePlatform{invalid: []string{"u9"}}
	srv := platform.server(t)
	defer srv.Close()
	client := newTestClient(srv.URL, 0)
	_, err := client.Authenticate(context.Background())
	require.NoError(t, err)

	err = client.SendMarkdown(context.Background(), "u9", "t", "b")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid_staff", apiErr.Code)
}

func TestCreateEvent(t *testing.T) {
	platform := &fakePlatform{}
	srv := platform.server(t)
	defer srv.Close()
	client := newTestClient(srv.URL, 0)
	_, err := client.Authenticate(context.Background())
	require.NoError(t, err)

	loc := time.FixedZone("CST", 8*3600)
	id, err := client.CreateEvent(context.Background(), Event{
		Summary:        "Math: ",
		Description:    "[Lesson 2 10:05-11:40]\nMath",
		AttendeeUnions: []string{"union-u1"},
		Start:          time.Date(2024, 3, 5, 10, 5, 0, 0, loc),
		End:            time.Date(2024, 3, 5, 11, 40, 0, 0, loc),
		ReminderLead:   30,
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", id)
	require.Len(t, platform.events, 1)
	assert.Equal(t, "/v1.0/calendar/users/union-u1/calendars/primary/events", platform.eventFor[0])
	start := platform.events[0]["start"].(map[string]interface{})
	assert.Equal(t, "2024-03-05T10:05:00+08:00", start["dateTime"])
	reminders := platform.events[0]["reminders"].([]interface{})
	assert.Equal(t, float64(30), reminders[0].(map[string]interface{})["minutes"])

	_, err = client.CreateEvent(context.Background(), Event{})
	assert.Error(t, err)
}
