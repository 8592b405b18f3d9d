package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-digest-notifier/internal/models"
	"github.com/noah-isme/sma-digest-notifier/pkg/dingtalk"
)

type dingtalkClientStub struct {
	token    dingtalk.Token
	authErr  error
	unionIDs map[string]string
	texts    []string
	events   []dingtalk.Event
}

func (d *dingtalkClientStub) Authenticate(context.Context) (dingtalk.Token, error) {
	return d.token, d.authErr
}

func (d *dingtalkClientStub) UnionID(_ context.Context, userID string) (string, error) {
	id, ok := d.unionIDs[userID]
	if !ok {
		return "", errors.New("unknown user")
	}
	return id, nil
}

func (d *dingtalkClientStub) SendMarkdown(_ context.Context, _, _, text string) error {
	d.texts = append(d.texts, text)
	return nil
}

func (d *dingtalkClientStub) CreateEvent(_ context.Context, event dingtalk.Event) (string, error) {
	d.events = append(d.events, event)
	return "evt-1", nil
}

func TestDingTalkGatewayAuthenticate(t *testing.T) {
	exp := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	gw := NewDingTalkGateway(&dingtalkClientStub{token: dingtalk.Token{AccessToken: "abc", ExpiresAt: exp}})

	cred, err := gw.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", cred.AccessToken)
	assert.True(t, cred.Valid(exp.Add(-time.Minute)))
	assert.False(t, cred.Valid(exp))

	failing := NewDingTalkGateway(&dingtalkClientStub{authErr: errors.New("bad secret")})
	_, err = failing.Authenticate(context.Background())
	assert.Error(t, err)
}

func TestDingTalkGatewaySendKeepsLineBreaks(t *testing.T) {
	client := &dingtalkClientStub{}
	gw := NewDingTalkGateway(client)

	require.NoError(t, gw.SendMessage(context.Background(), "u1", "title", "Math\nRoom 101"))
	require.Len(t, client.texts, 1)
	assert.Equal(t, "Math  \nRoom 101", client.texts[0])
}

func TestDingTalkGatewayCalendarEvent(t *testing.T) {
	client := &dingtalkClientStub{unionIDs: map[string]string{"u1": "union-1"}}
	gw := NewDingTalkGateway(client)

	id, err := gw.ResolveIdentity(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "union-1", id)

	start := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	err = gw.CreateCalendarEvent(context.Background(), models.CalendarEvent{
		Title:               "Math: A",
		Description:         "Math",
		Identities:          []string{id},
		Start:               start,
		End:                 start.Add(95 * time.Minute),
		ReminderLeadMinutes: 90,
	})
	require.NoError(t, err)
	require.Len(t, client.events, 1)
	assert.Equal(t, "Math: A", client.events[0].Summary)
	assert.Equal(t, []string{"union-1"}, client.events[0].AttendeeUnions)
	assert.Equal(t, 90, client.events[0].ReminderLead)
}
