package service

import (
	"context"
	"strings"

	"github.com/noah-isme/sma-digest-notifier/internal/models"
	"github.com/noah-isme/sma-digest-notifier/pkg/dingtalk"
)

type dingtalkClient interface {
	Authenticate(ctx context.Context) (dingtalk.Token, error)
	UnionID(ctx context.Context, userID string) (string, error)
	SendMarkdown(ctx context.Context, userID, title, text string) error
	CreateEvent(ctx context.Context, event dingtalk.Event) (string, error)
}

// DingTalkGateway adapts the DingTalk client to NotificationGateway.
type DingTalkGateway struct {
	client dingtalkClient
}

// NewDingTalkGateway wraps client.
func NewDingTalkGateway(client dingtalkClient) *DingTalkGateway {
	return &DingTalkGateway{client: client}
}

// Authenticate obtains a fresh application token.
func (g *DingTalkGateway) Authenticate(ctx context.Context) (*models.Credential, error) {
	token, err := g.client.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	return &models.Credential{AccessToken: token.AccessToken, ExpiresAt: token.ExpiresAt}, nil
}

// ResolveIdentity maps an organisation user id to its union id.
func (g *DingTalkGateway) ResolveIdentity(ctx context.Context, userID string) (string, error) {
	return g.client.UnionID(ctx, userID)
}

// SendMessage delivers body as a markdown message.
func (g *DingTalkGateway) SendMessage(ctx context.Context, userID, title, body string) error {
	return g.client.SendMarkdown(ctx, userID, title, markdownLines(body))
}

// CreateCalendarEvent creates event in the first identity's calendar.
func (g *DingTalkGateway) CreateCalendarEvent(ctx context.Context, event models.CalendarEvent) error {
	_, err := g.client.CreateEvent(ctx, dingtalk.Event{
		Summary:        event.Title,
		Description:    event.Description,
		AttendeeUnions: event.Identities,
		Start:          event.Start,
		End:            event.End,
		ReminderLead:   event.ReminderLeadMinutes,
	})
	return err
}

// markdownLines keeps single line breaks, which markdown would otherwise fold.
func markdownLines(text string) string {
	return strings.ReplaceAll(text, "\n", "  \n")
}
