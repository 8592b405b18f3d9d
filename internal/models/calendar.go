package models

import "time"

// CalendarEvent is a reminder created on the messaging platform calendar.
type CalendarEvent struct {
	Title               string    `json:"title"`
	Description         string    `json:"description"`
	Identities          []string  `json:"identities"`
	Start               time.Time `json:"start"`
	End                 time.Time `json:"end"`
	ReminderLeadMinutes int       `json:"reminder_lead_minutes"`
}

// Credential is an access token issued by the messaging platform.
type Credential struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the credential can still be used at now.
func (c *Credential) Valid(now time.Time) bool {
	return c != nil && c.AccessToken != "" && now.Before(c.ExpiresAt)
}
