package models

import "time"

// JobKind names the notification occasions driven by the dispatcher.
type JobKind string

const (
	JobRefresh       JobKind = "refresh"
	JobMorningDigest JobKind = "morning_digest"
	JobSlotDigest    JobKind = "slot_digest"
	JobEveningDigest JobKind = "evening_digest"
	JobCalendar      JobKind = "calendar"
)

// DeliveryStatus is the outcome of one notification attempt.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "SENT"
	DeliveryFailed    DeliveryStatus = "FAILED"
	DeliveryDuplicate DeliveryStatus = "DUPLICATE"
)

// DeliveryRecord is an audit row for one notification attempt.
type DeliveryRecord struct {
	ID         string         `db:"id" json:"id"`
	RunID      string         `db:"run_id" json:"run_id"`
	Job        JobKind        `db:"job" json:"job"`
	TargetDate string         `db:"target_date" json:"target_date"`
	Slot       int            `db:"slot" json:"slot"`
	UserID     string         `db:"user_id" json:"user_id"`
	Status     DeliveryStatus `db:"status" json:"status"`
	ErrorCode  *string        `db:"error_code" json:"error_code,omitempty"`
	Title      string         `db:"title" json:"title"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// DeliveryFilter narrows delivery listings.
type DeliveryFilter struct {
	TargetDate string
	Job        JobKind
	UserID     string
	Limit      int
}
