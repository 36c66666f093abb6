package model

import "time"

// LogSuccess is recorded for both the kind and the message of a log entry
// when a dispatch succeeds.
const LogSuccess = "successful!"

// Campaign is a recurring mailing: a daily time window, an optional
// day-of-week restriction and a reference to the message template to send.
type Campaign struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	TimeFrom    TimeOfDay `json:"time_from"`
	TimeTo      TimeOfDay `json:"time_to"`
	WeekDay     Weekday   `json:"week_day"` // EveryDay when unrestricted
	Description string    `json:"description"`
	MessageID   *int      `json:"message_id"` // nil after the template was deleted
	Sent        bool      `json:"sent"`
	IsActive    bool      `json:"is_active"`
	OwnerID     *int      `json:"owner_id"`
}

// Message is an email template. Title becomes the subject.
type Message struct {
	ID      int
	Name    string
	Title   string
	Body    string
	OwnerID *int
}

// LogEntry is one append-only audit record per dispatch attempt. ErrorType
// and ErrorMessage hold LogSuccess on success, otherwise the error kind and
// the error text.
type LogEntry struct {
	ID           int
	CampaignID   *int // nil after the campaign was deleted
	Time         time.Time
	ErrorType    string
	ErrorMessage string
	OwnerID      *int
}
