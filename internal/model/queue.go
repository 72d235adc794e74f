package model

import "time"

// QueueStatus is the dispatch state of a queued email.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueSending QueueStatus = "sending"
	QueueSent    QueueStatus = "sent"
	QueueFailed  QueueStatus = "failed"
	QueueSkipped QueueStatus = "skipped"
)

// IsTerminal reports whether the item will never be dispatched again.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueSent || s == QueueFailed || s == QueueSkipped
}

// QueuedEmail is a durable work item for one step sent to one contact.
type QueuedEmail struct {
	ID            string      `json:"id" db:"id"`
	CampaignID    string      `json:"campaign_id" db:"campaign_id"`
	ContactID     string      `json:"contact_id" db:"contact_id"`
	StepNumber    int         `json:"step_number" db:"step_number"`
	ScheduledAt   time.Time   `json:"scheduled_at" db:"scheduled_at"`
	Status        QueueStatus `json:"status" db:"status"`
	Attempts      int         `json:"attempts" db:"attempts"`
	LastError     string      `json:"last_error" db:"last_error"`
	MessageHandle string      `json:"message_handle" db:"message_handle"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// QueueStats counts queue items by status.
type QueueStats struct {
	Pending int `json:"pending"`
	Sending int `json:"sending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}
