package model

import "time"

// EmailOutcome is the result recorded for an attempted send.
type EmailOutcome string

const (
	OutcomeSent    EmailOutcome = "sent"
	OutcomeFailed  EmailOutcome = "failed"
	OutcomeBounced EmailOutcome = "bounced"
	OutcomeSkipped EmailOutcome = "skipped"
)

// EmailLog is an immutable audit record of a send outcome.
type EmailLog struct {
	ID            string       `json:"id" db:"id"`
	QueueID       string       `json:"queue_id" db:"queue_id"`
	CampaignID    string       `json:"campaign_id" db:"campaign_id"`
	ContactID     string       `json:"contact_id" db:"contact_id"`
	StepNumber    int          `json:"step_number" db:"step_number"`
	Email         string       `json:"email" db:"email"`
	Subject       string       `json:"subject" db:"subject"`
	Outcome       EmailOutcome `json:"outcome" db:"outcome"`
	MessageHandle string       `json:"message_handle" db:"message_handle"`
	Error         string       `json:"error" db:"error"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}
