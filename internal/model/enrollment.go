package model

import "time"

// ContactStatus is the progression state of a contact within a campaign.
type ContactStatus string

const (
	ContactPending      ContactStatus = "pending"
	ContactInProgress   ContactStatus = "in_progress"
	ContactResponded    ContactStatus = "responded"
	ContactCompleted    ContactStatus = "completed"
	ContactBounced      ContactStatus = "bounced"
	ContactUnsubscribed ContactStatus = "unsubscribed"
	ContactOptedOut     ContactStatus = "opted_out"
	ContactPaused       ContactStatus = "paused"
)

// IsTerminal reports whether the status ends the contact's sequence.
func (s ContactStatus) IsTerminal() bool {
	switch s {
	case ContactResponded, ContactCompleted, ContactBounced,
		ContactUnsubscribed, ContactOptedOut:
		return true
	}
	return false
}

// CampaignContact tracks one contact's progress through a campaign.
type CampaignContact struct {
	CampaignID           string        `json:"campaign_id" db:"campaign_id"`
	ContactID            string        `json:"contact_id" db:"contact_id"`
	Status               ContactStatus `json:"status" db:"status"`
	CurrentStep          int           `json:"current_step" db:"current_step"`
	EnrolledAt           time.Time     `json:"enrolled_at" db:"enrolled_at"`
	LastEmailSentAt      *time.Time    `json:"last_email_sent_at,omitempty" db:"last_email_sent_at"`
	NextEmailScheduledAt *time.Time    `json:"next_email_scheduled_at,omitempty" db:"next_email_scheduled_at"`
	RespondedAt          *time.Time    `json:"responded_at,omitempty" db:"responded_at"`
	UpdatedAt            time.Time     `json:"updated_at" db:"updated_at"`
}

// ProgressUpdate carries a status transition plus the optional fields
// that change with it. Nil fields are left untouched.
type ProgressUpdate struct {
	Status               ContactStatus
	CurrentStep          *int
	LastEmailSentAt      *time.Time
	NextEmailScheduledAt *time.Time
	RespondedAt          *time.Time

	// ClearNextScheduled resets next_email_scheduled_at to NULL.
	ClearNextScheduled bool
}

// Enrollment joins a progression record with its campaign, used when
// resolving which campaign an inbound message belongs to.
type Enrollment struct {
	CampaignContact
	CampaignReference string         `json:"campaign_reference" db:"campaign_reference"`
	CampaignStatus    CampaignStatus `json:"campaign_status" db:"campaign_status"`
	CampaignCreatedAt time.Time      `json:"campaign_created_at" db:"campaign_created_at"`
}
