package model

import "time"

// SuppressionScope says how widely a suppression applies.
type SuppressionScope string

const (
	ScopeGlobal   SuppressionScope = "global"
	ScopeCampaign SuppressionScope = "campaign"
)

// SuppressionSource records where the suppression signal came from.
type SuppressionSource string

const (
	SourceEmailReply SuppressionSource = "email_reply"
	SourceBounce     SuppressionSource = "bounce"
	SourceManual     SuppressionSource = "manual"
	SourceImport     SuppressionSource = "import"
)

// SuppressionEntry blocks sends to an address, either everywhere or
// within one campaign. Entries are never edited.
type SuppressionEntry struct {
	Email      string            `json:"email" db:"email"`
	Scope      SuppressionScope  `json:"scope" db:"scope"`
	Source     SuppressionSource `json:"source" db:"source"`
	CampaignID string            `json:"campaign_id,omitempty" db:"campaign_id"`
	Reason     string            `json:"reason" db:"reason"`

	// CampaignRef is the campaign reference seen alongside the signal,
	// kept for audit even on global entries.
	CampaignRef string    `json:"campaign_ref,omitempty" db:"campaign_ref"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
