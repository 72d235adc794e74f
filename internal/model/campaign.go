package model

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignArchived  CampaignStatus = "archived"
)

// IsTerminal reports whether no further sends may happen for the campaign.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignArchived
}

// Campaign links a contact list to an ordered sequence of email steps
// and the policy that governs when those steps may be sent.
type Campaign struct {
	ID        string         `json:"id" db:"id"`
	Reference string         `json:"reference" db:"reference"`
	Name      string         `json:"name" db:"name"`
	ListID    string         `json:"list_id" db:"list_id"`
	Status    CampaignStatus `json:"status" db:"status"`

	// InterEmailDelaySec is the minimum gap between two sends of this campaign.
	InterEmailDelaySec int `json:"inter_email_delay_sec" db:"inter_email_delay_sec"`

	// WindowStart and WindowEnd bound the time of day (HH:MM) during
	// which sends may happen. A start after the end wraps midnight.
	WindowStart string `json:"window_start" db:"window_start"`
	WindowEnd   string `json:"window_end" db:"window_end"`

	// AllowedDays lists the weekdays on which sends may happen.
	AllowedDays Weekdays `json:"allowed_days" db:"allowed_days"`

	// Timezone is an optional IANA zone for the sending window.
	// Empty means the local zone of the machine running the worker.
	Timezone string `json:"timezone" db:"timezone"`

	JitterMinutes int `json:"jitter_minutes" db:"jitter_minutes"`
	DailyCap      int `json:"daily_cap" db:"daily_cap"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EmailStep is one templated email in a campaign's sequence.
type EmailStep struct {
	ID          string    `json:"id" db:"id"`
	CampaignID  string    `json:"campaign_id" db:"campaign_id"`
	StepNumber  int       `json:"step_number" db:"step_number"`
	Subject     string    `json:"subject" db:"subject"`
	Body        string    `json:"body" db:"body"`
	Attachments []string  `json:"attachments,omitempty" db:"-"`
	DelayDays   int       `json:"delay_days" db:"delay_days"`
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Weekdays is a set of days of the week.
type Weekdays []time.Weekday

// DefaultWeekdays is Monday through Friday.
var DefaultWeekdays = Weekdays{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
}

// Contains reports whether d is in the set.
func (w Weekdays) Contains(d time.Weekday) bool {
	for _, day := range w {
		if day == d {
			return true
		}
	}
	return false
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// String encodes the set as a comma-separated list of short day names,
// the form stored in the database.
func (w Weekdays) String() string {
	names := make([]string, 0, len(w))
	for _, d := range w {
		names = append(names, strings.ToLower(d.String()[:3]))
	}
	return strings.Join(names, ",")
}

// ParseWeekdays decodes a comma-separated list of short day names.
func ParseWeekdays(s string) (Weekdays, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var days Weekdays
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if len(name) > 3 {
			name = name[:3]
		}
		d, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
		if !days.Contains(d) {
			days = append(days, d)
		}
	}
	return days, nil
}
