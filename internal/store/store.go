package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/outreach/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateQueueItem is returned when a campaign contact already
	// holds a pending or sending queue item.
	ErrDuplicateQueueItem = errors.New("campaign contact already has an open queue item")

	// ErrQueueItemClosed is returned when a transition targets an item
	// that already reached sent, failed or skipped.
	ErrQueueItemClosed = errors.New("queue item is in a terminal state")
)

// QueueUpdate describes a queue item transition.
type QueueUpdate struct {
	Status        model.QueueStatus
	Error         string
	MessageHandle string

	// CountAttempt increments the attempt counter, set when the
	// transition is a dispatch attempt.
	CountAttempt bool
}

// QueueFilter controls filtering and pagination for queue listings.
type QueueFilter struct {
	CampaignID *string
	Status     *model.QueueStatus
	Limit      int
	Offset     int
}

// LogFilter controls filtering for email log queries.
type LogFilter struct {
	CampaignID *string
	Since      *time.Time
	Limit      int
}

// RecoverPolicy decides what happens to items found in sending on startup.
type RecoverPolicy string

const (
	// RecoverRequeue moves the item back to pending and counts the
	// interrupted attempt; items out of attempts become failed.
	RecoverRequeue RecoverPolicy = "requeue"
	// RecoverFail marks every interrupted item failed.
	RecoverFail RecoverPolicy = "fail"
)

// Store defines the persistence interface for campaigns, contacts,
// sequence progression, the send queue, suppressions and the email log.
type Store interface {
	// === Settings ===

	GetSetting(ctx context.Context, key, def string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// === Campaigns ===

	CreateCampaign(ctx context.Context, c model.Campaign, refPrefix string) (*model.Campaign, error)
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	FindCampaignByReference(ctx context.Context, ref string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, status *model.CampaignStatus) ([]model.Campaign, error)
	SetCampaignStatus(ctx context.Context, id string, status model.CampaignStatus) error
	AddStep(ctx context.Context, step model.EmailStep) (*model.EmailStep, error)
	GetSteps(ctx context.Context, campaignID string) ([]model.EmailStep, error)

	// === Contacts ===

	CreateContact(ctx context.Context, c model.Contact) (*model.Contact, error)
	GetContact(ctx context.Context, id string) (*model.Contact, error)
	FindContactByEmail(ctx context.Context, email string) (*model.Contact, error)
	FindContactsByEmail(ctx context.Context, email string) ([]model.Contact, error)

	// === Enrollment / progression ===

	EnrollContact(ctx context.Context, campaignID, contactID string, at time.Time) error
	GetCampaignContact(ctx context.Context, campaignID, contactID string) (*model.CampaignContact, error)
	UpdateCampaignContact(ctx context.Context, campaignID, contactID string, upd model.ProgressUpdate) error
	ListEnrollments(ctx context.Context, campaignID string, statuses ...model.ContactStatus) ([]model.CampaignContact, error)
	ListEnrollmentsForContact(ctx context.Context, contactID string) ([]model.Enrollment, error)

	// === Queue ===

	EnqueueEmail(ctx context.Context, item model.QueuedEmail) (*model.QueuedEmail, error)
	HasOpenQueueItem(ctx context.Context, campaignID, contactID string) (bool, error)
	CountFailedSends(ctx context.Context, campaignID, contactID string, step int) (int, error)
	GetQueueItem(ctx context.Context, id string) (*model.QueuedEmail, error)
	GetDueQueueItems(ctx context.Context, now time.Time, limit int) ([]model.QueuedEmail, error)
	UpdateQueueStatus(ctx context.Context, id string, upd QueueUpdate) error
	SkipPendingForContact(ctx context.Context, campaignID, contactID, reason string) (int, error)
	RecoverSending(ctx context.Context, policy RecoverPolicy, maxAttempts int) (requeued int, failed int, err error)
	GetQueueStats(ctx context.Context) (model.QueueStats, error)
	ListQueue(ctx context.Context, filter QueueFilter) ([]model.QueuedEmail, error)

	// === Suppressions ===

	IsSuppressed(ctx context.Context, email string) (bool, error)
	IsSuppressedFor(ctx context.Context, email, campaignID string) (bool, error)
	AddSuppression(ctx context.Context, entry model.SuppressionEntry) (added bool, skipped int, err error)
	ListSuppressions(ctx context.Context) ([]model.SuppressionEntry, error)

	// === Email log ===

	AppendEmailLog(ctx context.Context, entry model.EmailLog) error
	ListEmailLogs(ctx context.Context, filter LogFilter) ([]model.EmailLog, error)
	CountSentSince(ctx context.Context, campaignID string, since time.Time) (int, error)
}
