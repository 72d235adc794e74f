// Package sequence turns campaign progressions into queued emails.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/store"
)

// Store is the persistence the sequencer needs.
type Store interface {
	ListCampaigns(ctx context.Context, status *model.CampaignStatus) ([]model.Campaign, error)
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	GetSteps(ctx context.Context, campaignID string) ([]model.EmailStep, error)
	GetContact(ctx context.Context, id string) (*model.Contact, error)
	GetCampaignContact(ctx context.Context, campaignID, contactID string) (*model.CampaignContact, error)
	UpdateCampaignContact(ctx context.Context, campaignID, contactID string, upd model.ProgressUpdate) error
	ListEnrollments(ctx context.Context, campaignID string, statuses ...model.ContactStatus) ([]model.CampaignContact, error)
	EnqueueEmail(ctx context.Context, item model.QueuedEmail) (*model.QueuedEmail, error)
	HasOpenQueueItem(ctx context.Context, campaignID, contactID string) (bool, error)
	CountFailedSends(ctx context.Context, campaignID, contactID string, step int) (int, error)
}

// Suppressor reports whether an address may be mailed in a campaign.
type Suppressor interface {
	IsSuppressedFor(ctx context.Context, email, campaignID string) (bool, error)
}

// Options tunes the sequencer.
type Options struct {
	// MaxAttempts caps how many failed sends a step gets before it is
	// no longer queued again.
	MaxAttempts int
	// RetryDelay is the wait before a failed step is queued again.
	RetryDelay time.Duration
	// Jitter returns a random duration in [0, max). Nil uses math/rand.
	Jitter func(max time.Duration) time.Duration
}

// Sequencer materializes due steps as pending queue items and advances
// a contact after each successful send.
type Sequencer struct {
	store      Store
	suppressor Suppressor
	opts       Options
	logger     *zap.Logger
}

// New creates a Sequencer. A nil logger discards output.
func New(s Store, suppressor Suppressor, opts Options, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Jitter == nil {
		opts.Jitter = randomJitter
	}
	return &Sequencer{store: s, suppressor: suppressor, opts: opts, logger: logger}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// EnqueueDue creates a pending queue item for every contact of every
// active campaign whose next step is due at now. It returns how many
// items were created. Pairs that already hold an open item or whose
// address is suppressed are left alone.
func (s *Sequencer) EnqueueDue(ctx context.Context, now time.Time) (int, error) {
	active := model.CampaignActive
	campaigns, err := s.store.ListCampaigns(ctx, &active)
	if err != nil {
		return 0, fmt.Errorf("listing active campaigns: %w", err)
	}

	total := 0
	for _, c := range campaigns {
		n, err := s.enqueueCampaign(ctx, c, now)
		total += n
		if err != nil {
			return total, fmt.Errorf("campaign %s: %w", c.Reference, err)
		}
	}
	return total, nil
}

func (s *Sequencer) enqueueCampaign(ctx context.Context, c model.Campaign, now time.Time) (int, error) {
	steps, err := s.store.GetSteps(ctx, c.ID)
	if err != nil {
		return 0, err
	}
	enrollments, err := s.store.ListEnrollments(ctx, c.ID, model.ContactPending, model.ContactInProgress)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, cc := range enrollments {
		ok, err := s.enqueueContact(ctx, c, steps, cc, now)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (s *Sequencer) enqueueContact(
	ctx context.Context,
	c model.Campaign,
	steps []model.EmailStep,
	cc model.CampaignContact,
	now time.Time,
) (bool, error) {
	log := s.logger.With(zap.String("campaign_id", c.ID), zap.String("contact_id", cc.ContactID))

	open, err := s.store.HasOpenQueueItem(ctx, c.ID, cc.ContactID)
	if err != nil || open {
		return false, err
	}

	next := NextActiveStep(steps, cc.CurrentStep)
	if next == nil {
		if cc.Status == model.ContactInProgress {
			// Remaining steps were deactivated after the last send.
			return false, s.store.UpdateCampaignContact(ctx, c.ID, cc.ContactID, model.ProgressUpdate{
				Status:             model.ContactCompleted,
				ClearNextScheduled: true,
			})
		}
		return false, nil
	}

	base := cc.EnrolledAt
	if cc.Status == model.ContactInProgress && cc.LastEmailSentAt != nil {
		base = *cc.LastEmailSentAt
	}
	due := base.AddDate(0, 0, next.DelayDays)
	if cc.NextEmailScheduledAt != nil && cc.NextEmailScheduledAt.After(due) {
		due = *cc.NextEmailScheduledAt
	}
	if due.After(now) {
		return false, nil
	}

	failures, err := s.store.CountFailedSends(ctx, c.ID, cc.ContactID, next.StepNumber)
	if err != nil {
		return false, err
	}
	if failures >= s.opts.MaxAttempts {
		return false, nil
	}
	if failures > 0 {
		due = now.Add(s.opts.RetryDelay)
	}

	contact, err := s.store.GetContact(ctx, cc.ContactID)
	if err != nil {
		return false, err
	}
	suppressed, err := s.suppressor.IsSuppressedFor(ctx, contact.Email, c.ID)
	if err != nil {
		return false, err
	}
	if suppressed {
		log.Debug("not enqueueing suppressed contact", zap.String("email", contact.Email))
		return false, nil
	}

	_, err = s.store.EnqueueEmail(ctx, model.QueuedEmail{
		CampaignID:  c.ID,
		ContactID:   cc.ContactID,
		StepNumber:  next.StepNumber,
		ScheduledAt: due,
	})
	if errors.Is(err, store.ErrDuplicateQueueItem) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := s.store.UpdateCampaignContact(ctx, c.ID, cc.ContactID, model.ProgressUpdate{
		Status:               cc.Status,
		NextEmailScheduledAt: &due,
	}); err != nil {
		return true, err
	}
	log.Debug("step enqueued", zap.Int("step", next.StepNumber), zap.Time("scheduled_at", due))
	return true, nil
}

// ScheduleNextStep records a successful send of sentStep and either
// queues the next active step or completes the contact's sequence.
// A contact that reached a terminal status while the send was in
// flight keeps that status and gets no further items.
func (s *Sequencer) ScheduleNextStep(
	ctx context.Context,
	campaignID, contactID string,
	sentStep int,
	sentAt time.Time,
) error {
	cc, err := s.store.GetCampaignContact(ctx, campaignID, contactID)
	if err != nil {
		return err
	}
	steps, err := s.store.GetSteps(ctx, campaignID)
	if err != nil {
		return err
	}

	upd := model.ProgressUpdate{
		Status:          cc.Status,
		CurrentStep:     &sentStep,
		LastEmailSentAt: &sentAt,
	}

	next := NextActiveStep(steps, sentStep)
	if cc.Status.IsTerminal() || cc.Status == model.ContactPaused {
		upd.ClearNextScheduled = true
		return s.store.UpdateCampaignContact(ctx, campaignID, contactID, upd)
	}
	if next == nil {
		upd.Status = model.ContactCompleted
		upd.ClearNextScheduled = true
		if err := s.store.UpdateCampaignContact(ctx, campaignID, contactID, upd); err != nil {
			return err
		}
		s.logger.Info("sequence completed",
			zap.String("campaign_id", campaignID), zap.String("contact_id", contactID))
		return nil
	}

	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	scheduled := sentAt.AddDate(0, 0, next.DelayDays)
	if c.JitterMinutes > 0 {
		scheduled = scheduled.Add(s.opts.Jitter(time.Duration(c.JitterMinutes) * time.Minute))
	}

	upd.Status = model.ContactInProgress
	upd.NextEmailScheduledAt = &scheduled
	if err := s.store.UpdateCampaignContact(ctx, campaignID, contactID, upd); err != nil {
		return err
	}

	_, err = s.store.EnqueueEmail(ctx, model.QueuedEmail{
		CampaignID:  campaignID,
		ContactID:   contactID,
		StepNumber:  next.StepNumber,
		ScheduledAt: scheduled,
	})
	if err != nil && !errors.Is(err, store.ErrDuplicateQueueItem) {
		return err
	}
	return nil
}

// NextActiveStep returns the first active step numbered after current,
// or nil when the sequence is exhausted.
func NextActiveStep(steps []model.EmailStep, current int) *model.EmailStep {
	var next *model.EmailStep
	for i := range steps {
		st := &steps[i]
		if !st.Active || st.StepNumber <= current {
			continue
		}
		if next == nil || st.StepNumber < next.StepNumber {
			next = st
		}
	}
	return next
}
