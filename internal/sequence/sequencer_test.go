package sequence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/sequence"
	"github.com/nhle/outreach/internal/store"
	"github.com/nhle/outreach/internal/suppression"
	"github.com/nhle/outreach/internal/testutil"
)

func newSequencer(s *store.SQLiteStore) *sequence.Sequencer {
	return sequence.New(s, suppression.NewGuard(s, nil), sequence.Options{
		MaxAttempts: 2,
		RetryDelay:  10 * time.Minute,
		Jitter:      func(time.Duration) time.Duration { return 5 * time.Minute },
	}, nil)
}

func openItems(t *testing.T, s *store.SQLiteStore, campaignID string) []model.QueuedEmail {
	t.Helper()
	pending := model.QueuePending
	items, err := s.ListQueue(context.Background(), store.QueueFilter{CampaignID: &campaignID, Status: &pending})
	require.NoError(t, err)
	return items
}

func markSent(t *testing.T, s *store.SQLiteStore, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpdateQueueStatus(ctx, id, store.QueueUpdate{Status: model.QueueSending, CountAttempt: true}))
	require.NoError(t, s.UpdateQueueStatus(ctx, id, store.QueueUpdate{Status: model.QueueSent}))
}

func TestEnqueueDue_FirstStep(t *testing.T) {
	s := testutil.NewTestStore(t)
	seq := newSequencer(s)
	ctx := context.Background()
	now := time.Now()

	campaign, _ := testutil.NewActiveCampaign(t, s, "l1", 0, 3)
	contact := testutil.NewEnrolledContact(t, s, campaign, "ada@example.com", now.Add(-time.Hour))

	n, err := seq.EnqueueDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items := openItems(t, s, campaign.ID)
	require.Len(t, items, 1)
	assert.Equal(t, contact.ID, items[0].ContactID)
	assert.Equal(t, 1, items[0].StepNumber)

	// The open item blocks a second one.
	n, err = seq.EnqueueDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	cc, err := s.GetCampaignContact(ctx, campaign.ID, contact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ContactPending, cc.Status)
	require.NotNil(t, cc.NextEmailScheduledAt)
}

func TestEnqueueDue_DelayNotElapsed(t *testing.T) {
	s := testutil.NewTestStore(t)
	seq := newSequencer(s)
	now := time.Now()

	campaign, _ := testutil.NewActiveCampaign(t, s, "l1", 2)
	testutil.NewEnrolledContact(t, s, campaign, "ada@example.com", now.Add(-24*time.Hour))

	n, err := seq.EnqueueDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = seq.EnqueueDue(context.Background(), now.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnqueueDue_SkipsSuppressedAndInactiveCampaigns(t *testing.T) {
	s := testutil.NewTestStore(t)
	seq := newSequencer(s)
	ctx := context.Background()
	now := time.Now()

	campaign, _ := testutil.NewActiveCampaign(t, s, "l1", 0)
	testutil.NewEnrolledContact(t, s, campaign, "ada@example.com", now.Add(-time.Hour))
	_, _, err := s.AddSuppression(ctx, model.SuppressionEntry{Email: "ada@example.com", Source: model.SourceManual})
	require.NoError(t, err)

	paused, _ := testutil.NewActiveCampaign(t, s, "l1", 0)
	require.NoError(t, s.SetCampaignStatus(ctx, paused.ID, model.CampaignPaused))
	testutil.NewEnrolledContact(t, s, paused, "bob@example.com", now.Add(-time.Hour))

	n, err := seq.EnqueueDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestScheduleNextStep_QueuesNextActiveStep(t *testing.T) {
	s := testutil.NewTestStore(t)
	seq := newSequencer(s)
	ctx := context.Background()
	now := time.Now()

	campaign, _ := testutil.NewActiveCampaign(t, s, "l1", 0)
	_, err := s.AddStep(ctx, model.EmailStep{CampaignID: campaign.ID, StepNumber: 2, Subject: "off", DelayDays: 1})
	require.NoError(t, err)
	_, err = s.AddStep(ctx, model.EmailStep{CampaignID: campaign.ID, StepNumber: 3, Subject: "third", DelayDays: 3, Active: true})
	require.NoError(t, err)

	contact := testutil.NewEnrolledContact(t, s, campaign, "ada@example.com", now.Add(-time.Hour))

	_, err = seq.EnqueueDue(ctx, now)
	require.NoError(t, err)
	items := openItems(t, s, campaign.ID)
	require.Len(t, items, 1)
	markSent(t, s, items[0].ID)

	sentAt := now.UTC()
	require.NoError(t, seq.ScheduleNextStep(ctx, campaign.ID, contact.ID, 1, sentAt))

	cc, err := s.GetCampaignContact(ctx, campaign.ID, contact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ContactInProgress, cc.Status)
	assert.Equal(t, 1, cc.CurrentStep)

	items = openItems(t, s, campaign.ID)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].StepNumber)
	want := sentAt.AddDate(0, 0, 3).Add(5 * time.Minute)
	assert.WithinDuration(t, want, items[0].ScheduledAt, time.Millisecond)
	require.NotNil(t, cc.NextEmailScheduledAt)
	assert.WithinDuration(t, want, *cc.NextEmailScheduledAt, time.Millisecond)
}

func TestScheduleNextStep_CompletesAfterLastStep(t *testing.T) {
	s := testutil.NewTestStore(t)
	seq := newSequencer(s)
	ctx := context.Background()
	now := time.Now()

	campaign, _ := testutil.NewActiveCampaign(t, s, "l1", 0)
	contact := testutil.NewEnrolledContact(t, s, campaign, "ada@example.com", now.Add(-time.Hour))

	_, err := seq.EnqueueDue(ctx, now)
	require.NoError(t, err)
	items := openItems(t, s, campaign.ID)
	require.Len(t, items, 1)
	markSent(t, s, items[0].ID)

	require.NoError(t, seq.ScheduleNextStep(ctx, campaign.ID, contact.ID, 1, now))

	cc, err := s.GetCampaignContact(ctx, campaign.ID, contact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ContactCompleted, cc.Status)
	assert.Equal(t, 1, cc.CurrentStep)
	assert.Nil(t, cc.NextEmailScheduledAt)
	assert.Empty(t, openItems(t, s, campaign.ID))

	n, err := seq.EnqueueDue(ctx, now.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestScheduleNextStep_KeepsTerminalStatus(t *testing.T) {
	s := testutil.NewTestStore(t)
	seq := newSequencer(s)
	ctx := context.Background()
	now := time.Now()

	campaign, _ := testutil.NewActiveCampaign(t, s, "l1", 0, 1)
	contact := testutil.NewEnrolledContact(t, s, campaign, "ada@example.com", now)
	require.NoError(t, s.UpdateCampaignContact(ctx, campaign.ID, contact.ID, model.ProgressUpdate{
		Status: model.ContactResponded, RespondedAt: &now,
	}))

	require.NoError(t, seq.ScheduleNextStep(ctx, campaign.ID, contact.ID, 1, now))

	cc, err := s.GetCampaignContact(ctx, campaign.ID, contact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ContactResponded, cc.Status)
	assert.Equal(t, 1, cc.CurrentStep)
	assert.Empty(t, openItems(t, s, campaign.ID))
}

func TestEnqueueDue_RetriesFailedStepUpToMaxAttempts(t *testing.T) {
	s := testutil.NewTestStore(t)
	seq := newSequencer(s)
	ctx := context.Background()
	now := time.Now()

	campaign, _ := testutil.NewActiveCampaign(t, s, "l1", 0)
	testutil.NewEnrolledContact(t, s, campaign, "ada@example.com", now.Add(-time.Hour))

	fail := func() {
		items := openItems(t, s, campaign.ID)
		require.Len(t, items, 1)
		require.NoError(t, s.UpdateQueueStatus(ctx, items[0].ID, store.QueueUpdate{
			Status: model.QueueFailed, Error: "smtp: 451 try later",
		}))
	}

	_, err := seq.EnqueueDue(ctx, now)
	require.NoError(t, err)
	fail()

	n, err := seq.EnqueueDue(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	retry := openItems(t, s, campaign.ID)
	require.Len(t, retry, 1)
	assert.WithinDuration(t, now.Add(10*time.Minute), retry[0].ScheduledAt, time.Millisecond)
	fail()

	n, err = seq.EnqueueDue(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNextActiveStep(t *testing.T) {
	steps := []model.EmailStep{
		{StepNumber: 1, Active: true},
		{StepNumber: 2, Active: false},
		{StepNumber: 3, Active: true},
	}
	assert.Equal(t, 1, sequence.NextActiveStep(steps, 0).StepNumber)
	assert.Equal(t, 3, sequence.NextActiveStep(steps, 1).StepNumber)
	assert.Nil(t, sequence.NextActiveStep(steps, 3))
	assert.Nil(t, sequence.NextActiveStep(nil, 0))
}
