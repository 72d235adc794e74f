package delivery_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/outreach/internal/delivery"
	"github.com/nhle/outreach/internal/inbox"
	"github.com/nhle/outreach/internal/mailbox"
	"github.com/nhle/outreach/internal/mailbox/mailboxtest"
	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/sequence"
	"github.com/nhle/outreach/internal/store"
	"github.com/nhle/outreach/internal/suppression"
	"github.com/nhle/outreach/internal/testutil"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store  *store.SQLiteStore
	box    *mailboxtest.Fake
	clock  *clock
	worker *delivery.Worker
}

func newFixture(t *testing.T, cfg delivery.Config, opts ...func(*delivery.Deps)) fixture {
	t.Helper()

	s := testutil.NewTestStore(t)
	box := mailboxtest.New()
	clk := &clock{t: time.Date(2025, 3, 5, 10, 0, 0, 0, time.Local)}
	guard := suppression.NewGuard(s, nil)

	if cfg.FromAddress == "" {
		cfg.FromAddress = "sales@example.com"
	}
	deps := delivery.Deps{
		Store:     s,
		Transport: box,
		Sequencer: sequence.New(s, guard, sequence.Options{MaxAttempts: 3, RetryDelay: 15 * time.Minute}, nil),
		Guard:     guard,
		Reconciler: inbox.New(s, guard, box, inbox.Options{
			ReplyFolder: "INBOX",
			OwnAddress:  cfg.FromAddress,
		}, nil),
		Now: clk.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	w, err := delivery.New(cfg, deps)
	require.NoError(t, err)

	return fixture{store: s, box: box, clock: clk, worker: w}
}

func drain(w *delivery.Worker) []delivery.Event {
	var out []delivery.Event
	for {
		select {
		case e := <-w.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func queueItems(t *testing.T, s *store.SQLiteStore, campaignID string) []model.QueuedEmail {
	t.Helper()
	items, err := s.ListQueue(context.Background(), store.QueueFilter{CampaignID: &campaignID})
	require.NoError(t, err)
	return items
}

// flakyStore fails contact lookups for one contact.
type flakyStore struct {
	*store.SQLiteStore
	badContact string
}

func (s *flakyStore) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	if id == s.badContact {
		return nil, errors.New("database is locked")
	}
	return s.SQLiteStore.GetContact(ctx, id)
}

// lateSuppression lets the first check pass and suppresses every
// address afterwards.
type lateSuppression struct {
	mu     sync.Mutex
	checks int
}

func (g *lateSuppression) Check(_ context.Context, email, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks++
	if g.checks > 1 {
		return fmt.Errorf("%s: %w", email, suppression.ErrSuppressed)
	}
	return nil
}

func itemsWithStatus(items []model.QueuedEmail, status model.QueueStatus) []model.QueuedEmail {
	var out []model.QueuedEmail
	for _, it := range items {
		if it.Status == status {
			out = append(out, it)
		}
	}
	return out
}

func TestRunOnce_WalksSequenceToCompletion(t *testing.T) {
	f := newFixture(t, delivery.Config{TagSubject: true})
	ctx := context.Background()

	c, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0, 3)
	contact := testutil.NewEnrolledContact(t, f.store, c, "ada@example.com", f.clock.Now().Add(-time.Hour))

	require.NoError(t, f.worker.RunOnce(ctx))

	sent := f.box.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ada@example.com", sent[0].ToAddress)
	assert.Equal(t, "Ada Lovelace", sent[0].ToName)
	assert.Equal(t, "Step 1 for Ada ["+c.Reference+"]", sent[0].Subject)
	assert.Equal(t, "Hello Ada at Analytical Engines", sent[0].Body)

	cc, err := f.store.GetCampaignContact(ctx, c.ID, contact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ContactInProgress, cc.Status)
	assert.Equal(t, 1, cc.CurrentStep)

	pending := itemsWithStatus(queueItems(t, f.store, c.ID), model.QueuePending)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].StepNumber)
	assert.False(t, pending[0].ScheduledAt.Before(f.clock.Now().AddDate(0, 0, 3)))

	events := drain(f.worker)
	assert.Contains(t, events, delivery.EmailSent{
		CampaignID: c.ID,
		ContactID:  contact.ID,
		QueueID:    itemsWithStatus(queueItems(t, f.store, c.ID), model.QueueSent)[0].ID,
		Email:      "ada@example.com",
		StepNumber: 1,
	})

	f.clock.Advance(3*24*time.Hour + time.Hour)
	require.NoError(t, f.worker.RunOnce(ctx))

	require.Len(t, f.box.Sent(), 2)
	cc, err = f.store.GetCampaignContact(ctx, c.ID, contact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ContactCompleted, cc.Status)
	assert.Equal(t, 2, cc.CurrentStep)

	stats := f.worker.Status().Queue
	assert.Equal(t, 2, stats.Sent)
	assert.Equal(t, 0, stats.Pending)

	logs, err := f.store.ListEmailLogs(ctx, store.LogFilter{CampaignID: &c.ID})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, model.OutcomeSent, l.Outcome)
		assert.NotEmpty(t, l.MessageHandle)
	}

	assert.True(t, f.box.Connected())
	f.worker.Close()
	assert.False(t, f.box.Connected())
}

func TestRunOnce_OutsideWindowLeavesItemPending(t *testing.T) {
	f := newFixture(t, delivery.Config{})
	ctx := context.Background()

	c, _ := testutil.NewCampaign(t, f.store, model.Campaign{
		Name:        "Evening",
		ListID:      "l1",
		Status:      model.CampaignActive,
		WindowStart: "18:00",
		WindowEnd:   "20:00",
		AllowedDays: testutil.AllDays,
	}, 0)
	testutil.NewEnrolledContact(t, f.store, c, "ada@example.com", f.clock.Now().Add(-time.Hour))

	require.NoError(t, f.worker.RunOnce(ctx))

	assert.Empty(t, f.box.Sent())
	items := queueItems(t, f.store, c.ID)
	require.Len(t, items, 1)
	assert.Equal(t, model.QueuePending, items[0].Status)
	assert.Equal(t, 0, items[0].Attempts)

	f.clock.Advance(9 * time.Hour)
	require.NoError(t, f.worker.RunOnce(ctx))
	assert.Len(t, f.box.Sent(), 1)
}

func TestRunOnce_TerminalContactIsSkipped(t *testing.T) {
	f := newFixture(t, delivery.Config{})
	ctx := context.Background()

	c, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0)
	contact := testutil.NewEnrolledContact(t, f.store, c, "ada@example.com", f.clock.Now())

	item, err := f.store.EnqueueEmail(ctx, model.QueuedEmail{
		CampaignID: c.ID, ContactID: contact.ID, StepNumber: 1, ScheduledAt: f.clock.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateCampaignContact(ctx, c.ID, contact.ID, model.ProgressUpdate{
		Status: model.ContactResponded,
	}))

	require.NoError(t, f.worker.RunOnce(ctx))

	assert.Empty(t, f.box.Sent())
	got, err := f.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueSkipped, got.Status)
	assert.Equal(t, "contact responded", got.LastError)

	logs, err := f.store.ListEmailLogs(ctx, store.LogFilter{CampaignID: &c.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.OutcomeSkipped, logs[0].Outcome)
}

func TestRunOnce_UnenrolledContactIsSkipped(t *testing.T) {
	f := newFixture(t, delivery.Config{})
	ctx := context.Background()

	c, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0)
	stray, err := f.store.CreateContact(ctx, model.Contact{ListID: "l1", Email: "stray@example.com"})
	require.NoError(t, err)
	item, err := f.store.EnqueueEmail(ctx, model.QueuedEmail{
		CampaignID: c.ID, ContactID: stray.ID, StepNumber: 1, ScheduledAt: f.clock.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, f.worker.RunOnce(ctx))

	got, err := f.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueSkipped, got.Status)
	assert.Equal(t, "contact not enrolled", got.LastError)
}

func TestRunOnce_FailingItemDoesNotStopBatchOrScan(t *testing.T) {
	var flaky *flakyStore
	f := newFixture(t, delivery.Config{}, func(d *delivery.Deps) {
		flaky = &flakyStore{SQLiteStore: d.Store.(*store.SQLiteStore)}
		d.Store = flaky
	})
	ctx := context.Background()

	c, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0, 3)
	bad := testutil.NewEnrolledContact(t, f.store, c, "bad@example.com", f.clock.Now().Add(-time.Hour))
	ada := testutil.NewEnrolledContact(t, f.store, c, "ada@example.com", f.clock.Now())
	flaky.badContact = bad.ID

	require.NoError(t, f.worker.RunOnce(ctx))

	sent := f.box.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ada@example.com", sent[0].ToAddress)
	assert.False(t, f.worker.Status().LastScan.IsZero())
	assert.Contains(t, f.worker.Status().LastError, "database is locked")

	var errs int
	for _, e := range drain(f.worker) {
		if _, ok := e.(delivery.ErrorEvent); ok {
			errs++
		}
	}
	assert.Equal(t, 1, errs)

	f.box.Deliver("INBOX", mailbox.Entry{
		From:    "ada@example.com",
		Subject: "Re: [" + c.Reference + "]",
		Body:    "Let's talk.",
		Date:    f.clock.Now(),
	})
	f.worker.ScanNow()
	f.clock.Advance(time.Minute)
	require.NoError(t, f.worker.RunOnce(ctx))

	cc, err := f.store.GetCampaignContact(ctx, c.ID, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ContactResponded, cc.Status)

	items := queueItems(t, f.store, c.ID)
	pending := itemsWithStatus(items, model.QueuePending)
	require.Len(t, pending, 1)
	assert.Equal(t, bad.ID, pending[0].ContactID)
}

func TestRunOnce_SuppressionAfterPickIsHonoured(t *testing.T) {
	f := newFixture(t, delivery.Config{}, func(d *delivery.Deps) {
		d.Guard = &lateSuppression{}
	})
	ctx := context.Background()

	c, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0)
	testutil.NewEnrolledContact(t, f.store, c, "ada@example.com", f.clock.Now())

	require.NoError(t, f.worker.RunOnce(ctx))

	assert.Empty(t, f.box.Sent())
	skipped := itemsWithStatus(queueItems(t, f.store, c.ID), model.QueueSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, "suppressed", skipped[0].LastError)
	assert.Equal(t, 1, skipped[0].Attempts)
}

func TestRunOnce_RecoversInterruptedSend(t *testing.T) {
	f := newFixture(t, delivery.Config{})
	ctx := context.Background()

	c, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0)
	contact := testutil.NewEnrolledContact(t, f.store, c, "ada@example.com", f.clock.Now())
	item, err := f.store.EnqueueEmail(ctx, model.QueuedEmail{
		CampaignID: c.ID, ContactID: contact.ID, StepNumber: 1, ScheduledAt: f.clock.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateQueueStatus(ctx, item.ID, store.QueueUpdate{
		Status: model.QueueSending, CountAttempt: true,
	}))

	require.NoError(t, f.worker.RunOnce(ctx))

	got, err := f.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueSent, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Len(t, f.box.Sent(), 1)
}

func TestRunOnce_CampaignStatusGatesDispatch(t *testing.T) {
	f := newFixture(t, delivery.Config{})
	ctx := context.Background()

	paused, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0)
	p := testutil.NewEnrolledContact(t, f.store, paused, "paused@example.com", f.clock.Now())
	pausedItem, err := f.store.EnqueueEmail(ctx, model.QueuedEmail{
		CampaignID: paused.ID, ContactID: p.ID, StepNumber: 1, ScheduledAt: f.clock.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.SetCampaignStatus(ctx, paused.ID, model.CampaignPaused))

	archived, _ := testutil.NewActiveCampaign(t, f.store, "l2", 0)
	a := testutil.NewEnrolledContact(t, f.store, archived, "archived@example.com", f.clock.Now())
	archivedItem, err := f.store.EnqueueEmail(ctx, model.QueuedEmail{
		CampaignID: archived.ID, ContactID: a.ID, StepNumber: 1, ScheduledAt: f.clock.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.SetCampaignStatus(ctx, archived.ID, model.CampaignArchived))

	require.NoError(t, f.worker.RunOnce(ctx))

	assert.Empty(t, f.box.Sent())
	got, err := f.store.GetQueueItem(ctx, pausedItem.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueuePending, got.Status)

	got, err = f.store.GetQueueItem(ctx, archivedItem.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueSkipped, got.Status)
}

func TestRunOnce_SendFailureIsRecorded(t *testing.T) {
	f := newFixture(t, delivery.Config{})
	ctx := context.Background()
	f.box.SendFunc = func(mailbox.Message) (string, error) {
		return "", &mailbox.SendError{Recipient: "ada@example.com", Err: errors.New("550 mailbox unavailable")}
	}

	c, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0, 2)
	contact := testutil.NewEnrolledContact(t, f.store, c, "ada@example.com", f.clock.Now())

	require.NoError(t, f.worker.RunOnce(ctx))

	items := queueItems(t, f.store, c.ID)
	require.Len(t, items, 1)
	assert.Equal(t, model.QueueFailed, items[0].Status)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Contains(t, items[0].LastError, "550")

	cc, err := f.store.GetCampaignContact(ctx, c.ID, contact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ContactPending, cc.Status)
	assert.Equal(t, 0, cc.CurrentStep)

	logs, err := f.store.ListEmailLogs(ctx, store.LogFilter{CampaignID: &c.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.OutcomeFailed, logs[0].Outcome)

	var errEvents int
	for _, e := range drain(f.worker) {
		if _, ok := e.(delivery.ErrorEvent); ok {
			errEvents++
		}
	}
	assert.Equal(t, 1, errEvents)
}

func TestRunOnce_TransportUnavailableSkipsCycle(t *testing.T) {
	f := newFixture(t, delivery.Config{})
	ctx := context.Background()
	f.box.SetAvailable(false)

	c, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0)
	testutil.NewEnrolledContact(t, f.store, c, "ada@example.com", f.clock.Now())

	require.NoError(t, f.worker.RunOnce(ctx))

	assert.Empty(t, queueItems(t, f.store, c.ID))
	assert.False(t, f.worker.Status().TransportAvailable)

	f.box.SetAvailable(true)
	require.NoError(t, f.worker.RunOnce(ctx))
	assert.Len(t, f.box.Sent(), 1)
	assert.True(t, f.worker.Status().TransportAvailable)
}

func TestRunOnce_DailyCap(t *testing.T) {
	f := newFixture(t, delivery.Config{})
	ctx := context.Background()

	c, _ := testutil.NewCampaign(t, f.store, model.Campaign{
		Name:        "Throttled",
		ListID:      "l1",
		Status:      model.CampaignActive,
		WindowStart: "00:00",
		WindowEnd:   "23:59",
		AllowedDays: testutil.AllDays,
		DailyCap:    1,
	}, 0)
	testutil.NewEnrolledContact(t, f.store, c, "one@example.com", f.clock.Now())
	testutil.NewEnrolledContact(t, f.store, c, "two@example.com", f.clock.Now())

	require.NoError(t, f.worker.RunOnce(ctx))
	assert.Len(t, f.box.Sent(), 1)
	assert.Len(t, itemsWithStatus(queueItems(t, f.store, c.ID), model.QueuePending), 1)

	f.clock.Advance(time.Hour)
	require.NoError(t, f.worker.RunOnce(ctx))
	assert.Len(t, f.box.Sent(), 1)

	f.clock.Advance(24 * time.Hour)
	require.NoError(t, f.worker.RunOnce(ctx))
	assert.Len(t, f.box.Sent(), 2)
}

func TestRunOnce_InterEmailDelay(t *testing.T) {
	f := newFixture(t, delivery.Config{})
	ctx := context.Background()

	c, _ := testutil.NewCampaign(t, f.store, model.Campaign{
		Name:               "Throttled",
		ListID:             "l1",
		Status:             model.CampaignActive,
		WindowStart:        "00:00",
		WindowEnd:          "23:59",
		AllowedDays:        testutil.AllDays,
		InterEmailDelaySec: 600,
	}, 0)
	testutil.NewEnrolledContact(t, f.store, c, "one@example.com", f.clock.Now())
	testutil.NewEnrolledContact(t, f.store, c, "two@example.com", f.clock.Now())

	require.NoError(t, f.worker.RunOnce(ctx))
	assert.Len(t, f.box.Sent(), 1)

	f.clock.Advance(5 * time.Minute)
	require.NoError(t, f.worker.RunOnce(ctx))
	assert.Len(t, f.box.Sent(), 1)

	f.clock.Advance(6 * time.Minute)
	require.NoError(t, f.worker.RunOnce(ctx))
	assert.Len(t, f.box.Sent(), 2)
}

func TestRunOnce_ReplyStopsSequence(t *testing.T) {
	f := newFixture(t, delivery.Config{})
	ctx := context.Background()

	c, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0, 3)
	contact := testutil.NewEnrolledContact(t, f.store, c, "ada@example.com", f.clock.Now())

	require.NoError(t, f.worker.RunOnce(ctx))
	require.Len(t, f.box.Sent(), 1)
	drain(f.worker)

	entryID := f.box.Deliver("INBOX", mailbox.Entry{
		From:    "Ada@Example.com",
		Subject: "Re: Step 1 for Ada [" + c.Reference + "]",
		Body:    "Sounds interesting, call me.",
		Date:    f.clock.Now(),
	})
	f.worker.ScanNow()
	f.clock.Advance(time.Minute)
	require.NoError(t, f.worker.RunOnce(ctx))

	cc, err := f.store.GetCampaignContact(ctx, c.ID, contact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ContactResponded, cc.Status)
	assert.True(t, f.box.IsRead(entryID))
	assert.Empty(t, itemsWithStatus(queueItems(t, f.store, c.ID), model.QueuePending))
	assert.Contains(t, drain(f.worker), delivery.ReplyDetected{
		CampaignID: c.ID, ContactID: contact.ID, Email: "Ada@Example.com",
	})
	assert.False(t, f.worker.Status().LastScan.IsZero())
}

func TestRunOnce_ScanScheduleFromSetting(t *testing.T) {
	f := newFixture(t, delivery.Config{ScanSchedule: "@every 1h"})
	ctx := context.Background()

	require.NoError(t, f.worker.RunOnce(ctx))
	first := f.worker.Status().LastScan
	require.False(t, first.IsZero())

	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.worker.RunOnce(ctx))
	assert.Equal(t, first, f.worker.Status().LastScan)

	require.NoError(t, f.store.SetSetting(ctx, delivery.SettingScanInterval, "60"))
	require.NoError(t, f.worker.RunOnce(ctx))
	second := f.worker.Status().LastScan
	assert.True(t, second.After(first))

	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.worker.RunOnce(ctx))
	assert.True(t, f.worker.Status().LastScan.After(second))
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	s := testutil.NewTestStore(t)
	guard := suppression.NewGuard(s, nil)
	box := mailboxtest.New()

	_, err := delivery.New(delivery.Config{ScanSchedule: "every now and then"}, delivery.Deps{
		Store:      s,
		Transport:  box,
		Sequencer:  sequence.New(s, guard, sequence.Options{}, nil),
		Guard:      guard,
		Reconciler: inbox.New(s, guard, box, inbox.Options{}, nil),
	})
	assert.Error(t, err)
}

func TestWorker_Lifecycle(t *testing.T) {
	f := newFixture(t, delivery.Config{PollInterval: 10 * time.Millisecond, StopTimeout: time.Second})
	ctx := context.Background()

	c, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0)
	contact := testutil.NewEnrolledContact(t, f.store, c, "ada@example.com", f.clock.Now())
	item, err := f.store.EnqueueEmail(ctx, model.QueuedEmail{
		CampaignID: c.ID, ContactID: contact.ID, StepNumber: 1, ScheduledAt: f.clock.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateQueueStatus(ctx, item.ID, store.QueueUpdate{
		Status: model.QueueSending, CountAttempt: true,
	}))
	require.NoError(t, f.store.SetCampaignStatus(ctx, c.ID, model.CampaignPaused))

	require.True(t, f.worker.Start())
	assert.True(t, f.worker.Start())
	assert.Equal(t, delivery.StateRunning, f.worker.Status().State)

	recovered, err := f.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueuePending, recovered.Status)

	require.Eventually(t, f.box.Connected, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return !f.worker.Status().LastCycle.IsZero()
	}, time.Second, 5*time.Millisecond)

	f.worker.Pause()
	assert.True(t, f.worker.Status().Paused())
	f.worker.Resume()
	assert.Equal(t, delivery.StateRunning, f.worker.Status().State)

	f.worker.Stop()
	st := f.worker.Status()
	assert.False(t, st.Running())
	assert.False(t, f.box.Connected())
	assert.False(t, st.TransportAvailable)

	var states []delivery.State
	for _, e := range drain(f.worker) {
		if sc, ok := e.(delivery.StatusChanged); ok {
			states = append(states, sc.Status.State)
		}
	}
	assert.Equal(t, []delivery.State{
		delivery.StateRunning, delivery.StatePaused, delivery.StateRunning, delivery.StateStopped,
	}, states)

	require.True(t, f.worker.Start())
	f.worker.Stop()
}

func TestWorker_PausedDoesNoWork(t *testing.T) {
	f := newFixture(t, delivery.Config{PollInterval: 10 * time.Millisecond, StopTimeout: time.Second})
	ctx := context.Background()

	c, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0)
	contact := testutil.NewEnrolledContact(t, f.store, c, "ada@example.com", f.clock.Now())
	item, err := f.store.EnqueueEmail(ctx, model.QueuedEmail{
		CampaignID: c.ID, ContactID: contact.ID, StepNumber: 1, ScheduledAt: f.clock.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.SetCampaignStatus(ctx, c.ID, model.CampaignPaused))

	require.True(t, f.worker.Start())
	defer f.worker.Stop()
	require.Eventually(t, func() bool {
		return !f.worker.Status().LastCycle.IsZero()
	}, time.Second, 5*time.Millisecond)

	f.worker.Pause()
	// Let a cycle that was already in flight finish.
	time.Sleep(30 * time.Millisecond)
	f.clock.Advance(time.Minute)
	before := f.worker.Status()

	require.NoError(t, f.store.SetCampaignStatus(ctx, c.ID, model.CampaignActive))
	f.worker.ScanNow()
	time.Sleep(10 * 10 * time.Millisecond)

	after := f.worker.Status()
	assert.Equal(t, before.LastCycle, after.LastCycle)
	assert.Equal(t, before.LastScan, after.LastScan)
	assert.Empty(t, f.box.Sent())
	got, err := f.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueuePending, got.Status)

	f.worker.Resume()
	require.Eventually(t, func() bool {
		return len(f.box.Sent()) == 1
	}, time.Second, 5*time.Millisecond)
}
