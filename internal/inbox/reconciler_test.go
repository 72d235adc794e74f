package inbox_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/outreach/internal/inbox"
	"github.com/nhle/outreach/internal/mailbox"
	"github.com/nhle/outreach/internal/mailbox/mailboxtest"
	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/store"
	"github.com/nhle/outreach/internal/suppression"
	"github.com/nhle/outreach/internal/testutil"
)

type fixture struct {
	store *store.SQLiteStore
	box   *mailboxtest.Fake
	rec   *inbox.Reconciler
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s := testutil.NewTestStore(t)
	box := mailboxtest.New()
	require.NoError(t, box.Connect(context.Background()))
	rec := inbox.New(s, suppression.NewGuard(s, nil), box, inbox.Options{
		ReplyFolder:        "INBOX",
		UnsubscribeFolders: []string{"INBOX", "Junk"},
		LookbackDays:       30,
		OwnAddress:         "sales@example.com",
	}, nil)
	return fixture{store: s, box: box, rec: rec}
}

func status(t *testing.T, s *store.SQLiteStore, campaignID, contactID string) model.ContactStatus {
	t.Helper()
	cc, err := s.GetCampaignContact(context.Background(), campaignID, contactID)
	require.NoError(t, err)
	return cc.Status
}

func TestScanReplies_ReferenceInSubjectWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	older, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0, 3)
	contact := testutil.NewEnrolledContact(t, f.store, older, "ada@example.com", now)
	newer, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0, 3)
	require.NoError(t, f.store.EnrollContact(ctx, newer.ID, contact.ID, now))

	item, err := f.store.EnqueueEmail(ctx, model.QueuedEmail{
		CampaignID: older.ID, ContactID: contact.ID, StepNumber: 1, ScheduledAt: now,
	})
	require.NoError(t, err)

	id := f.box.Deliver("INBOX", mailbox.Entry{
		From:    "Ada@Example.com",
		Subject: "Re: Quick question [" + strings.ToLower(older.Reference) + "]",
		Body:    "Sounds good, let's talk.",
	})

	replies, err := f.rec.ScanReplies(ctx, now)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, older.ID, replies[0].CampaignID)
	assert.Equal(t, contact.ID, replies[0].ContactID)

	assert.Equal(t, model.ContactResponded, status(t, f.store, older.ID, contact.ID))
	assert.Equal(t, model.ContactPending, status(t, f.store, newer.ID, contact.ID))
	assert.True(t, f.box.IsRead(id))

	got, err := f.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueSkipped, got.Status)

	cc, err := f.store.GetCampaignContact(ctx, older.ID, contact.ID)
	require.NoError(t, err)
	assert.NotNil(t, cc.RespondedAt)
}

func TestScanReplies_FallsBackToLiveCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	live, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0)
	contact := testutil.NewEnrolledContact(t, f.store, live, "ada@example.com", now)
	done, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0)
	require.NoError(t, f.store.EnrollContact(ctx, done.ID, contact.ID, now))
	require.NoError(t, f.store.UpdateCampaignContact(ctx, done.ID, contact.ID, model.ProgressUpdate{
		Status: model.ContactCompleted,
	}))

	f.box.Deliver("INBOX", mailbox.Entry{From: "ada@example.com", Subject: "Re: hello"})

	replies, err := f.rec.ScanReplies(ctx, now)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, live.ID, replies[0].CampaignID)
	assert.Equal(t, model.ContactCompleted, status(t, f.store, done.ID, contact.ID))
}

func TestScanReplies_UnknownSenderStaysUnread(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	stranger := f.box.Deliver("INBOX", mailbox.Entry{From: "stranger@example.org", Subject: "Hello"})
	self := f.box.Deliver("INBOX", mailbox.Entry{From: "sales@example.com", Subject: "Copy"})

	replies, err := f.rec.ScanReplies(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, replies)
	assert.False(t, f.box.IsRead(stranger))
	assert.False(t, f.box.IsRead(self))
}

func TestScanUnsubscribes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	c1, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0)
	contact := testutil.NewEnrolledContact(t, f.store, c1, "ada@example.com", now)
	c2, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0)
	require.NoError(t, f.store.EnrollContact(ctx, c2.ID, contact.ID, now))

	hit := f.box.Deliver("Junk", mailbox.Entry{
		From:    "ada@example.com",
		Subject: "RE: Offre " + c1.Reference,
		Body:    "Bonjour, merci de me DÉSINSCRIRE de vos envois.",
	})
	miss := f.box.Deliver("INBOX", mailbox.Entry{
		From:    "ada@example.com",
		Subject: "Question",
		Body:    "Can we meet next week?",
	})

	found, err := f.rec.ScanUnsubscribes(ctx, now)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].New)
	assert.Equal(t, "ada@example.com", found[0].Email)
	assert.Equal(t, c1.Reference, found[0].CampaignRef)
	assert.True(t, f.box.IsRead(hit))
	assert.False(t, f.box.IsRead(miss))

	assert.Equal(t, model.ContactUnsubscribed, status(t, f.store, c1.ID, contact.ID))
	assert.Equal(t, model.ContactUnsubscribed, status(t, f.store, c2.ID, contact.ID))

	entries, err := f.store.ListSuppressions(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.SourceEmailReply, entries[0].Source)
	assert.Equal(t, c1.Reference, entries[0].CampaignRef)

	// A second request from a suppressed address is only marked read.
	again := f.box.Deliver("INBOX", mailbox.Entry{From: "ada@example.com", Subject: "unsubscribe"})
	found, err = f.rec.ScanUnsubscribes(ctx, now)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.False(t, found[0].New)
	assert.True(t, f.box.IsRead(again))

	entries, err = f.store.ListSuppressions(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestScanUnsubscribes_OnlyBodyPrefixIsSearched(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	id := f.box.Deliver("INBOX", mailbox.Entry{
		From:    "ada@example.com",
		Subject: "Newsletter",
		Body:    strings.Repeat("é", 500) + " unsubscribe",
	})

	found, err := f.rec.ScanUnsubscribes(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.False(t, f.box.IsRead(id))
}

func TestScanUnsubscribes_KeywordsFromSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetSetting(ctx, inbox.SettingKeywordsEN, "halt, cease"))

	f.box.Deliver("INBOX", mailbox.Entry{From: "ada@example.com", Subject: "unsubscribe"})
	f.box.Deliver("INBOX", mailbox.Entry{From: "bob@example.com", Subject: "Please CEASE"})

	found, err := f.rec.ScanUnsubscribes(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "bob@example.com", found[0].Email)
	assert.Equal(t, "cease", found[0].Keyword)
}

func TestScanBounces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	campaign, _ := testutil.NewActiveCampaign(t, f.store, "l1", 0, 2)
	contact := testutil.NewEnrolledContact(t, f.store, campaign, "ada@example.com", now)
	item, err := f.store.EnqueueEmail(ctx, model.QueuedEmail{
		CampaignID: campaign.ID, ContactID: contact.ID, StepNumber: 2, ScheduledAt: now.Add(time.Hour),
	})
	require.NoError(t, err)

	bounce := f.box.Deliver("INBOX", mailbox.Entry{
		From:    "MAILER-DAEMON@mx.example.com",
		Subject: "Undelivered Mail Returned to Sender",
		Body: "This is the mail system at host mx.example.com.\n\n" +
			"Reporting-MTA: dns; mx.example.com\n" +
			"Final-Recipient: rfc822; ada@example.com\n" +
			"Status: 5.1.1\n",
	})
	unknown := f.box.Deliver("INBOX", mailbox.Entry{
		From:    "postmaster@example.net",
		Subject: "Delivery Status Notification (Failure)",
		Body:    "Final-Recipient: rfc822; ghost@example.net",
	})

	// Bounce reports are not replies.
	replies, err := f.rec.ScanReplies(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, replies)

	bounces, err := f.rec.ScanBounces(ctx, now)
	require.NoError(t, err)
	require.Len(t, bounces, 1)
	assert.Equal(t, "ada@example.com", bounces[0].Email)
	assert.True(t, f.box.IsRead(bounce))
	assert.False(t, f.box.IsRead(unknown))

	assert.Equal(t, model.ContactBounced, status(t, f.store, campaign.ID, contact.ID))

	suppressed, err := f.store.IsSuppressed(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, suppressed)

	got, err := f.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueSkipped, got.Status)

	logs, err := f.store.ListEmailLogs(ctx, store.LogFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.OutcomeBounced, logs[0].Outcome)
	assert.Equal(t, campaign.ID, logs[0].CampaignID)
}

func TestResolveCampaign(t *testing.T) {
	mk := func(ref string, cs model.CampaignStatus, st model.ContactStatus) model.Enrollment {
		return model.Enrollment{
			CampaignContact:   model.CampaignContact{CampaignID: ref, Status: st},
			CampaignReference: ref,
			CampaignStatus:    cs,
		}
	}
	enrollments := []model.Enrollment{
		mk("ISIT-250003", model.CampaignCompleted, model.ContactCompleted),
		mk("ISIT-250002", model.CampaignPaused, model.ContactInProgress),
		mk("ISIT-250001", model.CampaignActive, model.ContactPending),
	}

	got, ok := inbox.ResolveCampaign("Re: ISIT-250001 intro", enrollments)
	require.True(t, ok)
	assert.Equal(t, "ISIT-250001", got.CampaignID)

	got, ok = inbox.ResolveCampaign("Re: ISIT-259999 unknown ref", enrollments)
	require.True(t, ok)
	assert.Equal(t, "ISIT-250002", got.CampaignID)

	got, ok = inbox.ResolveCampaign("Re: hi", enrollments[:1])
	require.True(t, ok)
	assert.Equal(t, "ISIT-250003", got.CampaignID)

	_, ok = inbox.ResolveCampaign("Re: hi", nil)
	assert.False(t, ok)
}

func TestMatchKeyword(t *testing.T) {
	kw, ok := inbox.MatchKeyword("Re: offer", "Please REMOVE ME from the list", inbox.DefaultKeywordsEN)
	assert.True(t, ok)
	assert.Equal(t, "remove me", kw)

	_, ok = inbox.MatchKeyword("Re: offer", "Interested, call me", inbox.DefaultKeywordsEN)
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b c"}, inbox.ParseList(" a ,\n b c ,, "))
	assert.Nil(t, inbox.ParseList("  "))
}
