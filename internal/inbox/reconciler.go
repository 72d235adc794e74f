// Package inbox reconciles mailbox contents with campaign progress:
// replies stop a sequence, unsubscribe requests suppress the address and
// bounces mark the recipient undeliverable.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/outreach/internal/crossref"
	"github.com/nhle/outreach/internal/mailbox"
	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/store"
)

// Store is the persistence the reconciler needs.
type Store interface {
	GetSetting(ctx context.Context, key, def string) (string, error)
	FindContactsByEmail(ctx context.Context, email string) ([]model.Contact, error)
	ListEnrollmentsForContact(ctx context.Context, contactID string) ([]model.Enrollment, error)
	UpdateCampaignContact(ctx context.Context, campaignID, contactID string, upd model.ProgressUpdate) error
	SkipPendingForContact(ctx context.Context, campaignID, contactID, reason string) (int, error)
	AppendEmailLog(ctx context.Context, entry model.EmailLog) error
}

// Guard records and checks suppressions.
type Guard interface {
	IsSuppressed(ctx context.Context, email string) (bool, error)
	Add(ctx context.Context, entry model.SuppressionEntry) (bool, error)
}

// Options configures the scans.
type Options struct {
	ReplyFolder        string
	UnsubscribeFolders []string
	LookbackDays       int
	// OwnAddress is ignored as a sender.
	OwnAddress string
}

// Reply is a detected response to a campaign.
type Reply struct {
	CampaignID string
	ContactID  string
	Email      string
	EntryID    string
}

// Unsubscribe is a detected unsubscribe request.
type Unsubscribe struct {
	Email       string
	Keyword     string
	CampaignRef string
	// New is false when the address was already suppressed.
	New bool
}

// Bounce is a detected delivery failure.
type Bounce struct {
	Email   string
	EntryID string
}

// Reconciler scans the mailbox for replies, unsubscribes and bounces.
type Reconciler struct {
	store     Store
	guard     Guard
	transport mailbox.Transport
	opts      Options
	logger    *zap.Logger
}

// New creates a Reconciler. A nil logger discards output.
func New(s Store, guard Guard, transport mailbox.Transport, opts Options, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReplyFolder == "" {
		opts.ReplyFolder = "INBOX"
	}
	if len(opts.UnsubscribeFolders) == 0 {
		opts.UnsubscribeFolders = []string{opts.ReplyFolder}
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 30
	}
	opts.OwnAddress = model.NormalizeEmail(opts.OwnAddress)
	return &Reconciler{store: s, guard: guard, transport: transport, opts: opts, logger: logger}
}

func (r *Reconciler) since(now time.Time) time.Time {
	return now.AddDate(0, 0, -r.opts.LookbackDays)
}

func (r *Reconciler) fromSelf(e mailbox.Entry) bool {
	return e.From == "" || (r.opts.OwnAddress != "" && model.NormalizeEmail(e.From) == r.opts.OwnAddress)
}

// enrollmentsFor gathers every enrollment of every contact sharing the
// address, most recently created campaign first.
func (r *Reconciler) enrollmentsFor(ctx context.Context, email string) ([]model.Enrollment, error) {
	contacts, err := r.store.FindContactsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	var all []model.Enrollment
	for _, c := range contacts {
		enrollments, err := r.store.ListEnrollmentsForContact(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		all = append(all, enrollments...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CampaignCreatedAt.After(all[j].CampaignCreatedAt)
	})
	return all, nil
}

// ResolveCampaign picks the enrollment an inbound message belongs to:
// a campaign named by a reference in the subject wins, then the most
// recent active or paused campaign still sending to the contact, then
// the most recently created association. enrollments must be ordered
// newest campaign first.
func ResolveCampaign(subject string, enrollments []model.Enrollment) (*model.Enrollment, bool) {
	if len(enrollments) == 0 {
		return nil, false
	}

	for _, ref := range crossref.ExtractReferences(subject) {
		for i := range enrollments {
			if enrollments[i].CampaignReference == ref {
				return &enrollments[i], true
			}
		}
	}

	for i := range enrollments {
		e := &enrollments[i]
		live := e.CampaignStatus == model.CampaignActive || e.CampaignStatus == model.CampaignPaused
		sending := e.Status == model.ContactPending || e.Status == model.ContactInProgress
		if live && sending {
			return e, true
		}
	}

	return &enrollments[0], true
}

// ScanReplies marks contacts who answered as responded. Messages from
// unknown senders are left unread.
func (r *Reconciler) ScanReplies(ctx context.Context, now time.Time) ([]Reply, error) {
	entries, err := r.transport.GetUnread(ctx, r.opts.ReplyFolder, r.since(now))
	if err != nil {
		return nil, fmt.Errorf("listing unread in %s: %w", r.opts.ReplyFolder, err)
	}

	var replies []Reply
	for _, e := range entries {
		if r.fromSelf(e) || IsBounce(e) {
			continue
		}

		enrollments, err := r.enrollmentsFor(ctx, e.From)
		if err != nil {
			return replies, err
		}
		target, ok := ResolveCampaign(e.Subject, enrollments)
		if !ok {
			continue
		}

		switch target.Status {
		case model.ContactUnsubscribed, model.ContactBounced, model.ContactOptedOut, model.ContactResponded:
		default:
			respondedAt := e.Date
			if respondedAt.IsZero() {
				respondedAt = now
			}
			err := r.store.UpdateCampaignContact(ctx, target.CampaignID, target.ContactID, model.ProgressUpdate{
				Status:             model.ContactResponded,
				RespondedAt:        &respondedAt,
				ClearNextScheduled: true,
			})
			if err != nil {
				return replies, err
			}
			if _, err := r.store.SkipPendingForContact(ctx, target.CampaignID, target.ContactID, "contact responded"); err != nil {
				return replies, err
			}
			replies = append(replies, Reply{
				CampaignID: target.CampaignID,
				ContactID:  target.ContactID,
				Email:      e.From,
				EntryID:    e.ID,
			})
			r.logger.Info("reply detected",
				zap.String("campaign_id", target.CampaignID),
				zap.String("contact_id", target.ContactID),
				zap.String("email", e.From),
			)
		}

		if err := r.transport.MarkRead(ctx, e.ID); err != nil {
			return replies, fmt.Errorf("marking reply %s read: %w", e.ID, err)
		}
	}
	return replies, nil
}

// keywords returns the unsubscribe phrases, from settings when present.
func (r *Reconciler) keywords(ctx context.Context) ([]string, error) {
	lists := []struct {
		key      string
		defaults []string
	}{
		{SettingKeywordsEN, DefaultKeywordsEN},
		{SettingKeywordsFR, DefaultKeywordsFR},
	}

	var out []string
	for _, l := range lists {
		key, defaults := l.key, l.defaults
		v, err := r.store.GetSetting(ctx, key, "")
		if err != nil {
			return nil, err
		}
		if list := ParseList(v); len(list) > 0 {
			out = append(out, list...)
		} else {
			out = append(out, defaults...)
		}
	}
	// Longer phrases first so the reported keyword is the most specific.
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out, nil
}

func (r *Reconciler) unsubscribeFolders(ctx context.Context) ([]string, error) {
	v, err := r.store.GetSetting(ctx, SettingUnsubFolder, "")
	if err != nil {
		return nil, err
	}
	if list := ParseList(v); len(list) > 0 {
		return list, nil
	}
	return r.opts.UnsubscribeFolders, nil
}

// ScanUnsubscribes suppresses senders asking to stop. Only messages
// that match a keyword are marked read.
func (r *Reconciler) ScanUnsubscribes(ctx context.Context, now time.Time) ([]Unsubscribe, error) {
	keywords, err := r.keywords(ctx)
	if err != nil {
		return nil, err
	}
	folders, err := r.unsubscribeFolders(ctx)
	if err != nil {
		return nil, err
	}

	var found []Unsubscribe
	for _, folder := range folders {
		entries, err := r.transport.GetUnread(ctx, folder, r.since(now))
		if err != nil {
			return found, fmt.Errorf("listing unread in %s: %w", folder, err)
		}

		for _, e := range entries {
			if r.fromSelf(e) || IsBounce(e) {
				continue
			}
			kw, hit := MatchKeyword(e.Subject, e.Body, keywords)
			if !hit {
				continue
			}

			u, err := r.unsubscribe(ctx, e, kw)
			if err != nil {
				return found, err
			}
			if err := r.transport.MarkRead(ctx, e.ID); err != nil {
				return found, fmt.Errorf("marking unsubscribe %s read: %w", e.ID, err)
			}
			found = append(found, u)
		}
	}
	return found, nil
}

func (r *Reconciler) unsubscribe(ctx context.Context, e mailbox.Entry, keyword string) (Unsubscribe, error) {
	email := model.NormalizeEmail(e.From)
	u := Unsubscribe{Email: email, Keyword: keyword}
	if refs := crossref.ExtractReferences(e.Subject); len(refs) > 0 {
		u.CampaignRef = refs[0]
	}

	suppressed, err := r.guard.IsSuppressed(ctx, email)
	if err != nil {
		return u, err
	}
	if suppressed {
		return u, nil
	}

	u.New, err = r.guard.Add(ctx, model.SuppressionEntry{
		Email:       email,
		Scope:       model.ScopeGlobal,
		Source:      model.SourceEmailReply,
		Reason:      "unsubscribe request: " + keyword,
		CampaignRef: u.CampaignRef,
		CreatedAt:   e.Date,
	})
	if err != nil {
		return u, err
	}

	if err := r.setAllEnrollments(ctx, email, model.ContactUnsubscribed); err != nil {
		return u, err
	}
	r.logger.Info("unsubscribe detected",
		zap.String("email", email),
		zap.String("keyword", keyword),
		zap.String("campaign_ref", u.CampaignRef),
	)
	return u, nil
}

// setAllEnrollments moves every enrollment of the address to status,
// except those already unsubscribed, bounced or opted out.
func (r *Reconciler) setAllEnrollments(ctx context.Context, email string, status model.ContactStatus) error {
	enrollments, err := r.enrollmentsFor(ctx, email)
	if err != nil {
		return err
	}
	for _, en := range enrollments {
		switch en.Status {
		case model.ContactUnsubscribed, model.ContactBounced, model.ContactOptedOut:
			continue
		}
		err := r.store.UpdateCampaignContact(ctx, en.CampaignID, en.ContactID, model.ProgressUpdate{
			Status:             status,
			ClearNextScheduled: true,
		})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return nil
}

var (
	bounceSenders  = regexp.MustCompile(`(?i)^(mailer-daemon|postmaster)@`)
	bounceSubjects = regexp.MustCompile(`(?i)(undeliverable|undelivered mail|delivery status notification \(failure\)|mail delivery (failed|failure|subsystem)|returned mail|delivery failure|failure notice|non remis|échec de (la )?remise)`)
	finalRecipient = regexp.MustCompile(`(?im)^(?:final|original)-recipient:\s*rfc822;\s*<?([^\s<>]+@[^\s<>]+)>?`)
	emailPattern   = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// IsBounce reports whether an entry looks like a delivery failure report.
func IsBounce(e mailbox.Entry) bool {
	return bounceSenders.MatchString(e.From) || bounceSubjects.MatchString(e.Subject)
}

// bounceCandidates lists addresses a bounce report may refer to,
// DSN recipient fields first.
func bounceCandidates(e mailbox.Entry) []string {
	seen := map[string]bool{}
	var out []string
	add := func(addr string) {
		addr = model.NormalizeEmail(strings.Trim(addr, ".;,"))
		if addr == "" || seen[addr] || bounceSenders.MatchString(addr) {
			return
		}
		seen[addr] = true
		out = append(out, addr)
	}
	for _, m := range finalRecipient.FindAllStringSubmatch(e.Body, -1) {
		add(m[1])
	}
	for _, m := range emailPattern.FindAllString(e.Body, -1) {
		add(m)
	}
	return out
}

// ScanBounces marks bounced recipients and suppresses them. Reports
// whose recipient is not a known contact are left unread.
func (r *Reconciler) ScanBounces(ctx context.Context, now time.Time) ([]Bounce, error) {
	entries, err := r.transport.GetUnread(ctx, r.opts.ReplyFolder, r.since(now))
	if err != nil {
		return nil, fmt.Errorf("listing unread in %s: %w", r.opts.ReplyFolder, err)
	}

	var bounces []Bounce
	for _, e := range entries {
		if !IsBounce(e) {
			continue
		}

		var (
			recipient   string
			enrollments []model.Enrollment
		)
		for _, candidate := range bounceCandidates(e) {
			if candidate == r.opts.OwnAddress {
				continue
			}
			list, err := r.enrollmentsFor(ctx, candidate)
			if err != nil {
				return bounces, err
			}
			if len(list) > 0 {
				recipient, enrollments = candidate, list
				break
			}
		}
		if recipient == "" {
			continue
		}

		if err := r.recordBounce(ctx, e, recipient, enrollments); err != nil {
			return bounces, err
		}
		if err := r.transport.MarkRead(ctx, e.ID); err != nil {
			return bounces, fmt.Errorf("marking bounce %s read: %w", e.ID, err)
		}
		bounces = append(bounces, Bounce{Email: recipient, EntryID: e.ID})
	}
	return bounces, nil
}

func (r *Reconciler) recordBounce(ctx context.Context, e mailbox.Entry, recipient string, enrollments []model.Enrollment) error {
	target, _ := ResolveCampaign(e.Subject, enrollments)

	if _, err := r.guard.Add(ctx, model.SuppressionEntry{
		Email:       recipient,
		Scope:       model.ScopeGlobal,
		Source:      model.SourceBounce,
		Reason:      e.Subject,
		CampaignRef: target.CampaignReference,
	}); err != nil {
		return err
	}
	if err := r.setAllEnrollments(ctx, recipient, model.ContactBounced); err != nil {
		return err
	}
	if err := r.store.AppendEmailLog(ctx, model.EmailLog{
		CampaignID: target.CampaignID,
		ContactID:  target.ContactID,
		StepNumber: target.CurrentStep,
		Email:      recipient,
		Subject:    e.Subject,
		Outcome:    model.OutcomeBounced,
		Error:      truncateRunes(strings.TrimSpace(e.Body), scanPrefix),
	}); err != nil {
		return err
	}
	r.logger.Warn("bounce detected",
		zap.String("email", recipient),
		zap.String("campaign_id", target.CampaignID),
	)
	return nil
}
