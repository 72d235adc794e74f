package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nhle/outreach/internal/mailbox"
	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/render"
	"github.com/nhle/outreach/internal/store"
	"github.com/nhle/outreach/internal/suppression"
)

// cycleCache holds campaigns and steps read during one cycle.
type cycleCache struct {
	campaigns map[string]*model.Campaign
	steps     map[string][]model.EmailStep
}

func newCycleCache() *cycleCache {
	return &cycleCache{
		campaigns: make(map[string]*model.Campaign),
		steps:     make(map[string][]model.EmailStep),
	}
}

func (w *Worker) campaign(ctx context.Context, cc *cycleCache, id string) (*model.Campaign, error) {
	if c, ok := cc.campaigns[id]; ok {
		return c, nil
	}
	c, err := w.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	cc.campaigns[id] = c
	return c, nil
}

func (w *Worker) step(ctx context.Context, cc *cycleCache, campaignID string, number int) (*model.EmailStep, error) {
	steps, ok := cc.steps[campaignID]
	if !ok {
		var err error
		steps, err = w.store.GetSteps(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		cc.steps[campaignID] = steps
	}
	for i := range steps {
		if steps[i].StepNumber == number {
			return &steps[i], nil
		}
	}
	return nil, nil
}

// stopRequested reports whether stop is closed. A nil channel never is.
func stopRequested(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// cycle runs one pass: enqueue due steps, dispatch a batch, scan the
// inbox when the schedule says so, refresh the stats. A failing item is
// reported and passed over; the scan runs whatever the batch did.
func (w *Worker) cycle(ctx context.Context, stop <-chan struct{}) error {
	w.cycleMu.Lock()
	defer w.cycleMu.Unlock()

	now := w.now()
	defer w.refreshStats(ctx, now)

	if !w.ensureTransport(ctx) {
		w.logger.Debug("transport unavailable, skipping cycle")
		return nil
	}

	batchErr := w.dispatchBatch(ctx, stop, now)
	if errors.Is(batchErr, mailbox.ErrTransportUnavailable) {
		return nil
	}

	if !stopRequested(stop) && ctx.Err() == nil && w.scanDue(ctx, now) {
		w.scan(ctx, now)
	}
	return batchErr
}

// dispatchBatch enqueues due steps and processes up to BatchSize due
// items. It returns mailbox.ErrTransportUnavailable when the transport
// went away mid-batch.
func (w *Worker) dispatchBatch(ctx context.Context, stop <-chan struct{}, now time.Time) error {
	created, err := w.sequencer.EnqueueDue(ctx, now)
	if err != nil {
		return fmt.Errorf("enqueueing due steps: %w", err)
	}
	if created > 0 {
		w.logger.Info("steps enqueued", zap.Int("count", created))
	}

	items, err := w.store.GetDueQueueItems(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetching due items: %w", err)
	}

	cache := newCycleCache()
	for _, item := range items {
		if stopRequested(stop) || ctx.Err() != nil {
			return nil
		}
		err := w.process(ctx, cache, item, now)
		if errors.Is(err, mailbox.ErrTransportUnavailable) {
			w.setAvailable(false)
			w.logger.Warn("transport went away mid-batch")
			return err
		}
		if err != nil {
			w.reportError(fmt.Sprintf("processing queue item %s", item.ID), err)
		}
	}
	return nil
}

// process decides what happens to one due item. Items that may become
// sendable later stay pending; items that never will are skipped.
func (w *Worker) process(ctx context.Context, cache *cycleCache, item model.QueuedEmail, now time.Time) error {
	log := w.logger.With(
		zap.String("queue_id", item.ID),
		zap.String("campaign_id", item.CampaignID),
		zap.String("contact_id", item.ContactID),
		zap.Int("step", item.StepNumber),
	)

	campaign, err := w.campaign(ctx, cache, item.CampaignID)
	if errors.Is(err, store.ErrNotFound) {
		return w.skip(ctx, item, "", "", "campaign not found")
	}
	if err != nil {
		return err
	}
	switch campaign.Status {
	case model.CampaignDraft, model.CampaignPaused:
		return nil
	case model.CampaignCompleted, model.CampaignArchived:
		return w.skip(ctx, item, "", "", "campaign "+string(campaign.Status))
	}

	contact, err := w.store.GetContact(ctx, item.ContactID)
	if errors.Is(err, store.ErrNotFound) {
		return w.skip(ctx, item, "", "", "contact not found")
	}
	if err != nil {
		return err
	}

	progress, err := w.store.GetCampaignContact(ctx, item.CampaignID, item.ContactID)
	if errors.Is(err, store.ErrNotFound) {
		return w.skip(ctx, item, contact.Email, "", "contact not enrolled")
	}
	if err != nil {
		return err
	}
	if progress.Status.IsTerminal() {
		return w.skip(ctx, item, contact.Email, "", "contact "+string(progress.Status))
	}
	if progress.Status == model.ContactPaused {
		return nil
	}

	if err := w.guard.Check(ctx, contact.Email, campaign.ID); err != nil {
		if errors.Is(err, suppression.ErrSuppressed) {
			return w.skip(ctx, item, contact.Email, "", "suppressed")
		}
		return err
	}

	loc, err := w.zones.For(campaign.Timezone)
	if err != nil {
		log.Warn("unknown campaign timezone, using default", zap.Error(err))
	}
	local := now.In(loc)
	if !InWindow(campaign, local) {
		log.Debug("outside sending window")
		return nil
	}

	if campaign.DailyCap > 0 {
		sent, err := w.store.CountSentSince(ctx, campaign.ID, StartOfDay(local))
		if err != nil {
			return err
		}
		if sent >= campaign.DailyCap {
			log.Debug("daily cap reached", zap.Int("cap", campaign.DailyCap))
			return nil
		}
	}

	step, err := w.step(ctx, cache, campaign.ID, item.StepNumber)
	if err != nil {
		return err
	}
	if step == nil || !step.Active {
		return w.skip(ctx, item, contact.Email, "", "step inactive or removed")
	}

	if !w.throttle(campaign, now) {
		log.Debug("inter-email delay not elapsed")
		return nil
	}

	return w.dispatch(ctx, log, item, campaign, contact, step)
}

// throttle enforces the campaign's inter-email delay.
func (w *Worker) throttle(c *model.Campaign, now time.Time) bool {
	if c.InterEmailDelaySec <= 0 {
		delete(w.limiters, c.ID)
		return true
	}
	limit := rate.Every(time.Duration(c.InterEmailDelaySec) * time.Second)
	lim, ok := w.limiters[c.ID]
	if !ok || lim.Limit() != limit {
		lim = rate.NewLimiter(limit, 1)
		w.limiters[c.ID] = lim
	}
	return lim.AllowN(now, 1)
}

func (w *Worker) dispatch(
	ctx context.Context,
	log *zap.Logger,
	item model.QueuedEmail,
	campaign *model.Campaign,
	contact *model.Contact,
	step *model.EmailStep,
) error {
	err := w.store.UpdateQueueStatus(ctx, item.ID, store.QueueUpdate{
		Status:       model.QueueSending,
		CountAttempt: true,
	})
	if errors.Is(err, store.ErrQueueItemClosed) {
		return nil
	}
	if err != nil {
		return err
	}

	rendered := render.Step(*step, contact, campaign, render.Options{TagSubject: w.cfg.TagSubject})
	if len(rendered.Missing) > 0 {
		log.Warn("unknown merge tags rendered empty", zap.Strings("tags", rendered.Missing))
	}

	attachments, err := mailbox.LoadAttachments(step.Attachments, w.cfg.AttachmentDir)
	if err != nil {
		return w.fail(ctx, log, item, contact.Email, rendered.Subject, err)
	}

	msg := mailbox.Message{
		FromName:    w.cfg.FromName,
		FromAddress: w.cfg.FromAddress,
		ToName:      contact.FullName(),
		ToAddress:   contact.Email,
		Subject:     rendered.Subject,
		Body:        rendered.Body,
		Attachments: attachments,
	}

	// A suppression may have landed since the item was picked.
	if err := w.guard.Check(ctx, contact.Email, campaign.ID); err != nil {
		if errors.Is(err, suppression.ErrSuppressed) {
			return w.skip(ctx, item, contact.Email, rendered.Subject, "suppressed")
		}
		if uerr := w.store.UpdateQueueStatus(ctx, item.ID, store.QueueUpdate{
			Status: model.QueuePending,
			Error:  err.Error(),
		}); uerr != nil {
			return uerr
		}
		return err
	}

	tctx, cancel := w.transportContext(ctx)
	started := time.Now()
	handle, err := w.transport.Send(tctx, msg)
	cancel()
	w.metrics.ObserveSend(time.Since(started))

	if errors.Is(err, mailbox.ErrTransportUnavailable) {
		// Never handed over; the item goes back to the queue as is.
		if uerr := w.store.UpdateQueueStatus(ctx, item.ID, store.QueueUpdate{
			Status: model.QueuePending,
			Error:  err.Error(),
		}); uerr != nil {
			return uerr
		}
		return err
	}
	if err != nil {
		return w.fail(ctx, log, item, contact.Email, rendered.Subject, err)
	}

	sentAt := w.now()
	if err := w.store.UpdateQueueStatus(ctx, item.ID, store.QueueUpdate{
		Status:        model.QueueSent,
		MessageHandle: handle,
	}); err != nil {
		return fmt.Errorf("recording send (message %s was delivered): %w", handle, err)
	}
	if err := w.store.AppendEmailLog(ctx, model.EmailLog{
		QueueID:       item.ID,
		CampaignID:    item.CampaignID,
		ContactID:     item.ContactID,
		StepNumber:    item.StepNumber,
		Email:         contact.Email,
		Subject:       rendered.Subject,
		Outcome:       model.OutcomeSent,
		MessageHandle: handle,
		CreatedAt:     sentAt,
	}); err != nil {
		return err
	}
	w.metrics.RecordOutcome(model.OutcomeSent)

	if err := w.sequencer.ScheduleNextStep(ctx, item.CampaignID, item.ContactID, item.StepNumber, sentAt); err != nil {
		return fmt.Errorf("scheduling next step: %w", err)
	}

	log.Info("email sent", zap.String("email", contact.Email), zap.String("message_handle", handle))
	w.publish(EmailSent{
		CampaignID: item.CampaignID,
		ContactID:  item.ContactID,
		QueueID:    item.ID,
		Email:      contact.Email,
		StepNumber: item.StepNumber,
	})
	return nil
}

// fail records a failed attempt. The error is reported but does not
// stop the batch.
func (w *Worker) fail(
	ctx context.Context,
	log *zap.Logger,
	item model.QueuedEmail,
	email, subject string,
	sendErr error,
) error {
	if err := w.store.UpdateQueueStatus(ctx, item.ID, store.QueueUpdate{
		Status: model.QueueFailed,
		Error:  sendErr.Error(),
	}); err != nil && !errors.Is(err, store.ErrQueueItemClosed) {
		return err
	}
	if err := w.store.AppendEmailLog(ctx, model.EmailLog{
		QueueID:    item.ID,
		CampaignID: item.CampaignID,
		ContactID:  item.ContactID,
		StepNumber: item.StepNumber,
		Email:      email,
		Subject:    subject,
		Outcome:    model.OutcomeFailed,
		Error:      sendErr.Error(),
		CreatedAt:  w.now(),
	}); err != nil {
		return err
	}
	w.metrics.RecordOutcome(model.OutcomeFailed)

	var se *mailbox.SendError
	temporary := errors.As(sendErr, &se) && se.Temporary
	log.Error("send failed", zap.String("email", email), zap.Bool("temporary", temporary), zap.Error(sendErr))
	w.publish(ErrorEvent{Message: fmt.Sprintf("sending to %s failed: %v", email, sendErr)})
	return nil
}

// skip closes an item that can never be sent.
func (w *Worker) skip(ctx context.Context, item model.QueuedEmail, email, subject, reason string) error {
	err := w.store.UpdateQueueStatus(ctx, item.ID, store.QueueUpdate{
		Status: model.QueueSkipped,
		Error:  reason,
	})
	if errors.Is(err, store.ErrQueueItemClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := w.store.AppendEmailLog(ctx, model.EmailLog{
		QueueID:    item.ID,
		CampaignID: item.CampaignID,
		ContactID:  item.ContactID,
		StepNumber: item.StepNumber,
		Email:      email,
		Subject:    subject,
		Outcome:    model.OutcomeSkipped,
		Error:      reason,
		CreatedAt:  w.now(),
	}); err != nil {
		return err
	}
	w.metrics.RecordOutcome(model.OutcomeSkipped)
	w.logger.Info("queue item skipped", zap.String("queue_id", item.ID), zap.String("reason", reason))
	return nil
}

// scanDue reports whether the inbox should be scanned at now. A
// positive scan interval setting replaces the configured schedule.
func (w *Worker) scanDue(ctx context.Context, now time.Time) bool {
	every := time.Duration(0)
	raw, err := w.store.GetSetting(ctx, SettingScanInterval, "")
	if err != nil {
		w.logger.Warn("reading scan interval setting", zap.Error(err))
	} else if raw != "" {
		if sec, perr := strconv.Atoi(raw); perr == nil && sec > 0 {
			every = time.Duration(sec) * time.Second
		} else {
			w.logger.Warn("ignoring invalid scan interval", zap.String("value", raw))
		}
	}
	if every != w.scanEvery {
		w.scanEvery = every
		w.nextScan = time.Time{}
	}

	if w.scanRequested.Swap(false) {
		return true
	}
	return !now.Before(w.nextScan)
}

func (w *Worker) nextScanAfter(now time.Time) time.Time {
	if w.scanEvery > 0 {
		return cron.Every(w.scanEvery).Next(now)
	}
	return w.schedule.Next(now)
}

// scan runs the inbox scans, bounces first so that a bounce notice is
// never read as a reply.
func (w *Worker) scan(ctx context.Context, now time.Time) {
	w.nextScan = w.nextScanAfter(now)

	bounces, err := w.reconciler.ScanBounces(ctx, now)
	if err != nil {
		w.scanFailed("scanning bounces", err)
	}
	for _, b := range bounces {
		w.publish(BounceDetected{Email: b.Email})
	}
	w.metrics.RecordDetection("bounce", len(bounces))
	if errors.Is(err, mailbox.ErrTransportUnavailable) {
		return
	}

	unsubs, err := w.reconciler.ScanUnsubscribes(ctx, now)
	if err != nil {
		w.scanFailed("scanning unsubscribes", err)
	}
	n := 0
	for _, u := range unsubs {
		if u.New {
			n++
			w.publish(UnsubscribeDetected{Email: u.Email})
		}
	}
	w.metrics.RecordDetection("unsubscribe", n)
	if errors.Is(err, mailbox.ErrTransportUnavailable) {
		return
	}

	replies, err := w.reconciler.ScanReplies(ctx, now)
	if err != nil {
		w.scanFailed("scanning replies", err)
	}
	for _, r := range replies {
		w.publish(ReplyDetected{CampaignID: r.CampaignID, ContactID: r.ContactID, Email: r.Email})
	}
	w.metrics.RecordDetection("reply", len(replies))

	w.mu.Lock()
	w.lastScan = now
	w.mu.Unlock()

	if len(bounces)+n+len(replies) > 0 {
		w.logger.Info("inbox scanned",
			zap.Int("bounces", len(bounces)),
			zap.Int("unsubscribes", n),
			zap.Int("replies", len(replies)))
	}
}

func (w *Worker) scanFailed(msg string, err error) {
	if errors.Is(err, mailbox.ErrTransportUnavailable) {
		w.setAvailable(false)
		w.logger.Warn(msg, zap.Error(err))
		return
	}
	w.reportError(msg, err)
}

func (w *Worker) refreshStats(ctx context.Context, now time.Time) {
	stats, err := w.store.GetQueueStats(ctx)
	if err != nil {
		w.logger.Warn("reading queue stats", zap.Error(err))
		return
	}
	w.metrics.SetQueueStats(stats)

	w.mu.Lock()
	w.queue = stats
	w.lastCycle = now
	w.mu.Unlock()
}
