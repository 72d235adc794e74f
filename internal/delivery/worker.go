// Package delivery runs the background loop that dispatches queued
// emails and reconciles the inbox.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nhle/outreach/internal/inbox"
	"github.com/nhle/outreach/internal/mailbox"
	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/store"
)

// SettingScanInterval overrides the configured scan schedule with a
// fixed interval in seconds when set to a positive number.
const SettingScanInterval = "scan_interval_sec"

// eventBuffer is the capacity of the event channel. Events published
// while it is full are dropped.
const eventBuffer = 64

// Store is the persistence the worker needs.
type Store interface {
	GetSetting(ctx context.Context, key, def string) (string, error)
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	GetSteps(ctx context.Context, campaignID string) ([]model.EmailStep, error)
	GetContact(ctx context.Context, id string) (*model.Contact, error)
	GetCampaignContact(ctx context.Context, campaignID, contactID string) (*model.CampaignContact, error)
	GetDueQueueItems(ctx context.Context, now time.Time, limit int) ([]model.QueuedEmail, error)
	UpdateQueueStatus(ctx context.Context, id string, upd store.QueueUpdate) error
	RecoverSending(ctx context.Context, policy store.RecoverPolicy, maxAttempts int) (int, int, error)
	GetQueueStats(ctx context.Context) (model.QueueStats, error)
	AppendEmailLog(ctx context.Context, entry model.EmailLog) error
	CountSentSince(ctx context.Context, campaignID string, since time.Time) (int, error)
}

// Sequencer materializes due steps and advances contacts after a send.
type Sequencer interface {
	EnqueueDue(ctx context.Context, now time.Time) (int, error)
	ScheduleNextStep(ctx context.Context, campaignID, contactID string, sentStep int, sentAt time.Time) error
}

// Guard returns suppression.ErrSuppressed for an address that may not
// be mailed in the campaign.
type Guard interface {
	Check(ctx context.Context, email, campaignID string) error
}

// Reconciler scans the mailbox.
type Reconciler interface {
	ScanBounces(ctx context.Context, now time.Time) ([]inbox.Bounce, error)
	ScanUnsubscribes(ctx context.Context, now time.Time) ([]inbox.Unsubscribe, error)
	ScanReplies(ctx context.Context, now time.Time) ([]inbox.Reply, error)
}

// Recorder receives worker metrics.
type Recorder interface {
	RecordOutcome(outcome model.EmailOutcome)
	RecordDetection(kind string, n int)
	ObserveSend(d time.Duration)
	SetQueueStats(s model.QueueStats)
}

type nopRecorder struct{}

func (nopRecorder) RecordOutcome(model.EmailOutcome) {}
func (nopRecorder) RecordDetection(string, int)      {}
func (nopRecorder) ObserveSend(time.Duration)        {}
func (nopRecorder) SetQueueStats(model.QueueStats)   {}

// Config tunes the worker.
type Config struct {
	BatchSize        int
	PollInterval     time.Duration
	ErrorBackoff     time.Duration
	StopTimeout      time.Duration
	TransportTimeout time.Duration
	MaxAttempts      int
	RecoverPolicy    store.RecoverPolicy

	// ScanSchedule is a cron spec or descriptor such as "@every 60s".
	ScanSchedule string

	FromName      string
	FromAddress   string
	TagSubject    bool
	AttachmentDir string

	// DefaultTimezone applies to campaigns without their own zone.
	// Empty means the machine's local zone.
	DefaultTimezone string
}

// ConfigFrom builds a worker Config from the application configuration.
func ConfigFrom(cfg *model.AppConfig) Config {
	return Config{
		BatchSize:        cfg.Worker.BatchSize,
		PollInterval:     time.Duration(cfg.Worker.PollIntervalSec) * time.Second,
		ErrorBackoff:     time.Duration(cfg.Worker.ErrorBackoffSec) * time.Second,
		StopTimeout:      time.Duration(cfg.Worker.StopTimeoutSec) * time.Second,
		TransportTimeout: time.Duration(cfg.Transport.TimeoutSec) * time.Second,
		MaxAttempts:      cfg.Worker.MaxAttempts,
		RecoverPolicy:    store.RecoverPolicy(cfg.Worker.RecoverPolicy),
		ScanSchedule:     cfg.Inbox.ScanSchedule,
		FromName:         cfg.Transport.FromName,
		FromAddress:      cfg.Transport.FromAddress,
		TagSubject:       cfg.Transport.TagSubject,
		AttachmentDir:    cfg.Transport.AttachmentDir,
		DefaultTimezone:  cfg.Campaign.Timezone,
	}
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 30 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.TransportTimeout <= 0 {
		c.TransportTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RecoverPolicy == "" {
		c.RecoverPolicy = store.RecoverRequeue
	}
	if c.ScanSchedule == "" {
		c.ScanSchedule = "@every 60s"
	}
}

// Deps are the collaborators the worker drives.
type Deps struct {
	Store      Store
	Transport  mailbox.Transport
	Sequencer  Sequencer
	Guard      Guard
	Reconciler Reconciler
	Metrics    Recorder
	Logger     *zap.Logger

	// Now is the clock. Nil uses time.Now.
	Now func() time.Time
}

// Worker owns the transport connection and runs the delivery loop in a
// single goroutine. Control methods are safe from any goroutine.
type Worker struct {
	cfg        Config
	store      Store
	transport  mailbox.Transport
	sequencer  Sequencer
	guard      Guard
	reconciler Reconciler
	metrics    Recorder
	logger     *zap.Logger
	now        func() time.Time

	schedule      cron.Schedule
	events        chan Event
	scanRequested atomic.Bool

	mu        sync.Mutex
	state     State
	stopCh    chan struct{}
	wakeCh    chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc
	available bool
	queue     model.QueueStats
	lastCycle time.Time
	lastScan  time.Time
	lastError string

	// cycleMu serializes cycles; the fields below belong to its holder.
	cycleMu   sync.Mutex
	nextScan  time.Time
	scanEvery time.Duration
	limiters  map[string]*rate.Limiter
	zones     *locationCache
}

// New validates the configuration and creates a stopped Worker.
func New(cfg Config, deps Deps) (*Worker, error) {
	cfg.applyDefaults()

	if deps.Store == nil || deps.Transport == nil || deps.Sequencer == nil ||
		deps.Guard == nil || deps.Reconciler == nil {
		return nil, fmt.Errorf("worker needs a store, transport, sequencer, guard and reconciler")
	}

	schedule, err := cron.ParseStandard(cfg.ScanSchedule)
	if err != nil {
		return nil, fmt.Errorf("parsing scan schedule %q: %w", cfg.ScanSchedule, err)
	}
	zones, err := newLocationCache(cfg.DefaultTimezone)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var metrics Recorder = nopRecorder{}
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Worker{
		cfg:        cfg,
		store:      deps.Store,
		transport:  deps.Transport,
		sequencer:  deps.Sequencer,
		guard:      deps.Guard,
		reconciler: deps.Reconciler,
		metrics:    metrics,
		logger:     logger,
		now:        now,
		schedule:   schedule,
		events:     make(chan Event, eventBuffer),
		wakeCh:     make(chan struct{}, 1),
		limiters:   make(map[string]*rate.Limiter),
		zones:      zones,
	}, nil
}

// Events returns the channel the worker publishes on. It is never closed.
func (w *Worker) Events() <-chan Event {
	return w.events
}

// Start recovers items interrupted by a previous run and launches the
// loop. It returns true when the worker is running afterwards, which
// includes the case where it already was.
func (w *Worker) Start() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateStopped {
		return true
	}
	if w.done != nil {
		select {
		case <-w.done:
		default:
			w.logger.Warn("previous worker loop still running, not starting")
			return false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	if err := w.recoverInterrupted(ctx); err != nil {
		cancel()
		w.lastError = err.Error()
		w.logger.Error("recovering interrupted sends", zap.Error(err))
		w.publish(ErrorEvent{Message: err.Error()})
		return false
	}

	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	w.cancel = cancel
	w.state = StateRunning

	go w.run(ctx, w.stopCh, w.done)

	w.logger.Info("worker started")
	w.publish(StatusChanged{Status: w.statusLocked()})
	return true
}

// Stop signals the loop, waits up to StopTimeout for the current cycle
// and then cancels whatever is still in flight. The loop closes the
// transport on its way out.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	done, cancel := w.done, w.cancel
	w.state = StateStopped
	w.publish(StatusChanged{Status: w.statusLocked()})
	w.mu.Unlock()

	select {
	case <-done:
	case <-time.After(w.cfg.StopTimeout):
		w.logger.Warn("worker did not stop in time, cancelling current cycle",
			zap.Duration("timeout", w.cfg.StopTimeout))
	}
	cancel()
	w.logger.Info("worker stopped")
}

// Pause keeps the loop alive but stops processing and scanning.
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateRunning {
		return
	}
	w.state = StatePaused
	w.logger.Info("worker paused")
	w.publish(StatusChanged{Status: w.statusLocked()})
}

// Resume continues a paused worker and runs a cycle right away.
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StatePaused {
		return
	}
	w.state = StateRunning
	w.logger.Info("worker resumed")
	w.publish(StatusChanged{Status: w.statusLocked()})
	w.wake()
}

// ScanNow makes the next cycle scan the inbox and runs it right away.
func (w *Worker) ScanNow() {
	w.scanRequested.Store(true)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateRunning {
		w.wake()
	}
}

// Status returns a snapshot of the worker.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statusLocked()
}

func (w *Worker) statusLocked() Status {
	return Status{
		State:              w.state,
		TransportAvailable: w.available,
		Queue:              w.queue,
		LastCycle:          w.lastCycle,
		LastScan:           w.lastScan,
		LastError:          w.lastError,
	}
}

func (w *Worker) wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

func (w *Worker) paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == StatePaused
}

// publish sends an event without blocking.
func (w *Worker) publish(e Event) {
	select {
	case w.events <- e:
	default:
		w.logger.Debug("event channel full, dropping event", zap.String("event", fmt.Sprintf("%T", e)))
	}
}

func (w *Worker) reportError(msg string, err error) {
	w.mu.Lock()
	w.lastError = fmt.Sprintf("%s: %v", msg, err)
	text := w.lastError
	w.mu.Unlock()

	w.logger.Error(msg, zap.Error(err))
	w.publish(ErrorEvent{Message: text})
}

func (w *Worker) setAvailable(v bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.available = v
}

// run is the loop goroutine.
func (w *Worker) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer w.closeTransport()

	w.connect(ctx)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-w.wakeCh:
		case <-timer.C:
		}

		delay := w.cfg.PollInterval
		if !w.paused() {
			if err := w.safeCycle(ctx, stop); err != nil {
				w.reportError("delivery cycle failed", err)
				delay = w.cfg.ErrorBackoff
			}
		}
		timer.Reset(delay)
	}
}

// safeCycle runs one cycle and turns a panic into an error.
func (w *Worker) safeCycle(ctx context.Context, stop <-chan struct{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.cycle(ctx, stop)
}

// recoverInterrupted applies the recover policy to items a previous run
// left in sending.
func (w *Worker) recoverInterrupted(ctx context.Context) error {
	requeued, failed, err := w.store.RecoverSending(ctx, w.cfg.RecoverPolicy, w.cfg.MaxAttempts)
	if err != nil {
		return fmt.Errorf("recovering interrupted sends: %w", err)
	}
	if requeued > 0 || failed > 0 {
		w.logger.Warn("recovered interrupted sends",
			zap.Int("requeued", requeued), zap.Int("failed", failed))
	}
	return nil
}

// idleLocked reports whether no loop goroutine is running or draining.
func (w *Worker) idleLocked() bool {
	if w.state != StateStopped {
		return false
	}
	if w.done == nil {
		return true
	}
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// RunOnce runs a single cycle on the caller's goroutine. When no loop
// is running, items left in sending are recovered first. The transport
// is connected if needed but left open; see Close.
func (w *Worker) RunOnce(ctx context.Context) error {
	w.mu.Lock()
	idle := w.idleLocked()
	w.mu.Unlock()

	if idle {
		if err := w.recoverInterrupted(ctx); err != nil {
			return err
		}
	}
	return w.safeCycle(ctx, nil)
}

// Close releases a transport left open by RunOnce. It does nothing
// while the worker is started.
func (w *Worker) Close() {
	w.mu.Lock()
	idle := w.idleLocked()
	w.mu.Unlock()
	if !idle {
		return
	}

	w.cycleMu.Lock()
	defer w.cycleMu.Unlock()
	w.closeTransport()
}

func (w *Worker) transportContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, w.cfg.TransportTimeout)
}

// connect opens the transport. Failures are reported, and the next
// cycle tries again.
func (w *Worker) connect(ctx context.Context) bool {
	tctx, cancel := w.transportContext(ctx)
	defer cancel()

	if err := w.transport.Connect(tctx); err != nil {
		if mailbox.IsAuthError(err) {
			w.reportError("transport authentication failed", err)
		} else {
			w.logger.Warn("connecting transport", zap.Error(err))
		}
		w.setAvailable(false)
		return false
	}
	ok := w.transport.IsAvailable(tctx)
	w.setAvailable(ok)
	return ok
}

func (w *Worker) closeTransport() {
	if err := w.transport.Close(); err != nil {
		w.logger.Warn("closing transport", zap.Error(err))
	}
	w.setAvailable(false)
}

// ensureTransport reports whether the transport is usable, reconnecting
// once when it is not.
func (w *Worker) ensureTransport(ctx context.Context) bool {
	tctx, cancel := w.transportContext(ctx)
	ok := w.transport.IsAvailable(tctx)
	cancel()
	if ok {
		w.setAvailable(true)
		return true
	}
	return w.connect(ctx)
}
