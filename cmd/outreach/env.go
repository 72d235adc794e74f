package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/outreach/internal/credential"
	"github.com/nhle/outreach/internal/delivery"
	"github.com/nhle/outreach/internal/inbox"
	"github.com/nhle/outreach/internal/logging"
	"github.com/nhle/outreach/internal/mailbox"
	"github.com/nhle/outreach/internal/metrics"
	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/sequence"
	"github.com/nhle/outreach/internal/store"
	"github.com/nhle/outreach/internal/suppression"
)

// env holds what every command needs: config, logger and the store.
type env struct {
	cfg    *model.AppConfig
	logger *zap.Logger
	store  *store.SQLiteStore
}

func openEnv(configPath string) (*env, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, store: s}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Warn("closing store", zap.Error(err))
	}
	_ = e.logger.Sync()
}

func (e *env) guard() *suppression.Guard {
	return suppression.NewGuard(e.store, e.logger.Named("suppression"))
}

// resolveCampaign accepts either a campaign ID or its reference.
func (e *env) resolveCampaign(ctx context.Context, idOrRef string) (*model.Campaign, error) {
	c, err := e.store.GetCampaign(ctx, idOrRef)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	c, err = e.store.FindCampaignByReference(ctx, idOrRef)
	if err != nil {
		return nil, fmt.Errorf("campaign %q: %w", idOrRef, err)
	}
	return c, nil
}

// newWorker assembles the delivery worker and its collaborators.
func (e *env) newWorker(m *metrics.Metrics) (*delivery.Worker, error) {
	secrets, err := credential.LoadSecrets()
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	transport, err := mailbox.FromConfig(e.cfg.Transport, secrets)
	if err != nil {
		return nil, err
	}

	guard := e.guard()
	seq := sequence.New(e.store, guard, sequence.Options{
		MaxAttempts: e.cfg.Worker.MaxAttempts,
		RetryDelay:  time.Duration(e.cfg.Worker.RetryDelayMin) * time.Minute,
	}, e.logger.Named("sequence"))
	rec := inbox.New(e.store, guard, transport, inbox.Options{
		ReplyFolder:        e.cfg.Inbox.ReplyFolder,
		UnsubscribeFolders: e.cfg.Inbox.UnsubscribeFolders,
		LookbackDays:       e.cfg.Inbox.ReplyLookbackDays,
		OwnAddress:         e.cfg.Transport.FromAddress,
	}, e.logger.Named("inbox"))

	deps := delivery.Deps{
		Store:      e.store,
		Transport:  transport,
		Sequencer:  seq,
		Guard:      guard,
		Reconciler: rec,
		Logger:     e.logger.Named("delivery"),
	}
	if m != nil {
		deps.Metrics = m
	}
	return delivery.New(delivery.ConfigFrom(e.cfg), deps)
}
