// Package suppression decides whether an address may still be mailed.
package suppression

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/outreach/internal/model"
)

// ErrSuppressed is returned by Check when the address must not be mailed.
var ErrSuppressed = errors.New("address is suppressed")

// Store is the persistence the guard needs.
type Store interface {
	IsSuppressed(ctx context.Context, email string) (bool, error)
	IsSuppressedFor(ctx context.Context, email, campaignID string) (bool, error)
	AddSuppression(ctx context.Context, entry model.SuppressionEntry) (added bool, skipped int, err error)
	ListSuppressions(ctx context.Context) ([]model.SuppressionEntry, error)
}

// Guard answers suppression questions and records new suppressions.
type Guard struct {
	store  Store
	logger *zap.Logger
}

// NewGuard creates a Guard. A nil logger discards output.
func NewGuard(store Store, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{store: store, logger: logger}
}

// IsSuppressed reports whether the address is globally suppressed.
func (g *Guard) IsSuppressed(ctx context.Context, email string) (bool, error) {
	return g.store.IsSuppressed(ctx, model.NormalizeEmail(email))
}

// IsSuppressedFor reports whether the address is suppressed globally or
// for the campaign.
func (g *Guard) IsSuppressedFor(ctx context.Context, email, campaignID string) (bool, error) {
	return g.store.IsSuppressedFor(ctx, model.NormalizeEmail(email), campaignID)
}

// Check returns ErrSuppressed when the address may not be mailed in the
// campaign.
func (g *Guard) Check(ctx context.Context, email, campaignID string) error {
	suppressed, err := g.IsSuppressedFor(ctx, email, campaignID)
	if err != nil {
		return err
	}
	if suppressed {
		return fmt.Errorf("%s: %w", model.NormalizeEmail(email), ErrSuppressed)
	}
	return nil
}

// Add records a suppression. Adding an existing entry is a no-op. Any
// pending sends to the address within the entry's scope are skipped in
// the same transaction.
func (g *Guard) Add(ctx context.Context, entry model.SuppressionEntry) (bool, error) {
	entry.Email = model.NormalizeEmail(entry.Email)
	if entry.Scope == "" {
		entry.Scope = model.ScopeGlobal
	}

	added, skipped, err := g.store.AddSuppression(ctx, entry)
	if err != nil {
		return false, fmt.Errorf("suppressing %s: %w", entry.Email, err)
	}
	if added || skipped > 0 {
		g.logger.Info("suppression recorded",
			zap.String("email", entry.Email),
			zap.String("scope", string(entry.Scope)),
			zap.String("source", string(entry.Source)),
			zap.String("campaign_id", entry.CampaignID),
			zap.Bool("new", added),
			zap.Int("skipped_items", skipped),
		)
	}
	return added, nil
}

// List returns every suppression entry, newest first.
func (g *Guard) List(ctx context.Context) ([]model.SuppressionEntry, error) {
	return g.store.ListSuppressions(ctx)
}
