package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/outreach/internal/model"
)

// IsSuppressed reports whether the address has a global suppression.
func (s *SQLiteStore) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM suppressions WHERE email = ? AND scope = 'global'",
		model.NormalizeEmail(email))
	if err != nil {
		return false, fmt.Errorf("checking suppression for %s: %w", email, err)
	}
	return count > 0, nil
}

// IsSuppressedFor reports whether the address is suppressed globally or
// within the given campaign.
func (s *SQLiteStore) IsSuppressedFor(ctx context.Context, email, campaignID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM suppressions
		WHERE email = ? AND (scope = 'global' OR (scope = 'campaign' AND campaign_id = ?))`,
		model.NormalizeEmail(email), campaignID)
	if err != nil {
		return false, fmt.Errorf("checking suppression for %s in %s: %w", email, campaignID, err)
	}
	return count > 0, nil
}

// AddSuppression stores a suppression entry and, in the same
// transaction, skips every pending queue item addressed to that email
// within the entry's scope. Adding an existing entry is a no-op that
// still skips any pending items. It returns whether a new entry was
// stored and how many queue items were skipped.
func (s *SQLiteStore) AddSuppression(
	ctx context.Context,
	entry model.SuppressionEntry,
) (added bool, skipped int, err error) {
	entry.Email = model.NormalizeEmail(entry.Email)
	if entry.Email == "" {
		return false, 0, fmt.Errorf("suppression email must not be empty")
	}
	if entry.Scope == "" {
		entry.Scope = model.ScopeGlobal
	}
	if entry.Scope == model.ScopeGlobal {
		entry.CampaignID = ""
	} else if entry.CampaignID == "" {
		return false, 0, fmt.Errorf("campaign-scoped suppression for %s needs a campaign", entry.Email)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO suppressions (
			email, scope, source, campaign_id, reason, campaign_ref, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email, scope, campaign_id) DO NOTHING`,
		entry.Email, string(entry.Scope), string(entry.Source), entry.CampaignID,
		entry.Reason, entry.CampaignRef, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return false, 0, fmt.Errorf("adding suppression for %s: %w", entry.Email, err)
	}
	inserted, _ := result.RowsAffected()

	reason := "suppressed: " + string(entry.Source)
	if entry.Reason != "" {
		reason += ": " + entry.Reason
	}
	query := `
		UPDATE email_queue SET status = 'skipped', last_error = ?, updated_at = ?
		WHERE status = 'pending'
			AND contact_id IN (SELECT id FROM contacts WHERE email = ?)`
	args := []interface{}{reason, time.Now().UTC(), entry.Email}
	if entry.Scope == model.ScopeCampaign {
		query += " AND campaign_id = ?"
		args = append(args, entry.CampaignID)
	}
	result, err = tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, 0, fmt.Errorf("skipping queued sends for %s: %w", entry.Email, err)
	}
	n, _ := result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("committing suppression: %w", err)
	}
	return inserted > 0, int(n), nil
}

// ListSuppressions returns all suppression entries, newest first.
func (s *SQLiteStore) ListSuppressions(ctx context.Context) ([]model.SuppressionEntry, error) {
	var entries []model.SuppressionEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT email, scope, source, campaign_id, reason, campaign_ref, created_at
		FROM suppressions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing suppressions: %w", err)
	}
	return entries, nil
}
