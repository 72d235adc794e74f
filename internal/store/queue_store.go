package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/outreach/internal/model"
)

const queueColumns = `
	id, campaign_id, contact_id, step_number, scheduled_at, status,
	attempts, last_error, message_handle, created_at, updated_at`

// EnqueueEmail inserts a pending queue item. It returns
// ErrDuplicateQueueItem when the pair already has a pending or sending
// item.
func (s *SQLiteStore) EnqueueEmail(
	ctx context.Context,
	item model.QueuedEmail,
) (*model.QueuedEmail, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	item.Status = model.QueuePending
	item.ScheduledAt = item.ScheduledAt.UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_queue (`+queueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.CampaignID, item.ContactID, item.StepNumber, item.ScheduledAt,
		string(item.Status), item.Attempts, item.LastError, item.MessageHandle,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("enqueueing step %d for %s/%s: %w",
				item.StepNumber, item.CampaignID, item.ContactID, ErrDuplicateQueueItem)
		}
		return nil, fmt.Errorf("enqueueing step %d for %s/%s: %w",
			item.StepNumber, item.CampaignID, item.ContactID, err)
	}
	return &item, nil
}

// HasOpenQueueItem reports whether the pair holds a pending or sending item.
func (s *SQLiteStore) HasOpenQueueItem(
	ctx context.Context,
	campaignID, contactID string,
) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM email_queue
		WHERE campaign_id = ? AND contact_id = ? AND status IN ('pending', 'sending')`,
		campaignID, contactID)
	if err != nil {
		return false, fmt.Errorf("checking open queue items for %s/%s: %w", campaignID, contactID, err)
	}
	return count > 0, nil
}

// CountFailedSends counts failed queue items for one step of a pair.
func (s *SQLiteStore) CountFailedSends(
	ctx context.Context,
	campaignID, contactID string,
	step int,
) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM email_queue
		WHERE campaign_id = ? AND contact_id = ? AND step_number = ? AND status = 'failed'`,
		campaignID, contactID, step)
	if err != nil {
		return 0, fmt.Errorf("counting failed sends for %s/%s step %d: %w", campaignID, contactID, step, err)
	}
	return count, nil
}

// GetQueueItem retrieves a queue item by ID.
func (s *SQLiteStore) GetQueueItem(ctx context.Context, id string) (*model.QueuedEmail, error) {
	var item model.QueuedEmail
	err := s.db.GetContext(ctx, &item,
		"SELECT "+queueColumns+" FROM email_queue WHERE id = ?", id)
	if err != nil {
		return nil, notFound(err, "getting queue item %s", id)
	}
	return &item, nil
}

// GetDueQueueItems returns up to limit pending items scheduled at or
// before now, earliest first.
func (s *SQLiteStore) GetDueQueueItems(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]model.QueuedEmail, error) {
	var items []model.QueuedEmail
	err := s.db.SelectContext(ctx, &items, `
		SELECT `+queueColumns+` FROM email_queue
		WHERE status = 'pending' AND scheduled_at <= ?
		ORDER BY scheduled_at, created_at
		LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying due queue items: %w", err)
	}
	return items, nil
}

// UpdateQueueStatus transitions a queue item. Items already sent,
// failed or skipped are never revisited; such a call returns
// ErrQueueItemClosed.
func (s *SQLiteStore) UpdateQueueStatus(ctx context.Context, id string, upd QueueUpdate) error {
	sets := []string{"status = ?", "last_error = ?", "updated_at = ?"}
	args := []interface{}{string(upd.Status), upd.Error, time.Now().UTC()}
	if upd.MessageHandle != "" {
		sets = append(sets, "message_handle = ?")
		args = append(args, upd.MessageHandle)
	}
	if upd.CountAttempt {
		sets = append(sets, "attempts = attempts + 1")
	}
	args = append(args, id)

	result, err := s.db.ExecContext(ctx,
		"UPDATE email_queue SET "+strings.Join(sets, ", ")+
			" WHERE id = ? AND status IN ('pending', 'sending')",
		args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("updating queue item %s: %w", id, ErrDuplicateQueueItem)
		}
		return fmt.Errorf("updating queue item %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := s.GetQueueItem(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("updating queue item %s: %w", id, ErrQueueItemClosed)
	}
	return nil
}

// SkipPendingForContact skips every pending item of the pair and
// returns how many were skipped.
func (s *SQLiteStore) SkipPendingForContact(
	ctx context.Context,
	campaignID, contactID, reason string,
) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE email_queue SET status = 'skipped', last_error = ?, updated_at = ?
		WHERE campaign_id = ? AND contact_id = ? AND status = 'pending'`,
		reason, time.Now().UTC(), campaignID, contactID)
	if err != nil {
		return 0, fmt.Errorf("skipping pending items for %s/%s: %w", campaignID, contactID, err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// RecoverSending resolves items left in sending by a previous run that
// stopped mid-dispatch. Nothing is resent blindly: the interrupted
// attempt was counted when the item entered sending, and with
// RecoverRequeue the item returns to pending only while it has attempts
// left. Everything else is failed.
func (s *SQLiteStore) RecoverSending(
	ctx context.Context,
	policy RecoverPolicy,
	maxAttempts int,
) (requeued int, failed int, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	const interrupted = "interrupted during send"

	if policy == RecoverRequeue {
		result, err := tx.ExecContext(ctx, `
			UPDATE email_queue SET status = 'pending', last_error = ?, updated_at = ?
			WHERE status = 'sending' AND attempts < ?`,
			interrupted, now, maxAttempts)
		if err != nil {
			return 0, 0, fmt.Errorf("requeueing interrupted items: %w", err)
		}
		n, _ := result.RowsAffected()
		requeued = int(n)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE email_queue SET status = 'failed', last_error = ?, updated_at = ?
		WHERE status = 'sending'`,
		interrupted, now)
	if err != nil {
		return 0, 0, fmt.Errorf("failing interrupted items: %w", err)
	}
	n, _ := result.RowsAffected()
	failed = int(n)

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing recovery: %w", err)
	}
	return requeued, failed, nil
}

// GetQueueStats counts queue items by status.
func (s *SQLiteStore) GetQueueStats(ctx context.Context) (model.QueueStats, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT status, COUNT(*) FROM email_queue GROUP BY status")
	if err != nil {
		return model.QueueStats{}, fmt.Errorf("querying queue stats: %w", err)
	}
	defer rows.Close()

	var stats model.QueueStats
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return model.QueueStats{}, fmt.Errorf("scanning queue stats row: %w", err)
		}
		switch model.QueueStatus(status) {
		case model.QueuePending:
			stats.Pending = count
		case model.QueueSending:
			stats.Sending = count
		case model.QueueSent:
			stats.Sent = count
		case model.QueueFailed:
			stats.Failed = count
		case model.QueueSkipped:
			stats.Skipped = count
		}
	}
	return stats, rows.Err()
}

// ListQueue returns queue items matching the filter, latest scheduled first.
func (s *SQLiteStore) ListQueue(ctx context.Context, filter QueueFilter) ([]model.QueuedEmail, error) {
	var conditions []string
	var args []interface{}
	if filter.CampaignID != nil {
		conditions = append(conditions, "campaign_id = ?")
		args = append(args, *filter.CampaignID)
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := "SELECT " + queueColumns + " FROM email_queue"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY scheduled_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var items []model.QueuedEmail
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}
	return items, nil
}
