package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/outreach/internal/model"
)

// AppendEmailLog records a send outcome. Log rows are never updated.
func (s *SQLiteStore) AppendEmailLog(ctx context.Context, entry model.EmailLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_log (
			id, queue_id, campaign_id, contact_id, step_number, email,
			subject, outcome, message_handle, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.QueueID, entry.CampaignID, entry.ContactID, entry.StepNumber,
		model.NormalizeEmail(entry.Email), entry.Subject, string(entry.Outcome),
		entry.MessageHandle, entry.Error, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending email log for %s: %w", entry.Email, err)
	}
	return nil
}

// ListEmailLogs returns log rows matching the filter, newest first.
func (s *SQLiteStore) ListEmailLogs(ctx context.Context, filter LogFilter) ([]model.EmailLog, error) {
	var conditions []string
	var args []interface{}
	if filter.CampaignID != nil {
		conditions = append(conditions, "campaign_id = ?")
		args = append(args, *filter.CampaignID)
	}
	if filter.Since != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT id, queue_id, campaign_id, contact_id, step_number, email,
		subject, outcome, message_handle, error, created_at FROM email_log`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var logs []model.EmailLog
	if err := s.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("listing email log: %w", err)
	}
	return logs, nil
}

// CountSentSince counts successful sends of a campaign since the given time.
func (s *SQLiteStore) CountSentSince(ctx context.Context, campaignID string, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM email_log
		WHERE campaign_id = ? AND outcome = 'sent' AND created_at >= ?`,
		campaignID, since.UTC())
	if err != nil {
		return 0, fmt.Errorf("counting sends for campaign %s: %w", campaignID, err)
	}
	return count, nil
}
