package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/outreach/internal/model"
)

const enrollmentColumns = `
	campaign_id, contact_id, status, current_step, enrolled_at,
	last_email_sent_at, next_email_scheduled_at, responded_at, updated_at`

// EnrollContact creates the progression record for a contact in a
// campaign with status pending. Enrolling twice is a no-op.
func (s *SQLiteStore) EnrollContact(
	ctx context.Context,
	campaignID, contactID string,
	at time.Time,
) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_contacts (
			campaign_id, contact_id, status, current_step, enrolled_at, updated_at
		) VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT(campaign_id, contact_id) DO NOTHING`,
		campaignID, contactID, string(model.ContactPending), at.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("enrolling contact %s in campaign %s: %w", contactID, campaignID, err)
	}
	return nil
}

// GetCampaignContact retrieves the progression record for a pair.
func (s *SQLiteStore) GetCampaignContact(
	ctx context.Context,
	campaignID, contactID string,
) (*model.CampaignContact, error) {
	var cc model.CampaignContact
	err := s.db.GetContext(ctx, &cc,
		"SELECT "+enrollmentColumns+" FROM campaign_contacts WHERE campaign_id = ? AND contact_id = ?",
		campaignID, contactID)
	if err != nil {
		return nil, notFound(err, "getting campaign contact %s/%s", campaignID, contactID)
	}
	return &cc, nil
}

// UpdateCampaignContact applies a progression transition. current_step
// never moves backwards: a lower value than the stored one is ignored.
func (s *SQLiteStore) UpdateCampaignContact(
	ctx context.Context,
	campaignID, contactID string,
	upd model.ProgressUpdate,
) error {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(upd.Status), time.Now().UTC()}

	if upd.CurrentStep != nil {
		sets = append(sets, "current_step = MAX(current_step, ?)")
		args = append(args, *upd.CurrentStep)
	}
	if upd.LastEmailSentAt != nil {
		sets = append(sets, "last_email_sent_at = ?")
		args = append(args, upd.LastEmailSentAt.UTC())
	}
	switch {
	case upd.NextEmailScheduledAt != nil:
		sets = append(sets, "next_email_scheduled_at = ?")
		args = append(args, upd.NextEmailScheduledAt.UTC())
	case upd.ClearNextScheduled:
		sets = append(sets, "next_email_scheduled_at = NULL")
	}
	if upd.RespondedAt != nil {
		sets = append(sets, "responded_at = ?")
		args = append(args, upd.RespondedAt.UTC())
	}

	args = append(args, campaignID, contactID)
	result, err := s.db.ExecContext(ctx,
		"UPDATE campaign_contacts SET "+strings.Join(sets, ", ")+
			" WHERE campaign_id = ? AND contact_id = ?",
		args...)
	if err != nil {
		return fmt.Errorf("updating campaign contact %s/%s: %w", campaignID, contactID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("campaign contact %s/%s: %w", campaignID, contactID, ErrNotFound)
	}
	return nil
}

// ListEnrollments returns a campaign's progression records, optionally
// restricted to the given statuses, oldest enrollment first.
func (s *SQLiteStore) ListEnrollments(
	ctx context.Context,
	campaignID string,
	statuses ...model.ContactStatus,
) ([]model.CampaignContact, error) {
	query := "SELECT " + enrollmentColumns + " FROM campaign_contacts WHERE campaign_id = ?"
	args := []interface{}{campaignID}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY enrolled_at, contact_id"

	var enrollments []model.CampaignContact
	if err := s.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("listing enrollments for campaign %s: %w", campaignID, err)
	}
	return enrollments, nil
}

// ListEnrollmentsForContact returns every campaign association of a
// contact joined with its campaign, most recently created campaign first.
func (s *SQLiteStore) ListEnrollmentsForContact(
	ctx context.Context,
	contactID string,
) ([]model.Enrollment, error) {
	var enrollments []model.Enrollment
	err := s.db.SelectContext(ctx, &enrollments, `
		SELECT
			cc.campaign_id, cc.contact_id, cc.status, cc.current_step, cc.enrolled_at,
			cc.last_email_sent_at, cc.next_email_scheduled_at, cc.responded_at, cc.updated_at,
			c.reference AS campaign_reference,
			c.status AS campaign_status,
			c.created_at AS campaign_created_at
		FROM campaign_contacts cc
		INNER JOIN campaigns c ON c.id = cc.campaign_id
		WHERE cc.contact_id = ?
		ORDER BY c.created_at DESC, cc.enrolled_at DESC`, contactID)
	if err != nil {
		return nil, fmt.Errorf("listing enrollments for contact %s: %w", contactID, err)
	}
	return enrollments, nil
}
