package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/outreach/internal/crossref"
	"github.com/nhle/outreach/internal/model"
)

const campaignColumns = `
	id, reference, name, list_id, status,
	inter_email_delay_sec, window_start, window_end, allowed_days, timezone,
	jitter_minutes, daily_cap, created_at, updated_at`

// refSeqKey is the settings key holding the last reference sequence
// issued for a two-digit year.
func refSeqKey(year int) string {
	return fmt.Sprintf("campaign_ref_seq_%02d", year%100)
}

// CreateCampaign inserts a campaign and assigns it the next reference
// for the current year, e.g. ISIT-250001. The sequence counter and the
// campaign row are written in one transaction.
func (s *SQLiteStore) CreateCampaign(
	ctx context.Context,
	c model.Campaign,
	refPrefix string,
) (*model.Campaign, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, fmt.Errorf("campaign name must not be empty")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	if c.WindowStart == "" {
		c.WindowStart = "09:00"
	}
	if c.WindowEnd == "" {
		c.WindowEnd = "17:00"
	}
	if len(c.AllowedDays) == 0 {
		c.AllowedDays = model.DefaultWeekdays
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	year := now.Local().Year()
	key := refSeqKey(year)

	var last string
	err = tx.GetContext(ctx, &last, "SELECT value FROM settings WHERE key = ?", key)
	seq := 0
	switch {
	case err == nil:
		seq, err = strconv.Atoi(last)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", key, err)
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	seq++
	if seq > crossref.MaxSequence {
		return nil, fmt.Errorf("campaign reference sequence exhausted for year %d", year)
	}
	if err := setSetting(ctx, tx, key, strconv.Itoa(seq)); err != nil {
		return nil, err
	}
	c.Reference = crossref.FormatReference(refPrefix, year, seq)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Reference, c.Name, c.ListID, string(c.Status),
		c.InterEmailDelaySec, c.WindowStart, c.WindowEnd,
		c.AllowedDays.String(), c.Timezone,
		c.JitterMinutes, c.DailyCap, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating campaign: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing campaign: %w", err)
	}
	return &c, nil
}

// GetCampaign retrieves a campaign by ID.
func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+campaignColumns+" FROM campaigns WHERE id = ?", id)
	c, err := scanCampaign(row)
	if err != nil {
		return nil, notFound(err, "getting campaign %s", id)
	}
	return &c, nil
}

// FindCampaignByReference retrieves a campaign by its reference,
// case-insensitively.
func (s *SQLiteStore) FindCampaignByReference(
	ctx context.Context,
	ref string,
) (*model.Campaign, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+campaignColumns+" FROM campaigns WHERE reference = ?",
		strings.ToUpper(strings.TrimSpace(ref)))
	c, err := scanCampaign(row)
	if err != nil {
		return nil, notFound(err, "finding campaign %s", ref)
	}
	return &c, nil
}

// ListCampaigns returns campaigns, newest first, optionally filtered by status.
func (s *SQLiteStore) ListCampaigns(
	ctx context.Context,
	status *model.CampaignStatus,
) ([]model.Campaign, error) {
	query := "SELECT " + campaignColumns + " FROM campaigns"
	var args []interface{}
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning campaign row: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// SetCampaignStatus moves a campaign to a new lifecycle state.
func (s *SQLiteStore) SetCampaignStatus(
	ctx context.Context,
	id string,
	status model.CampaignStatus,
) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating campaign %s status: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddStep appends a step to a campaign sequence. A zero StepNumber
// takes the next free number.
func (s *SQLiteStore) AddStep(ctx context.Context, step model.EmailStep) (*model.EmailStep, error) {
	if strings.TrimSpace(step.Subject) == "" {
		return nil, fmt.Errorf("step subject must not be empty")
	}
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	if step.StepNumber == 0 {
		var maxStep int
		err := s.db.GetContext(ctx, &maxStep,
			"SELECT COALESCE(MAX(step_number), 0) FROM email_steps WHERE campaign_id = ?",
			step.CampaignID)
		if err != nil {
			return nil, fmt.Errorf("getting max step_number: %w", err)
		}
		step.StepNumber = maxStep + 1
	}
	step.CreatedAt = time.Now().UTC()

	attachments, err := json.Marshal(step.Attachments)
	if err != nil {
		return nil, fmt.Errorf("marshaling attachments: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO email_steps (
			id, campaign_id, step_number, subject, body,
			attachments, delay_days, active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.CampaignID, step.StepNumber, step.Subject, step.Body,
		string(attachments), step.DelayDays, boolToInt(step.Active), step.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("adding step %d to campaign %s: %w",
			step.StepNumber, step.CampaignID, err)
	}
	return &step, nil
}

// GetSteps returns a campaign's steps ordered by step number.
func (s *SQLiteStore) GetSteps(ctx context.Context, campaignID string) ([]model.EmailStep, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, campaign_id, step_number, subject, body,
			attachments, delay_days, active, created_at
		FROM email_steps WHERE campaign_id = ? ORDER BY step_number`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("querying steps for campaign %s: %w", campaignID, err)
	}
	defer rows.Close()

	var steps []model.EmailStep
	for rows.Next() {
		var (
			step        model.EmailStep
			attachments string
			active      int
		)
		err := rows.Scan(
			&step.ID, &step.CampaignID, &step.StepNumber, &step.Subject, &step.Body,
			&attachments, &step.DelayDays, &active, &step.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning step row: %w", err)
		}
		step.Active = active != 0
		if attachments != "" {
			if err := json.Unmarshal([]byte(attachments), &step.Attachments); err != nil {
				return nil, fmt.Errorf("unmarshaling attachments: %w", err)
			}
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// scanCampaign scans a campaign row selected with campaignColumns.
func scanCampaign(row rowScanner) (model.Campaign, error) {
	var (
		c           model.Campaign
		status      string
		allowedDays string
	)

	err := row.Scan(
		&c.ID, &c.Reference, &c.Name, &c.ListID, &status,
		&c.InterEmailDelaySec, &c.WindowStart, &c.WindowEnd, &allowedDays, &c.Timezone,
		&c.JitterMinutes, &c.DailyCap, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return model.Campaign{}, err
	}

	c.Status = model.CampaignStatus(status)
	c.AllowedDays, err = model.ParseWeekdays(allowedDays)
	if err != nil {
		return model.Campaign{}, fmt.Errorf("parsing allowed_days of campaign %s: %w", c.ID, err)
	}
	return c, nil
}
