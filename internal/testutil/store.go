package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// AllDays allows sends on every day of the week.
var AllDays = model.Weekdays{
	time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
	time.Thursday, time.Friday, time.Saturday,
}

// NewActiveCampaign creates an active campaign whose sending window
// covers the whole day, with one active step per delay in delays.
func NewActiveCampaign(
	t *testing.T,
	s *store.SQLiteStore,
	listID string,
	delays ...int,
) (*model.Campaign, []model.EmailStep) {
	t.Helper()
	return NewCampaign(t, s, model.Campaign{
		Name:        "Outreach " + listID,
		ListID:      listID,
		Status:      model.CampaignActive,
		WindowStart: "00:00",
		WindowEnd:   "23:59",
		AllowedDays: AllDays,
	}, delays...)
}

// NewCampaign creates the given campaign with one active step per
// delay in delays.
func NewCampaign(
	t *testing.T,
	s *store.SQLiteStore,
	campaign model.Campaign,
	delays ...int,
) (*model.Campaign, []model.EmailStep) {
	t.Helper()
	ctx := context.Background()

	c, err := s.CreateCampaign(ctx, campaign, "ISIT")
	if err != nil {
		t.Fatalf("creating campaign: %v", err)
	}

	var steps []model.EmailStep
	for i, delay := range delays {
		step, err := s.AddStep(ctx, model.EmailStep{
			CampaignID: c.ID,
			StepNumber: i + 1,
			Subject:    fmt.Sprintf("Step %d for {{first_name}}", i+1),
			Body:       "Hello {{first_name}} at {{company}}",
			DelayDays:  delay,
			Active:     true,
		})
		if err != nil {
			t.Fatalf("adding step %d: %v", i+1, err)
		}
		steps = append(steps, *step)
	}
	return c, steps
}

// NewEnrolledContact creates a contact in listID and enrolls it in the
// campaign at the given time.
func NewEnrolledContact(
	t *testing.T,
	s *store.SQLiteStore,
	campaign *model.Campaign,
	email string,
	at time.Time,
) *model.Contact {
	t.Helper()
	ctx := context.Background()

	contact, err := s.CreateContact(ctx, model.Contact{
		ListID:    campaign.ListID,
		Email:     email,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Company:   "Analytical Engines",
	})
	if err != nil {
		t.Fatalf("creating contact: %v", err)
	}
	if err := s.EnrollContact(ctx, campaign.ID, contact.ID, at); err != nil {
		t.Fatalf("enrolling contact: %v", err)
	}
	return contact
}
