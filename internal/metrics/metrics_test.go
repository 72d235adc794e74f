package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/outreach/internal/model"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics(t *testing.T) {
	m := New()

	m.RecordOutcome(model.OutcomeSent)
	m.RecordOutcome(model.OutcomeSent)
	m.RecordOutcome(model.OutcomeFailed)
	m.RecordDetection("reply", 2)
	m.RecordDetection("bounce", 0)
	m.SetQueueStats(model.QueueStats{Pending: 4, Sent: 2})
	m.ObserveSend(150 * time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `outreach_emails_total{outcome="sent"} 2`)
	assert.Contains(t, body, `outreach_emails_total{outcome="failed"} 1`)
	assert.Contains(t, body, `outreach_inbox_detections_total{kind="reply"} 2`)
	assert.Contains(t, body, `outreach_queue_items{status="pending"} 4`)
	assert.Contains(t, body, `outreach_send_duration_seconds_count 1`)
	assert.NotContains(t, body, `kind="bounce"`)
}

func TestNew_RegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RecordOutcome(model.OutcomeSent)

	assert.Contains(t, scrape(t, a), `outreach_emails_total{outcome="sent"} 1`)
	assert.NotContains(t, scrape(t, b), `outreach_emails_total{outcome="sent"}`)
}
