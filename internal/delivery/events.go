package delivery

import (
	"time"

	"github.com/nhle/outreach/internal/model"
)

// Event is published on the worker's event channel. The concrete
// types below are the only implementations.
type Event interface {
	isEvent()
}

// EmailSent is published after a queue item was sent and recorded.
type EmailSent struct {
	CampaignID string
	ContactID  string
	QueueID    string
	Email      string
	StepNumber int
}

// ReplyDetected is published when a reply stopped a contact's sequence.
type ReplyDetected struct {
	CampaignID string
	ContactID  string
	Email      string
}

// UnsubscribeDetected is published for each newly suppressed address.
type UnsubscribeDetected struct {
	Email string
}

// BounceDetected is published for each bounced recipient.
type BounceDetected struct {
	Email string
}

// ErrorEvent carries a failure the operator should see.
type ErrorEvent struct {
	Message string
}

// StatusChanged is published on every state transition.
type StatusChanged struct {
	Status Status
}

func (EmailSent) isEvent()           {}
func (ReplyDetected) isEvent()       {}
func (UnsubscribeDetected) isEvent() {}
func (BounceDetected) isEvent()      {}
func (ErrorEvent) isEvent()          {}
func (StatusChanged) isEvent()       {}

// State is the worker's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// Status is a snapshot of the worker.
type Status struct {
	State              State
	TransportAvailable bool
	Queue              model.QueueStats
	LastCycle          time.Time
	LastScan           time.Time
	LastError          string
}

// Running reports whether the loop goroutine is alive, paused or not.
func (s Status) Running() bool { return s.State != StateStopped }

// Paused reports whether the loop is alive but idle.
func (s Status) Paused() bool { return s.State == StatePaused }
