package model

import "time"

// EventKind identifies a progress event type.
type EventKind string

const (
	EventItemStarted     EventKind = "item_started"
	EventItemCompleted   EventKind = "item_completed"
	EventItemFailed      EventKind = "item_failed"
	EventCheckpointSaved EventKind = "checkpoint_saved"
	EventJobCompleted    EventKind = "job_completed"
	EventJobFailed       EventKind = "job_failed"
	EventJobCanceled     EventKind = "job_canceled"

	// EventHeartbeat is emitted at the transport layer on idle connections.
	// It carries no id and no payload and is never replayed.
	EventHeartbeat EventKind = "heartbeat"
)

// ProgressEvent is one entry in a job's ordered event log. IDs are
// monotonically increasing per job and delivered in order to every
// subscriber, including on replay.
type ProgressEvent struct {
	JobID string    `json:"job_id"`
	ID    uint64    `json:"id"`
	Kind  EventKind `json:"kind"`
	At    time.Time `json:"at"`

	// Payload, populated by kind.
	Item       *ResearchItem `json:"item,omitempty"`
	Checkpoint *Checkpoint   `json:"checkpoint,omitempty"`
	Error      string        `json:"error,omitempty"`
	Processed  int           `json:"processed,omitempty"`
	Total      int           `json:"total,omitempty"`
}

// Terminal reports whether this event closes the stream for its job.
func (e ProgressEvent) Terminal() bool {
	switch e.Kind {
	case EventJobCompleted, EventJobFailed, EventJobCanceled:
		return true
	}
	return false
}
