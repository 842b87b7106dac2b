// Package stream provides the per-job ordered progress event log. One Log
// exists per job; it assigns monotonic event ids, retains history for
// replay, and fans events out to subscribers without gaps or duplicates.
package stream

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/auctionintel/research-engine/internal/model"
)

// Log is the ordered event log for one job.
type Log struct {
	jobID  string
	buffer int

	mu     sync.Mutex
	nextID uint64
	events []model.ProgressEvent
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch     chan model.ProgressEvent
	nextID uint64 // next event id this subscriber expects
}

// NewLog creates an event log for a job. buffer sizes each subscriber's
// channel; a subscriber that falls behind by more than the buffer is
// dropped and must resubscribe with its last seen id.
func NewLog(jobID string, buffer int) *Log {
	if buffer <= 0 {
		buffer = 64
	}
	return &Log{
		jobID:  jobID,
		buffer: buffer,
		nextID: 1,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Append assigns the next id to an event, stores it, and delivers it to
// every live subscriber in order. It returns the stored event.
func (l *Log) Append(kind model.EventKind, fill func(*model.ProgressEvent)) model.ProgressEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev := model.ProgressEvent{
		JobID: l.jobID,
		ID:    l.nextID,
		Kind:  kind,
		At:    time.Now().UTC(),
	}
	if fill != nil {
		fill(&ev)
	}
	ev.JobID = l.jobID
	ev.ID = l.nextID
	l.nextID++

	if l.closed {
		// A closed log accepts no more events.
		return ev
	}
	l.events = append(l.events, ev)

	for sub := range l.subs {
		if sub.nextID != ev.ID {
			continue
		}
		select {
		case sub.ch <- ev:
			sub.nextID = ev.ID + 1
		default:
			// Slow consumer. Dropping it beats blocking the job;
			// it can resubscribe from its last seen id.
			zap.L().Warn("dropping slow progress subscriber",
				zap.String("job_id", l.jobID),
				zap.Uint64("stalled_at", sub.nextID),
			)
			close(sub.ch)
			delete(l.subs, sub)
		}
	}

	if ev.Terminal() {
		l.closeLocked()
	}
	return ev
}

// Subscribe returns a channel that first replays every retained event with
// id > afterID in order, then follows the live stream. The channel closes
// after a terminal event or on Unsubscribe.
func (l *Log) Subscribe(afterID uint64) (<-chan model.ProgressEvent, func()) {
	l.mu.Lock()

	var replay []model.ProgressEvent
	for _, ev := range l.events {
		if ev.ID > afterID {
			replay = append(replay, ev)
		}
	}

	sub := &subscriber{
		ch:     make(chan model.ProgressEvent, l.buffer+len(replay)),
		nextID: l.nextID,
	}
	for _, ev := range replay {
		sub.ch <- ev
	}

	if l.closed {
		close(sub.ch)
		l.mu.Unlock()
		return sub.ch, func() {}
	}

	l.subs[sub] = struct{}{}
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.subs[sub]; ok {
			delete(l.subs, sub)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Snapshot returns all retained events with id > afterID. It backs the
// polling API.
func (l *Log) Snapshot(afterID uint64) []model.ProgressEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []model.ProgressEvent
	for _, ev := range l.events {
		if ev.ID > afterID {
			out = append(out, ev)
		}
	}
	return out
}

// LastID returns the id of the most recent event, or 0.
func (l *Log) LastID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextID - 1
}

// Closed reports whether the log has seen a terminal event.
func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Compact drops retained events with id <= beforeID. Once a checkpoint is
// durable the events it covers are recoverable from the store, so a caller
// bounding memory on very large jobs can trim them here. Ids keep counting;
// compacted events are simply no longer replayable.
func (l *Log) Compact(beforeID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := 0
	for i < len(l.events) && l.events[i].ID <= beforeID {
		i++
	}
	if i > 0 {
		l.events = append([]model.ProgressEvent(nil), l.events[i:]...)
	}
}

func (l *Log) closeLocked() {
	l.closed = true
	for sub := range l.subs {
		close(sub.ch)
		delete(l.subs, sub)
	}
}
