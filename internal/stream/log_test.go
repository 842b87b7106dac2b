package stream

import (
	"testing"
	"time"

	"github.com/auctionintel/research-engine/internal/model"
)

func appendN(l *Log, n int) {
	for i := 0; i < n; i++ {
		l.Append(model.EventItemCompleted, nil)
	}
}

func collect(t *testing.T, ch <-chan model.ProgressEvent, n int) []model.ProgressEvent {
	t.Helper()
	var out []model.ProgressEvent
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %d of %d events", len(out), n)
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestLog_MonotonicIDs(t *testing.T) {
	l := NewLog("job-1", 16)

	a := l.Append(model.EventItemStarted, nil)
	b := l.Append(model.EventItemCompleted, nil)
	c := l.Append(model.EventCheckpointSaved, nil)

	if a.ID != 1 || b.ID != 2 || c.ID != 3 {
		t.Errorf("ids = %d,%d,%d, want 1,2,3", a.ID, b.ID, c.ID)
	}
	if l.LastID() != 3 {
		t.Errorf("LastID = %d, want 3", l.LastID())
	}
}

func TestLog_SubscribeReplayThenLive(t *testing.T) {
	l := NewLog("job-1", 16)
	appendN(l, 5)

	ch, cancel := l.Subscribe(2)
	defer cancel()

	// Replay 3,4,5 then live 6,7.
	appendN(l, 2)
	got := collect(t, ch, 5)
	for i, ev := range got {
		want := uint64(3 + i)
		if ev.ID != want {
			t.Errorf("event %d has id %d, want %d", i, ev.ID, want)
		}
	}
}

func TestLog_SubscribeFromZeroSeesEverything(t *testing.T) {
	l := NewLog("job-1", 16)
	appendN(l, 3)

	ch, cancel := l.Subscribe(0)
	defer cancel()

	got := collect(t, ch, 3)
	if got[0].ID != 1 || got[2].ID != 3 {
		t.Errorf("replay ids %d..%d, want 1..3", got[0].ID, got[2].ID)
	}
}

func TestLog_NoGapsNoDuplicatesAcrossBoundary(t *testing.T) {
	l := NewLog("job-1", 64)
	appendN(l, 10)

	// Subscribe mid-stream, then keep appending; the union of replay and
	// live delivery must be exactly 6..20 in order.
	ch, cancel := l.Subscribe(5)
	defer cancel()
	appendN(l, 10)

	got := collect(t, ch, 15)
	seen := map[uint64]bool{}
	for i, ev := range got {
		if seen[ev.ID] {
			t.Fatalf("duplicate event id %d", ev.ID)
		}
		seen[ev.ID] = true
		if i > 0 && ev.ID != got[i-1].ID+1 {
			t.Fatalf("gap between %d and %d", got[i-1].ID, ev.ID)
		}
	}
	if got[0].ID != 6 || got[14].ID != 20 {
		t.Errorf("range %d..%d, want 6..20", got[0].ID, got[14].ID)
	}
}

func TestLog_TerminalEventClosesStream(t *testing.T) {
	l := NewLog("job-1", 16)
	ch, cancel := l.Subscribe(0)
	defer cancel()

	l.Append(model.EventItemCompleted, nil)
	l.Append(model.EventJobCompleted, func(ev *model.ProgressEvent) {
		ev.Processed = 1
		ev.Total = 1
	})

	got := collect(t, ch, 2)
	if !got[1].Terminal() {
		t.Error("expected terminal event last")
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel after terminal event")
		}
	case <-time.After(time.Second):
		t.Error("channel not closed after terminal event")
	}
	if !l.Closed() {
		t.Error("log should be closed")
	}
}

func TestLog_SubscribeAfterCloseReplaysAndCloses(t *testing.T) {
	l := NewLog("job-1", 16)
	l.Append(model.EventItemCompleted, nil)
	l.Append(model.EventJobCompleted, nil)

	ch, cancel := l.Subscribe(0)
	defer cancel()

	got := collect(t, ch, 2)
	if got[1].Kind != model.EventJobCompleted {
		t.Errorf("last kind = %s", got[1].Kind)
	}
	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}
}

func TestLog_SlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	l := NewLog("job-1", 2)
	ch, cancel := l.Subscribe(0)
	defer cancel()

	// Overrun the buffer without draining; Append must not block.
	done := make(chan struct{})
	go func() {
		appendN(l, 10)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Append blocked on a slow subscriber")
	}

	// The dropped subscriber's channel is closed; a fresh subscribe from
	// its last seen id recovers the rest.
	var last uint64
	for ev := range ch {
		last = ev.ID
	}
	ch2, cancel2 := l.Subscribe(last)
	defer cancel2()
	got := l.Snapshot(last)
	if len(got) == 0 {
		t.Fatal("expected remaining events in snapshot")
	}
	resumed := collect(t, ch2, len(got))
	if resumed[0].ID != last+1 {
		t.Errorf("resume starts at %d, want %d", resumed[0].ID, last+1)
	}
	if resumed[len(resumed)-1].ID != 10 {
		t.Errorf("resume ends at %d, want 10", resumed[len(resumed)-1].ID)
	}
}

func TestLog_Snapshot(t *testing.T) {
	l := NewLog("job-1", 16)
	appendN(l, 5)

	all := l.Snapshot(0)
	if len(all) != 5 {
		t.Fatalf("snapshot len = %d, want 5", len(all))
	}
	tail := l.Snapshot(3)
	if len(tail) != 2 || tail[0].ID != 4 {
		t.Errorf("snapshot(3) = %d events starting %d, want 2 starting 4", len(tail), tail[0].ID)
	}
}

func TestLog_CompactDropsOldRetainedEvents(t *testing.T) {
	l := NewLog("job-1", 16)
	appendN(l, 10)

	l.Compact(7)

	if got := l.Snapshot(0); len(got) != 3 || got[0].ID != 8 {
		t.Errorf("after compact: %d events starting %d, want 3 starting 8", len(got), got[0].ID)
	}
	// New ids keep counting from where they were.
	ev := l.Append(model.EventItemCompleted, nil)
	if ev.ID != 11 {
		t.Errorf("next id = %d, want 11", ev.ID)
	}
}
