package model

import "time"

// Checkpoint is a durable snapshot of job progress. Checkpoints are
// append-only and totally ordered per job by Seq; the latest one is
// authoritative for resume. Cursor is the index into the job's ordered
// organization list below which every item has reached a terminal state.
type Checkpoint struct {
	JobID     string                `json:"job_id"`
	Seq       int64                 `json:"seq"`
	Cursor    int                   `json:"cursor"`
	Items     map[string]ItemStatus `json:"items"` // terminal states captured so far
	CreatedAt time.Time             `json:"created_at"`
}

// TerminalCount returns how many captured items are in a terminal state.
func (c *Checkpoint) TerminalCount() int {
	n := 0
	for _, st := range c.Items {
		if st.Terminal() {
			n++
		}
	}
	return n
}
