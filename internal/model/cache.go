package model

import "time"

// CacheEntry is one phase result shared across jobs and callers. An entry
// records either a finding or an explicit not-found conclusion; both are
// cache hits. First writer wins: once a fingerprint is written, later puts
// for the same fingerprint leave the original value in place until it
// expires.
type CacheEntry struct {
	Fingerprint  string    `json:"fingerprint"`
	Organization string    `json:"organization"`
	Phase        Phase     `json:"phase"`
	Found        bool      `json:"found"`
	Finding      *Finding  `json:"finding,omitempty"`
	Confidence   float64   `json:"confidence"` // no-event confidence when !Found
	CreatedAt    time.Time `json:"created_at"`
}
