package model

// Phase identifies a step of the per-organization research state machine.
type Phase string

const (
	PhaseNotStarted       Phase = "not_started"
	PhaseQuickScan        Phase = "quick_scan"
	PhaseDeepResearch     Phase = "deep_research"
	PhaseTargetedFollowup Phase = "targeted_followup"
	PhaseDone             Phase = "done"
)

// ResearchPhases is the ordered cascade executed for each organization.
var ResearchPhases = []Phase{PhaseQuickScan, PhaseDeepResearch, PhaseTargetedFollowup}

// ItemStatus is the processing state of one organization within a job.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in_progress"
	ItemSucceeded  ItemStatus = "succeeded"
	ItemNotFound   ItemStatus = "not_found"
	ItemFailed     ItemStatus = "failed"
)

// Terminal reports whether the status is final.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemSucceeded, ItemNotFound, ItemFailed:
		return true
	}
	return false
}

// ResearchItem tracks one organization within a job. It is mutated only by
// the worker currently processing it.
type ResearchItem struct {
	Organization string     `json:"organization"`
	Phase        Phase      `json:"phase"`
	Status       ItemStatus `json:"status"`
	Best         *Finding   `json:"best,omitempty"`
	Confidence   float64    `json:"confidence"`
	Attempts     int        `json:"attempts"` // external calls made
	FromCache    bool       `json:"from_cache,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// NewResearchItem returns a pending item for an organization.
func NewResearchItem(org string) ResearchItem {
	return ResearchItem{
		Organization: org,
		Phase:        PhaseNotStarted,
		Status:       ItemPending,
	}
}
