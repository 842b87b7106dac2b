// Package policy defines the per-phase research policy: the prompt sent to
// the oracle for each phase, its token budget, and a version string that
// participates in cache fingerprints so a prompt change invalidates cached
// findings.
package policy

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/auctionintel/research-engine/internal/model"
)

// PhasePolicy configures one research phase.
type PhasePolicy struct {
	Prompt    string `yaml:"prompt"`
	MaxTokens int    `yaml:"max_tokens"`
}

// Policy is the full research policy across phases.
type Policy struct {
	Version string                      `yaml:"version"`
	Phases  map[model.Phase]PhasePolicy `yaml:"phases"`
}

const quickScanPrompt = `Search the web for upcoming fundraising auction events run by the nonprofit "{organization}".
Do a quick scan: check the organization's own website and event calendar only.
Respond with ONLY a JSON object:
{"event_title": "", "event_date": "", "auction_type": "live, silent, or Live and Silent", "event_url": "", "contact_name": "", "contact_email": "", "contact_role": "", "organization_address": "", "organization_phone": "", "evidence_auction": "verbatim page text proving the auction", "evidence_date": "verbatim page text showing the date", "event_summary": "", "confidence": 0.0, "has_event": true}
If no upcoming auction is found, return has_event=false with your confidence that there is none.`

const deepResearchPrompt = `Research the nonprofit "{organization}" thoroughly for upcoming fundraising auction events.
Visit the actual event page. Check the official domain, third-party event platforms, and general web search.
Copy evidence text verbatim from the pages you read; never leave evidence fields blank when auction_type or event_date is filled.
Respond with ONLY a JSON object:
{"event_title": "", "event_date": "", "auction_type": "live, silent, or Live and Silent", "event_url": "", "contact_name": "", "contact_email": "", "contact_role": "", "organization_address": "", "organization_phone": "", "evidence_auction": "", "evidence_date": "", "event_summary": "", "confidence": 0.0, "has_event": true}`

const targetedFollowupPrompt = `You previously found the event "{event_title}" ({event_date}) run by "{organization}".
Find ONLY the missing field "{field}" for this event. Search the event page and the organization's contact/staff pages.
Respond with ONLY a JSON object: {"{field}": "", "source_url": "", "confidence": 0.0}`

// Default returns the built-in research policy.
func Default() *Policy {
	return &Policy{
		Version: "v1",
		Phases: map[model.Phase]PhasePolicy{
			model.PhaseQuickScan:        {Prompt: quickScanPrompt, MaxTokens: 1024},
			model.PhaseDeepResearch:     {Prompt: deepResearchPrompt, MaxTokens: 4096},
			model.PhaseTargetedFollowup: {Prompt: targetedFollowupPrompt, MaxTokens: 512},
		},
	}
}

// Load reads a policy file and merges it over the defaults. A missing file
// is not an error; the defaults apply.
func Load(path string) (*Policy, error) {
	p := Default()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, eris.Wrapf(err, "policy: read %s", path)
	}

	var file Policy
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "policy: parse %s", path)
	}

	if file.Version != "" {
		p.Version = file.Version
	}
	for phase, pp := range file.Phases {
		base := p.Phases[phase]
		if pp.Prompt != "" {
			base.Prompt = pp.Prompt
		}
		if pp.MaxTokens > 0 {
			base.MaxTokens = pp.MaxTokens
		}
		p.Phases[phase] = base
	}

	return p, nil
}

// Render substitutes {name} placeholders in the phase prompt.
func (p *Policy) Render(phase model.Phase, vars map[string]string) (string, error) {
	pp, ok := p.Phases[phase]
	if !ok {
		return "", eris.Errorf("policy: no policy for phase %s", phase)
	}
	prompt := pp.Prompt
	for k, v := range vars {
		prompt = strings.ReplaceAll(prompt, "{"+k+"}", v)
	}
	return prompt, nil
}

// MaxTokens returns the token budget for a phase, with a floor of 1024.
func (p *Policy) MaxTokens(phase model.Phase) int {
	if pp, ok := p.Phases[phase]; ok && pp.MaxTokens > 0 {
		return pp.MaxTokens
	}
	return 1024
}
