// Package model defines the core data types shared across the research engine.
package model

import (
	"net/mail"
	"strings"
)

// AuctionType classifies the auction format of an event.
type AuctionType string

const (
	AuctionLive    AuctionType = "live"
	AuctionSilent  AuctionType = "silent"
	AuctionBoth    AuctionType = "both"
	AuctionUnknown AuctionType = "unknown"
)

// LeadTier classifies a finding by contact completeness. Tier determines
// how a lead can be worked: a decision-maker lead has a named contact with
// a verified email, outreach-ready has an email only, event-verified has
// just the event page.
type LeadTier string

const (
	TierDecisionMaker LeadTier = "decision_maker"
	TierOutreachReady LeadTier = "outreach_ready"
	TierEventVerified LeadTier = "event_verified"
	TierNotBillable   LeadTier = "not_billable"
)

// Finding is a candidate research result for one organization. Immutable
// once produced; an item may accumulate several across phases and keeps the
// highest-confidence one that passes classification.
type Finding struct {
	EventTitle      string      `json:"event_title"`
	EventDate       string      `json:"event_date,omitempty"`
	AuctionType     AuctionType `json:"auction_type"`
	EventURL        string      `json:"event_url,omitempty"`
	ContactName     string      `json:"contact_name,omitempty"`
	ContactEmail    string      `json:"contact_email,omitempty"`
	ContactRole     string      `json:"contact_role,omitempty"`
	Address         string      `json:"organization_address,omitempty"`
	Phone           string      `json:"organization_phone,omitempty"`
	SourceURL       string      `json:"source_url,omitempty"`
	EvidenceAuction string      `json:"evidence_auction,omitempty"`
	EvidenceDate    string      `json:"evidence_date,omitempty"`
	Summary         string      `json:"event_summary,omitempty"`
	Confidence      float64     `json:"confidence"`
}

// Tier returns the lead tier for this finding. A verified event page URL is
// the floor for billability: no link, no lead.
func (f Finding) Tier() LeadTier {
	if !validURL(f.EventURL) {
		return TierNotBillable
	}
	hasEmail := validEmail(f.ContactEmail)
	switch {
	case hasEmail && strings.TrimSpace(f.ContactName) != "":
		return TierDecisionMaker
	case hasEmail:
		return TierOutreachReady
	default:
		return TierEventVerified
	}
}

// MissingFields lists empty fields worth a targeted follow-up, most
// valuable first.
func (f Finding) MissingFields() []string {
	var missing []string
	if !validURL(f.EventURL) {
		missing = append(missing, "event_url")
	}
	if !validEmail(f.ContactEmail) {
		missing = append(missing, "contact_email")
	}
	if strings.TrimSpace(f.EventDate) == "" {
		missing = append(missing, "event_date")
	}
	if f.AuctionType == "" || f.AuctionType == AuctionUnknown {
		missing = append(missing, "auction_type")
	}
	if strings.TrimSpace(f.ContactRole) == "" {
		missing = append(missing, "contact_role")
	}
	if strings.TrimSpace(f.Address) == "" {
		missing = append(missing, "organization_address")
	}
	if strings.TrimSpace(f.Phone) == "" {
		missing = append(missing, "organization_phone")
	}
	return missing
}

func validEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := mail.ParseAddress(s)
	return err == nil
}

func validURL(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
