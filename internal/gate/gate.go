// Package gate validates candidate findings against the mandatory-field
// policy. It is pure: no I/O, no external effects.
package gate

import (
	"strings"

	"github.com/auctionintel/research-engine/internal/model"
)

// ParseAuctionType normalizes the auction-type spellings seen in source
// pages to the canonical enum. Sources write things like "Live and Silent",
// "silent, live", or "Silent Auction"; anything that does not resolve to
// exactly one of live/silent/both is unknown.
func ParseAuctionType(raw string) model.AuctionType {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return model.AuctionUnknown
	}

	switch model.AuctionType(s) {
	case model.AuctionLive, model.AuctionSilent, model.AuctionBoth:
		return model.AuctionType(s)
	}

	hasLive := strings.Contains(s, "live")
	hasSilent := strings.Contains(s, "silent")
	switch {
	case hasLive && hasSilent:
		return model.AuctionBoth
	case hasLive:
		return model.AuctionLive
	case hasSilent:
		return model.AuctionSilent
	default:
		return model.AuctionUnknown
	}
}

// Accept reports whether a finding satisfies the mandatory-field policy:
// the auction type must resolve to exactly one of live, silent, or both.
// Rejection is not an error; the phase simply produced no usable result.
func Accept(f model.Finding) bool {
	switch f.AuctionType {
	case model.AuctionLive, model.AuctionSilent, model.AuctionBoth:
		return true
	}
	return false
}
