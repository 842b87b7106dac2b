package search

import (
	"testing"

	"github.com/auctionintel/research-engine/internal/model"
)

func TestNormalizeOrg(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Boys & Girls Club", "boys & girls club"},
		{"  Boys  &  Girls   Club ", "boys & girls club"},
		{"Société Générale", "societe generale"},
		{"CROHN'S & COLITIS", "crohn's & colitis"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeOrg(tt.in); got != tt.want {
			t.Errorf("NormalizeOrg(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("Boys & Girls Club", model.PhaseQuickScan, "v1")
	b := Fingerprint("  boys &  girls club", model.PhaseQuickScan, "v1")
	if a != b {
		t.Error("spelling variants of the same org must share a fingerprint")
	}

	if Fingerprint("Boys & Girls Club", model.PhaseDeepResearch, "v1") == a {
		t.Error("different phases must not collide")
	}
	if Fingerprint("Boys & Girls Club", model.PhaseQuickScan, "v2") == a {
		t.Error("a policy version bump must invalidate the fingerprint")
	}
	if Fingerprint("Rotary Club", model.PhaseQuickScan, "v1") == a {
		t.Error("different orgs must not collide")
	}
	if len(a) != 64 {
		t.Errorf("expected sha256 hex digest, got %d chars", len(a))
	}
}
