package search

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/auctionintel/research-engine/internal/model"
)

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeOrg canonicalizes an organization name for cache keying:
// lowercase, diacritics stripped, whitespace collapsed. "Crohn's & Colitis"
// and "crohn's  & colitis" must hit the same cache row.
func NormalizeOrg(name string) string {
	s, _, err := transform.String(deaccent, name)
	if err != nil {
		s = name
	}
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// Fingerprint derives the cache key for one phase of research on one
// organization. The policy version is mixed in so a prompt change never
// serves stale findings.
func Fingerprint(org string, phase model.Phase, policyVersion string) string {
	h := sha256.New()
	h.Write([]byte(NormalizeOrg(org)))
	h.Write([]byte{0})
	h.Write([]byte(phase))
	h.Write([]byte{0})
	h.Write([]byte(policyVersion))
	return hex.EncodeToString(h.Sum(nil))
}
