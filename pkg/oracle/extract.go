package oracle

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractJSON pulls the first JSON object out of model output. Models wrap
// answers in prose or fenced code blocks; this strips both and balances
// braces so trailing commentary does not break decoding.
func ExtractJSON(text string) (json.RawMessage, error) {
	s := text

	// Prefer a fenced block when present.
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}

	start := strings.Index(s, "{")
	if start < 0 {
		return nil, eris.New("oracle: no JSON object in model output")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				raw := json.RawMessage(s[start : i+1])
				if !json.Valid(raw) {
					return nil, eris.New("oracle: extracted text is not valid JSON")
				}
				return raw, nil
			}
		}
	}
	return nil, eris.New("oracle: unbalanced JSON object in model output")
}
