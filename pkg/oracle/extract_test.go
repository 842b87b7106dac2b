package oracle

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		err  bool
	}{
		{
			name: "bare object",
			in:   `{"found": true, "confidence": 0.9}`,
			want: `{"found": true, "confidence": 0.9}`,
		},
		{
			name: "prose around object",
			in:   "Here is what I found:\n{\"found\": true}\nLet me know if you need more.",
			want: `{"found": true}`,
		},
		{
			name: "fenced json block",
			in:   "```json\n{\"event_title\": \"Spring Gala\"}\n```",
			want: `{"event_title": "Spring Gala"}`,
		},
		{
			name: "fenced block without language tag",
			in:   "```\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "nested objects",
			in:   `result: {"outer": {"inner": 1}} trailing`,
			want: `{"outer": {"inner": 1}}`,
		},
		{
			name: "braces inside strings",
			in:   `{"note": "uses { and } freely", "ok": true}`,
			want: `{"note": "uses { and } freely", "ok": true}`,
		},
		{
			name: "escaped quote inside string",
			in:   `{"note": "she said \"hi\" {", "ok": true}`,
			want: `{"note": "she said \"hi\" {", "ok": true}`,
		},
		{
			name: "no object",
			in:   "I could not find anything.",
			err:  true,
		},
		{
			name: "unbalanced",
			in:   `{"found": true`,
			err:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.err {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
			if !json.Valid(got) {
				t.Errorf("extracted JSON is invalid: %s", got)
			}
		})
	}
}
