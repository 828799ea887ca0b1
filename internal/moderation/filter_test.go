package moderation

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestClassify_CleanText(t *testing.T) {
	f := NewFilter()

	cases := []string{
		"good morning everyone",
		"can you repeat the last slide?",
		"cảm ơn thầy",
		"",
	}
	for _, text := range cases {
		res := f.Classify(text)
		if res.Flagged {
			t.Errorf("Classify(%q) flagged=%v matches=%v, want clean", text, res.Flagged, res.Matches)
		}
		if len(res.Matches) != 0 {
			t.Errorf("Classify(%q) matches=%v, want none", text, res.Matches)
		}
	}
}

func TestClassify_FlaggedText(t *testing.T) {
	f := NewFilter()

	cases := []struct {
		text    string
		matches []string
	}{
		{"what the fuck", []string{"fuck"}},
		{"FUCK this", []string{"fuck"}},                 // case-insensitive
		{"đồ ngu quá", []string{"đồ ngu"}},              // multi-word Vietnamese phrase
		{"fuck fuck fuck", []string{"fuck"}},            // deduped
		{"shit and damn", []string{"shit", "damn"}},     // list-configuration order
		{"damn... shit!", []string{"shit", "damn"}},     // order by list, not position
		{"classic substring", []string{"ass"}},          // substring containment
	}
	for _, tc := range cases {
		res := f.Classify(tc.text)
		if !res.Flagged {
			t.Errorf("Classify(%q) not flagged, want flagged", tc.text)
			continue
		}
		if !reflect.DeepEqual(res.Matches, tc.matches) {
			t.Errorf("Classify(%q) matches=%v, want %v", tc.text, res.Matches, tc.matches)
		}
	}
}

func TestClassify_CustomTerms(t *testing.T) {
	f := NewFilterWithTerms([]string{"banana", "  spaced  ", "", "   "})

	res := f.Classify("I like Banana bread")
	if !res.Flagged || len(res.Matches) != 1 || res.Matches[0] != "banana" {
		t.Errorf("custom terms: got flagged=%v matches=%v", res.Flagged, res.Matches)
	}

	// Whitespace-only entries were dropped; "spaced" was trimmed.
	res = f.Classify("a spaced word")
	if !res.Flagged {
		t.Error("trimmed term should still match")
	}
}

func TestRedact(t *testing.T) {
	f := NewFilter()

	cases := []struct {
		text string
		want string
	}{
		{"good morning", "good morning"},
		{"what the fuck", "what the ****"},
		{"FUCK this", "**** this"},
		{"fuck and shit", "**** and ****"},
	}
	for _, tc := range cases {
		got := f.Redact(tc.text)
		if got != tc.want {
			t.Errorf("Redact(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestRedact_CaseFoldChangesByteLength(t *testing.T) {
	f := NewFilterWithTerms([]string{"dm"})

	cases := []struct {
		text string
		want string
	}{
		// U+023A grows from 2 to 3 UTF-8 bytes when lowered.
		{"Ⱥdm", "Ⱥ**"},
		{"Ⱥ dm Ⱥ", "Ⱥ ** Ⱥ"},
		// U+0130 shrinks from 2 bytes to 1 when lowered.
		{"İdm", "İ**"},
		{"dmȺdm", "**Ⱥ**"},
	}
	for _, tc := range cases {
		got := f.Redact(tc.text)
		if got != tc.want {
			t.Errorf("Redact(%q) = %q, want %q", tc.text, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Redact(%q) produced invalid UTF-8: %q", tc.text, got)
		}
	}
}

func TestRedact_OverlappingTermsCascade(t *testing.T) {
	f := NewFilterWithTerms([]string{"dam", "amn"})

	// "dam" is redacted first; the mutated text no longer contains "amn",
	// so the second term never fires.
	if got := f.Redact("damn"); got != "***n" {
		t.Errorf("Redact(%q) = %q, want %q", "damn", got, "***n")
	}

	// Reversing the configuration order reverses which term wins.
	rev := NewFilterWithTerms([]string{"amn", "dam"})
	if got := rev.Redact("damn"); got != "d***" {
		t.Errorf("Redact(%q) = %q, want %q", "damn", got, "d***")
	}
}

func TestRedact_StarCountIsRuneCount(t *testing.T) {
	f := NewFilterWithTerms([]string{"địt"})

	got := f.Redact("địt rồi")
	// "địt" is 3 runes, so 3 stars regardless of UTF-8 byte length.
	want := "*** rồi"
	if got != want {
		t.Errorf("Redact = %q, want %q", got, want)
	}
	if strings.Count(got, "*") != 3 {
		t.Errorf("expected 3 stars, got %d", strings.Count(got, "*"))
	}
}
