package matcher

import (
	"testing"

	"github.com/Evjaj/purescan-sub000/internal/tokenizer"
	"github.com/Evjaj/purescan-sub000/pkg/models"
)

func mustRule(t *testing.T, regex string, score int, ctx models.MatchContext) *models.PatternRule {
	t.Helper()
	r := &models.PatternRule{Regex: regex, Score: score, Note: regex, Context: ctx}
	if err := r.Compile(); err != nil {
		t.Fatalf("Compile(%q) failed: %v", regex, err)
	}
	return r
}

func TestMatcher_RawView(t *testing.T) {
	m := New(50)
	content := "line one\nline two has eval($x)\nline three"
	rules := []*models.PatternRule{mustRule(t, `eval\s*\(`, 50, models.ContextRaw)}

	got := m.Match(content, nil, rules)
	if len(got) != 1 {
		t.Fatalf("Match() returned %d hits, want 1", len(got))
	}
	if got[0].Line != 2 {
		t.Errorf("Line = %d, want 2", got[0].Line)
	}
	if !got[0].IsRaw {
		t.Error("IsRaw = false, want true")
	}
	if got[0].MatchedText != "eval(" {
		t.Errorf("MatchedText = %q, want %q", got[0].MatchedText, "eval(")
	}
}

func TestMatcher_TokenViewSeesThroughComments(t *testing.T) {
	m := New(50)
	content := "<?php\nev/* split */al($payload);"
	stripped := tokenizer.StripWithLineMap(content)
	rules := []*models.PatternRule{mustRule(t, `ev al\s*\(`, 60, models.ContextToken)}

	got := m.Match(content, stripped, rules)
	if len(got) != 1 {
		t.Fatalf("Match() returned %d hits, want 1", len(got))
	}
	if got[0].IsRaw {
		t.Error("IsRaw = true, want false for token-view hit")
	}
	if got[0].Line != 2 {
		t.Errorf("Line = %d, want 2", got[0].Line)
	}
}

func TestMatcher_TokenViewSkippedWithoutStrip(t *testing.T) {
	m := New(50)
	rules := []*models.PatternRule{mustRule(t, `eval`, 50, models.ContextToken)}

	if got := m.Match("eval($x)", nil, rules); len(got) != 0 {
		t.Errorf("token-only rule matched without stripped view: %d hits", len(got))
	}
}

func TestMatcher_BothViewsDistinctUIDs(t *testing.T) {
	m := New(50)
	content := "<?php eval($x);"
	stripped := tokenizer.StripWithLineMap(content)
	rules := []*models.PatternRule{mustRule(t, `eval\(`, 50, models.ContextBoth)}

	got := m.Match(content, stripped, rules)
	if len(got) != 2 {
		t.Fatalf("Match() returned %d hits, want 2 (one per view)", len(got))
	}
	if got[0].UID == got[1].UID {
		t.Errorf("raw and token hits share UID %q", got[0].UID)
	}
}

func TestMatcher_MultipleOccurrences(t *testing.T) {
	m := New(50)
	content := "eval(a); middle(); eval(b);"
	rules := []*models.PatternRule{mustRule(t, `eval\(`, 50, models.ContextRaw)}

	got := m.Match(content, nil, rules)
	if len(got) != 2 {
		t.Fatalf("Match() returned %d hits, want 2", len(got))
	}
	if got[0].Offset >= got[1].Offset {
		t.Errorf("offsets not increasing: %d, %d", got[0].Offset, got[1].Offset)
	}
}

func TestMatcher_SnippetWindowBounded(t *testing.T) {
	m := New(5)
	content := "aaaaaaaaaaeval(x)bbbbbbbbbb"
	rules := []*models.PatternRule{mustRule(t, `eval`, 50, models.ContextRaw)}

	got := m.Match(content, nil, rules)
	if len(got) != 1 {
		t.Fatalf("Match() returned %d hits, want 1", len(got))
	}
	if len(got[0].Snippet) != 10 {
		t.Errorf("Snippet length = %d, want 10", len(got[0].Snippet))
	}
}

func TestLineIndex(t *testing.T) {
	idx := newLineIndex("ab\ncd\nef")

	tests := []struct {
		offset int
		want   int
	}{
		{0, 1}, {1, 1}, {2, 1}, {3, 2}, {5, 2}, {6, 3}, {7, 3},
	}
	for _, tt := range tests {
		if got := idx.at(tt.offset); got != tt.want {
			t.Errorf("at(%d) = %d, want %d", tt.offset, got, tt.want)
		}
	}
}
