package models

import "time"

// Finding represents one reportable suspicious source: a file, a database
// row, or an account.
type Finding struct {
	Path     string       `json:"path"`
	Size     int64        `json:"size,omitempty"`
	MTime    time.Time    `json:"mtime,omitempty"`
	Snippets []*Detection `json:"snippets"`

	IsCoreModified   bool `json:"is_core_modified,omitempty"`
	IsPluginModified bool `json:"is_plugin_modified,omitempty"`
	IsDatabase       bool `json:"is_database,omitempty"`
	IsExternal       bool `json:"is_external,omitempty"`

	// Set only when IsDatabase is true.
	DBType   string `json:"db_type,omitempty"`
	DBTable  string `json:"db_table,omitempty"`
	DBRowID  int64  `json:"db_row_id,omitempty"`
	DBColumn string `json:"db_column,omitempty"`
}

// Detection is one merged cluster of pattern matches within a Finding.
type Detection struct {
	OriginalLine int        `json:"original_line"`
	MatchedText  string     `json:"matched_text"`
	OriginalCode string     `json:"original_code"`
	ContextCode  string     `json:"context_code"`
	Patterns     []string   `json:"patterns"`
	Score        int        `json:"score"`
	Confidence   Confidence `json:"confidence"`

	AIStatus   string `json:"ai_status,omitempty"`
	AIAnalysis string `json:"ai_analysis,omitempty"`
	WithoutAI  bool   `json:"without_ai,omitempty"`
}

// Confidence is the tier derived from a detection's summed score.
type Confidence string

const (
	ConfidenceBenign   Confidence = "benign"
	ConfidenceLow      Confidence = "low"
	ConfidenceMedium   Confidence = "medium"
	ConfidenceHigh     Confidence = "high"
	ConfidenceVeryHigh Confidence = "very_high"
)

// ConfidenceTiers holds the score thresholds separating confidence tiers.
// A score below Low maps to benign. VeryHigh may be zero, in which case
// that tier is never produced (file scanning uses three tiers, the
// spamvertising checker uses four).
type ConfidenceTiers struct {
	Low      int
	Medium   int
	High     int
	VeryHigh int
}

// For maps a score onto a confidence tier.
func (t ConfidenceTiers) For(score int) Confidence {
	switch {
	case t.VeryHigh > 0 && score >= t.VeryHigh:
		return ConfidenceVeryHigh
	case score >= t.High:
		return ConfidenceHigh
	case score >= t.Medium:
		return ConfidenceMedium
	case score >= t.Low:
		return ConfidenceLow
	default:
		return ConfidenceBenign
	}
}
