// Package tokenizer converts source text into a comment-stripped,
// whitespace-collapsed view alongside maps that translate positions in
// that view back to the original text.
package tokenizer

import (
	"sort"
	"strings"
)

// MapEntry maps a cleaned-text offset to its originating position.
type MapEntry struct {
	Clean int // offset in the cleaned text
	Orig  int // offset or line number in the original text
}

// StripResult is the cleaned view of a content blob plus the sparse
// monotonic maps back to the original. Both maps always contain an entry
// at cleaned offset 0.
type StripResult struct {
	Cleaned   string
	LineMap   []MapEntry // cleaned offset -> 1-based original line
	OffsetMap []MapEntry // cleaned offset -> original byte offset
	Identity  bool       // true when stripping was skipped or failed
}

// OrigOffset returns the original-content offset for a cleaned offset.
func (r *StripResult) OrigOffset(clean int) int {
	if r.Identity {
		return clean
	}
	e := lookup(r.OffsetMap, clean)
	return e.Orig + (clean - e.Clean)
}

// OrigLine returns the 1-based original line for a cleaned offset.
func (r *StripResult) OrigLine(clean int) int {
	if r.Identity {
		return 0 // caller counts lines on raw content itself
	}
	return lookup(r.LineMap, clean).Orig
}

// lookup finds the last entry at or before the cleaned offset.
func lookup(entries []MapEntry, clean int) MapEntry {
	if len(entries) == 0 {
		return MapEntry{}
	}
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Clean > clean
	})
	if i == 0 {
		return entries[0]
	}
	return entries[i-1]
}

// identityResult treats content as pure raw text.
func identityResult(src string) *StripResult {
	return &StripResult{
		Cleaned:   src,
		LineMap:   []MapEntry{{Clean: 0, Orig: 1}},
		OffsetMap: []MapEntry{{Clean: 0, Orig: 0}},
		Identity:  true,
	}
}

// StripWithLineMap removes comments from src and collapses whitespace
// runs to a single space, leaving string literals and heredoc bodies
// untouched. Internal failures never escape this boundary: on panic the
// content falls back to an identity mapping over the raw text.
func StripWithLineMap(src string) (res *StripResult) {
	defer func() {
		if recover() != nil {
			res = identityResult(src)
		}
	}()

	var out strings.Builder
	out.Grow(len(src))

	lineMap := []MapEntry{{Clean: 0, Orig: 1}}
	offsetMap := []MapEntry{{Clean: 0, Orig: 0}}

	const (
		stNormal = iota
		stLineComment
		stBlockComment
		stSingle
		stDouble
		stHeredoc
	)

	state := stNormal
	line := 1
	pendingSpace := false
	sampled := true // offset 0 is pre-seeded
	var heredocTag string

	sample := func(i int) {
		if sampled {
			return
		}
		offsetMap = append(offsetMap, MapEntry{Clean: out.Len(), Orig: i})
		lineMap = append(lineMap, MapEntry{Clean: out.Len(), Orig: line})
		sampled = true
	}

	emit := func(i int, b byte) {
		if pendingSpace {
			if out.Len() > 0 {
				out.WriteByte(' ')
			}
			pendingSpace = false
			sampled = false
		}
		sample(i)
		out.WriteByte(b)
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		if c == '\n' {
			line++
		}

		switch state {
		case stNormal:
			switch {
			case c == ' ' || c == '\t' || c == '\r' || c == '\n':
				pendingSpace = true
				sampled = false
			case c == '/' && i+1 < len(src) && src[i+1] == '/':
				state = stLineComment
				sampled = false
			case c == '#':
				state = stLineComment
				sampled = false
			case c == '/' && i+1 < len(src) && src[i+1] == '*':
				state = stBlockComment
				i++ // consume the '*'
				sampled = false
			case c == '\'':
				state = stSingle
				emit(i, c)
			case c == '"':
				state = stDouble
				emit(i, c)
			case c == '<' && strings.HasPrefix(src[i:], "<<<"):
				tag, skip := heredocOpen(src[i:])
				if tag != "" {
					heredocTag = tag
					state = stHeredoc
					for j := 0; j < skip && i+j < len(src); j++ {
						if src[i+j] == '\n' && j > 0 {
							line++
						}
						emit(i+j, src[i+j])
					}
					i += skip - 1
				} else {
					emit(i, c)
				}
			default:
				emit(i, c)
			}

		case stLineComment:
			if c == '\n' {
				state = stNormal
				pendingSpace = true
			}

		case stBlockComment:
			if c == '*' && i+1 < len(src) && src[i+1] == '/' {
				state = stNormal
				i++
				pendingSpace = true
				sampled = false
			}

		case stSingle:
			emit(i, c)
			if c == '\\' && i+1 < len(src) {
				i++
				emit(i, src[i])
			} else if c == '\'' {
				state = stNormal
			}

		case stDouble:
			emit(i, c)
			if c == '\\' && i+1 < len(src) {
				i++
				emit(i, src[i])
			} else if c == '"' {
				state = stNormal
			}

		case stHeredoc:
			emit(i, c)
			if c == '\n' {
				rest := src[i+1:]
				if closesHeredoc(rest, heredocTag) {
					state = stNormal
				}
			}
		}
	}

	return &StripResult{
		Cleaned:   out.String(),
		LineMap:   lineMap,
		OffsetMap: offsetMap,
	}
}

// heredocOpen parses a `<<<TAG` opener, returning the tag and the number
// of bytes consumed through the opening newline. Returns an empty tag
// when the syntax does not look like a heredoc.
func heredocOpen(s string) (tag string, skip int) {
	rest := s[3:]
	quoted := false
	if strings.HasPrefix(rest, "'") || strings.HasPrefix(rest, "\"") {
		quoted = true
		rest = rest[1:]
	}
	end := 0
	for end < len(rest) && (isIdentChar(rest[end])) {
		end++
	}
	if end == 0 {
		return "", 0
	}
	tag = rest[:end]
	pos := end
	if quoted {
		if pos >= len(rest) {
			return "", 0
		}
		pos++ // closing quote
	}
	// Tolerate a trailing \r before the newline.
	for pos < len(rest) && rest[pos] == '\r' {
		pos++
	}
	if pos >= len(rest) || rest[pos] != '\n' {
		return "", 0
	}
	consumed := 3 + pos + 1
	if quoted {
		consumed++ // opening quote
	}
	return tag, consumed
}

// closesHeredoc reports whether the text following a newline terminates
// the heredoc body with the given tag.
func closesHeredoc(rest, tag string) bool {
	i := 0
	for i < len(rest) && (rest[i] == ' ' || rest[i] == '\t') {
		i++
	}
	if !strings.HasPrefix(rest[i:], tag) {
		return false
	}
	after := rest[i+len(tag):]
	return after == "" || after[0] == ';' || after[0] == '\n' || after[0] == '\r'
}

func isIdentChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// scriptMarkers are language-open markers and keywords suggesting the
// content is script source rather than plain text or binary data.
var scriptMarkers = []string{
	"<?php", "<?=", "<script",
	"function", "class ", "namespace ",
	"eval(", "eval (",
}

// IsProbablyScriptLike reports whether the content looks like script
// source. Non-script content skips tokenization and is matched raw only.
func IsProbablyScriptLike(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range scriptMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
