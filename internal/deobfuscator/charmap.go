package deobfuscator

import (
	"net/url"
	"regexp"
	"strconv"
)

// charMap unwraps the alphabet-indexing scheme where a url-encoded
// alphabet string is assigned once and function names are assembled by
// indexing single characters out of it:
//
//	$oO0="%62%61%73...";$a=$oO0{3}.$oO0{1};
//
// Indexed accesses are replaced with the character they resolve to, which
// reassembles the hidden identifiers in place.
type charMap struct {
	assign *regexp.Regexp
	index  *regexp.Regexp
}

func newCharMap() *charMap {
	return &charMap{
		assign: regexp.MustCompile(`(\$[A-Za-z0-9_]+)\s*=\s*urldecode\s*\(\s*"((?:%[0-9a-fA-F]{2})+)"\s*\)\s*;`),
		index:  regexp.MustCompile(`(\$[A-Za-z0-9_]+)\{(\d+)\}`),
	}
}

func (d *charMap) Name() string { return "charmap" }

func (d *charMap) Applies(content string) bool {
	return d.assign.MatchString(content) && d.index.MatchString(content)
}

func (d *charMap) Decode(content string) (string, error) {
	alphabets := make(map[string]string)
	for _, m := range d.assign.FindAllStringSubmatch(content, -1) {
		decoded, err := url.QueryUnescape(m[2])
		if err != nil {
			continue
		}
		alphabets[m[1]] = decoded
	}
	if len(alphabets) == 0 {
		return content, nil
	}

	result := d.index.ReplaceAllStringFunc(content, func(access string) string {
		m := d.index.FindStringSubmatch(access)
		if len(m) < 3 {
			return access
		}
		alphabet, ok := alphabets[m[1]]
		if !ok {
			return access
		}
		idx, err := strconv.Atoi(m[2])
		if err != nil || idx >= len(alphabet) {
			return access
		}
		return `"` + string(alphabet[idx]) + `"`
	})
	return result, nil
}
