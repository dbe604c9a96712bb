package deobfuscator

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"encoding/base64"
	"io"
	"regexp"
	"strings"
)

// packedEval unwraps the compressor-over-base64 packers that webshell
// kits favor: gzinflate(base64_decode(...)), gzuncompress variants, and
// the rot13/strrev string mangles. Each call with a literal argument is
// replaced by its decoded text.
type packedEval struct {
	inflate    *regexp.Regexp
	uncompress *regexp.Regexp
	rotted     *regexp.Regexp
	rot13      *regexp.Regexp
	reversed   *regexp.Regexp
}

func newPackedEval() *packedEval {
	const blob = `['"]([A-Za-z0-9+/=]{16,})['"]`
	return &packedEval{
		inflate:    regexp.MustCompile(`gzinflate\s*\(\s*base64_decode\s*\(\s*` + blob + `\s*\)\s*\)`),
		uncompress: regexp.MustCompile(`gzuncompress\s*\(\s*base64_decode\s*\(\s*` + blob + `\s*\)\s*\)`),
		rotted:     regexp.MustCompile(`str_rot13\s*\(\s*base64_decode\s*\(\s*` + blob + `\s*\)\s*\)`),
		rot13:      regexp.MustCompile(`str_rot13\s*\(\s*['"]([^'"]{4,})['"]\s*\)`),
		reversed:   regexp.MustCompile(`strrev\s*\(\s*['"]([^'"]{4,})['"]\s*\)`),
	}
}

func (d *packedEval) Name() string { return "packed" }

func (d *packedEval) Applies(content string) bool {
	return d.inflate.MatchString(content) ||
		d.uncompress.MatchString(content) ||
		d.rotted.MatchString(content) ||
		d.rot13.MatchString(content) ||
		d.reversed.MatchString(content)
}

func (d *packedEval) Decode(content string) (string, error) {
	result := content

	result = replaceBlob(result, d.inflate, func(raw []byte) ([]byte, bool) {
		return inflateRaw(raw)
	})
	result = replaceBlob(result, d.uncompress, func(raw []byte) ([]byte, bool) {
		return inflateZlib(raw)
	})
	result = replaceBlob(result, d.rotted, func(raw []byte) ([]byte, bool) {
		return []byte(applyRot13(string(raw))), true
	})

	result = d.rot13.ReplaceAllStringFunc(result, func(call string) string {
		m := d.rot13.FindStringSubmatch(call)
		if len(m) < 2 {
			return call
		}
		return `"` + applyRot13(m[1]) + `"`
	})
	result = d.reversed.ReplaceAllStringFunc(result, func(call string) string {
		m := d.reversed.FindStringSubmatch(call)
		if len(m) < 2 {
			return call
		}
		return `"` + reverse(m[1]) + `"`
	})

	return result, nil
}

// replaceBlob decodes the base64 literal captured by re, runs transform
// on the raw bytes, and substitutes the call when the result is text.
func replaceBlob(content string, re *regexp.Regexp, transform func([]byte) ([]byte, bool)) string {
	return re.ReplaceAllStringFunc(content, func(call string) string {
		m := re.FindStringSubmatch(call)
		if len(m) < 2 {
			return call
		}
		// Compressed payloads are near-random; plain words are not
		// worth a decompressor round trip.
		if shannon(m[1]) < packedEntropyFloor {
			return call
		}
		raw, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			return call
		}
		out, ok := transform(raw)
		if !ok || !mostlyPrintable(out) {
			return call
		}
		return `"` + string(out) + `"`
	})
}

func inflateRaw(raw []byte) ([]byte, bool) {
	r := flate.NewReader(bytes.NewReader(raw))
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, maxDecodedSize+1))
	if err != nil || len(out) > maxDecodedSize {
		return nil, false
	}
	return out, true
}

func inflateZlib(raw []byte) ([]byte, bool) {
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, false
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, maxDecodedSize+1))
	if err != nil || len(out) > maxDecodedSize {
		return nil, false
	}
	return out, true
}

func applyRot13(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return 'a' + (r-'a'+13)%26
		case r >= 'A' && r <= 'Z':
			return 'A' + (r-'A'+13)%26
		}
		return r
	}, s)
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}
