package deobfuscator

import (
	"encoding/base64"
	"regexp"
)

// base64Literal inlines base64_decode calls whose argument is a quoted
// literal, replacing the whole call with the decoded text in quotes.
// Blobs that decode to binary are left alone.
type base64Literal struct {
	call *regexp.Regexp
}

func newBase64Literal() *base64Literal {
	return &base64Literal{
		call: regexp.MustCompile(`base64_decode\s*\(\s*['"]([A-Za-z0-9+/=]{16,})['"]\s*\)`),
	}
}

func (d *base64Literal) Name() string { return "base64" }

func (d *base64Literal) Applies(content string) bool {
	return d.call.MatchString(content)
}

func (d *base64Literal) Decode(content string) (string, error) {
	return d.call.ReplaceAllStringFunc(content, func(call string) string {
		m := d.call.FindStringSubmatch(call)
		if len(m) < 2 {
			return call
		}
		decoded, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil || !mostlyPrintable(decoded) {
			return call
		}
		return `"` + string(decoded) + `"`
	}), nil
}
