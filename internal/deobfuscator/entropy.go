package deobfuscator

import "math"

// packedEntropyFloor is the Shannon entropy below which a base64 blob is
// assumed to carry plain text rather than compressed or encrypted data.
// English text encoded as base64 sits around 3.5-4.0 bits per byte,
// compressed payloads close to the 6.0 ceiling of the base64 alphabet.
const packedEntropyFloor = 4.2

// shannon returns the Shannon entropy of s in bits per byte.
func shannon(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	var freq [256]int
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	total := float64(len(s))
	var e float64
	for _, n := range freq {
		if n == 0 {
			continue
		}
		p := float64(n) / total
		e -= p * math.Log2(p)
	}
	return e
}

// mostlyPrintable reports whether decoded bytes look like text. Binary
// output means the blob was not a script layer and must stay encoded.
func mostlyPrintable(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	printable := 0
	for _, c := range b {
		if c == '\t' || c == '\n' || c == '\r' || (c >= 0x20 && c < 0x7f) {
			printable++
		}
	}
	return printable*10 >= len(b)*9
}
