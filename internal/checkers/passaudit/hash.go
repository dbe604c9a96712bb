package passaudit

import (
	"crypto/md5"
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashVerifier tests a candidate password against a stored hash.
type HashVerifier interface {
	Verify(password, hash string) bool
}

// StandardVerifier understands the hash formats found in hosted-site user
// tables: bcrypt, phpass portable hashes, and legacy raw MD5.
type StandardVerifier struct{}

// Verify reports whether password produces hash.
func (StandardVerifier) Verify(password, hash string) bool {
	switch {
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		h := hash
		if strings.HasPrefix(h, "$2y$") {
			h = "$2a$" + h[4:]
		}
		return bcrypt.CompareHashAndPassword([]byte(h), []byte(password)) == nil
	case strings.HasPrefix(hash, "$P$"), strings.HasPrefix(hash, "$H$"):
		return phpassCheck(password, hash)
	case len(hash) == 32:
		sum := fmt.Sprintf("%x", md5.Sum([]byte(password)))
		return subtle.ConstantTimeCompare([]byte(sum), []byte(strings.ToLower(hash))) == 1
	default:
		return false
	}
}

const itoa64 = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// phpassCheck verifies a phpass portable hash: an iterated, salted MD5
// with a custom base64 alphabet.
func phpassCheck(password, hash string) bool {
	if len(hash) < 12 {
		return false
	}
	countLog2 := strings.IndexByte(itoa64, hash[3])
	if countLog2 < 7 || countLog2 > 30 {
		return false
	}
	salt := hash[4:12]
	if len(salt) != 8 {
		return false
	}

	sum := md5.Sum([]byte(salt + password))
	count := 1 << uint(countLog2)
	for i := 0; i < count; i++ {
		sum = md5.Sum(append(sum[:], password...))
	}

	encoded := hash[:12] + phpassEncode64(sum[:])
	return subtle.ConstantTimeCompare([]byte(encoded), []byte(hash)) == 1
}

// phpassEncode64 encodes 16 raw bytes with the phpass alphabet.
func phpassEncode64(input []byte) string {
	var out strings.Builder
	i := 0
	for i < len(input) {
		value := uint32(input[i])
		i++
		out.WriteByte(itoa64[value&0x3f])
		if i < len(input) {
			value |= uint32(input[i]) << 8
		}
		out.WriteByte(itoa64[(value>>6)&0x3f])
		if i >= len(input) {
			break
		}
		i++
		if i < len(input) {
			value |= uint32(input[i]) << 16
		}
		out.WriteByte(itoa64[(value>>12)&0x3f])
		if i >= len(input) {
			break
		}
		i++
		out.WriteByte(itoa64[(value>>18)&0x3f])
	}
	return out.String()
}
