package license

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
)

const (
	keyCharset   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	keyGroups    = 4
	keyGroupSize = 5
	keyLength    = keyGroups*keyGroupSize + keyGroups - 1
	keySeparator = '-'
)

// NormalizeKey trims and upper-cases a raw key as typed by a user.
func NormalizeKey(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidKeyFormat checks XXXXX-XXXXX-XXXXX-XXXXX over the key charset. The
// argument must already be normalised.
func ValidKeyFormat(key string) bool {
	if len(key) != keyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if (i+1)%(keyGroupSize+1) == 0 {
			if key[i] != keySeparator {
				return false
			}
			continue
		}
		if strings.IndexByte(keyCharset, key[i]) < 0 {
			return false
		}
	}
	return true
}

// HashKey returns the SHA-256 hex digest used for lookup.
func HashKey(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// KeyHint is the last group of the key, safe to display.
func KeyHint(normalized string) string {
	if idx := strings.LastIndexByte(normalized, keySeparator); idx >= 0 {
		return normalized[idx+1:]
	}
	return normalized
}

func GenerateKey() (string, error) {
	var b strings.Builder
	b.Grow(keyLength)
	max := big.NewInt(int64(len(keyCharset)))
	for g := 0; g < keyGroups; g++ {
		if g > 0 {
			b.WriteByte(keySeparator)
		}
		for i := 0; i < keyGroupSize; i++ {
			num, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", err
			}
			b.WriteByte(keyCharset[num.Int64()])
		}
	}
	return b.String(), nil
}
