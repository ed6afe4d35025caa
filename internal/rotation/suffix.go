package rotation

import (
	"math/rand/v2"
	"regexp"
)

const (
	suffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	suffixLen      = 2

	// Telegram usernames are 5..32 characters.
	MinBaseLen = 3
	MaxBaseLen = 32 - suffixLen
)

var baseNameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidBaseName reports whether name can prefix a generated alias.
func ValidBaseName(name string) bool {
	return len(name) >= MinBaseLen && len(name) <= MaxBaseLen && baseNameRE.MatchString(name)
}

func randomSuffix() string {
	var b [suffixLen]byte
	for i := range b {
		b[i] = suffixAlphabet[rand.IntN(len(suffixAlphabet))]
	}
	return string(b[:])
}
