package storage

import (
	"crypto/subtle"
	"time"
)

// ChallengeMatches reports whether u holds an unexpired challenge whose hash
// equals codeHash. The comparison is constant time.
func ChallengeMatches(u *User, codeHash string, now time.Time) bool {
	if u == nil || !u.Reset.ValidAt(now) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(u.Reset.CodeHash), []byte(codeHash)) == 1
}

// ApplyReset mutates u for a consumed challenge: the hash is replaced, the
// challenge is cleared and outstanding sessions are revoked.
func ApplyReset(u *User, newHash string, now time.Time) {
	u.PasswordHash = newHash
	u.Reset = nil
	u.TokenVersion++
	u.UpdatedAt = now.UTC()
}
