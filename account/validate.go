package account

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/jmcleod/budgetkeeper/internal/util"
)

const (
	// MinPasswordLen is the shortest accepted password, in bytes.
	MinPasswordLen = 6
	// MaxPasswordLen is the bcrypt input limit.
	MaxPasswordLen = 72
	// maxEmailLen follows the RFC 5321 path limit.
	maxEmailLen = 254
	// CodeDigits is the length of a reset code.
	CodeDigits = 6
)

// NormalizeEmail returns the canonical form of email used as the store key:
// trimmed, NFKC-normalized and case-folded. It rejects anything that is not a
// bare addr-spec.
func NormalizeEmail(email string) (string, error) {
	folded := util.FoldIdentifier(email)
	if folded == "" || len(folded) > maxEmailLen {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(folded)
	if err != nil || addr.Address != folded || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	at := strings.LastIndexByte(folded, '@')
	if at <= 0 || !strings.Contains(folded[at+1:], ".") {
		return "", ErrInvalidEmail
	}
	return folded, nil
}

// ValidatePassword enforces the password length policy.
func ValidatePassword(password string) error {
	switch {
	case len(password) < MinPasswordLen:
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidPassword, MinPasswordLen)
	case len(password) > MaxPasswordLen:
		return fmt.Errorf("%w: must be at most %d bytes", ErrInvalidPassword, MaxPasswordLen)
	}
	return nil
}

// validCode reports whether code is exactly CodeDigits ASCII digits.
func validCode(code string) bool {
	if len(code) != CodeDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
