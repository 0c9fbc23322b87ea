package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
)

func RandomIntn(max int) (int, error) {
	if max <= 0 {
		return 0, fmt.Errorf("random bound must be positive, got %d", max)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("generating random number: %w", err)
	}
	return int(n.Int64()), nil
}

// RandomIntRange returns a uniform integer in [lo, hi].
func RandomIntRange(lo, hi int) (int, error) {
	if hi < lo {
		return 0, fmt.Errorf("invalid random range [%d, %d]", lo, hi)
	}
	n, err := RandomIntn(hi - lo + 1)
	if err != nil {
		return 0, err
	}
	return lo + n, nil
}

// RandomNumericCode returns a decimal code of exactly digits characters with
// no leading zero.
func RandomNumericCode(digits int) (string, error) {
	if digits < 1 || digits > 18 {
		return "", fmt.Errorf("unsupported code length %d", digits)
	}
	lo := 1
	for i := 1; i < digits; i++ {
		lo *= 10
	}
	n, err := RandomIntRange(lo, lo*10-1)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(n), nil
}

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}
