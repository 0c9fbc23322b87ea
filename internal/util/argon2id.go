package util

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

type Argon2idParams struct {
	Time        uint32 `json:"time" yaml:"time"`
	MemoryKiB   uint32 `json:"memory" yaml:"memory_kib"`
	Parallelism uint8  `json:"parallelism" yaml:"parallelism"`
	KeyLen      uint32 `json:"key_len" yaml:"key_len"`
}

const (
	minArgon2idMemoryKiB = 19 * 1024
	minArgon2idTime      = 1
	argon2idSaltLen      = 16
)

// ErrMalformedArgon2idHash is returned when an encoded hash cannot be parsed.
var ErrMalformedArgon2idHash = errors.New("malformed argon2id hash")

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        3,
		MemoryKiB:   64 * 1024,
		Parallelism: 2,
		KeyLen:      32,
	}
}

// ValidateArgon2idParams rejects parameters below the OWASP password storage
// floor.
func ValidateArgon2idParams(p Argon2idParams) error {
	switch {
	case p.KeyLen != 32:
		return fmt.Errorf("argon2id key length must be 32 bytes, got %d", p.KeyLen)
	case p.Time < minArgon2idTime:
		return fmt.Errorf("argon2id time must be at least %d", minArgon2idTime)
	case p.MemoryKiB < minArgon2idMemoryKiB:
		return fmt.Errorf("argon2id memory must be at least %d KiB", minArgon2idMemoryKiB)
	case p.Parallelism < 1:
		return fmt.Errorf("argon2id parallelism must be at least 1")
	}
	return nil
}

func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if params.KeyLen != 32 {
		return nil, fmt.Errorf("argon2id key length must be 32 bytes")
	}
	key := argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}

func CompareArgon2idKey(passphrase string, salt []byte, params Argon2idParams, expectedKey []byte) (bool, error) {
	key, err := DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return false, err
	}
	defer WipeBytes(key)
	return subtle.ConstantTimeCompare(key, expectedKey) == 1, nil
}

// EncodeArgon2idHash derives a key for passphrase with a fresh salt and
// returns it in PHC string format:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
func EncodeArgon2idHash(passphrase string, params Argon2idParams) (string, error) {
	salt, err := RandomBytes(argon2idSaltLen)
	if err != nil {
		return "", err
	}
	key, err := DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return "", err
	}
	defer WipeBytes(key)
	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.MemoryKiB, params.Time, params.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// ParseArgon2idHash splits a PHC encoded argon2id hash into its parameters,
// salt and key.
func ParseArgon2idHash(encoded string) (Argon2idParams, []byte, []byte, error) {
	var params Argon2idParams
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return params, nil, nil, ErrMalformedArgon2idHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, ErrMalformedArgon2idHash
	}
	if version != argon2.Version {
		return params, nil, nil, fmt.Errorf("unsupported argon2 version %d", version)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Time, &params.Parallelism); err != nil {
		return params, nil, nil, ErrMalformedArgon2idHash
	}
	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, ErrMalformedArgon2idHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return params, nil, nil, ErrMalformedArgon2idHash
	}
	params.KeyLen = uint32(len(key))
	return params, salt, key, nil
}
