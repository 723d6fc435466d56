// Package password hashes and verifies user passwords.
//
// New hashes are Argon2id in the PHC string format. Verification dispatches on
// the hash prefix so bcrypt hashes and legacy salted PBKDF2-SHA256 hashes keep
// validating; NeedsRehash tells callers when to upgrade a stored hash.
package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize  = 16
	keySize   = 32
	argonTime = 3
	argonMem  = 64 * 1024
	argonPar  = 4

	// upper bounds accepted when parsing stored hashes
	maxArgonMem  = 1024 * 1024
	maxArgonTime = 16
	maxPBKDF2Itr = 10_000_000

	argonPrefix  = "$argon2id$"
	pbkdf2Prefix = "pbkdf2_sha256$"
)

var errMalformed = errors.New("malformed password hash")

// Hash returns an Argon2id hash of pw.
func Hash(pw string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(pw), salt, argonTime, argonMem, argonPar, keySize)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMem, argonTime, argonPar,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether pw matches hash. Unknown formats and malformed
// hashes never match.
func Verify(hash, pw string) bool {
	switch {
	case strings.HasPrefix(hash, argonPrefix):
		ok, err := verifyArgon2id(hash, pw)
		return err == nil && ok
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
	case strings.HasPrefix(hash, pbkdf2Prefix):
		ok, err := verifyPBKDF2(hash, pw)
		return err == nil && ok
	}
	return false
}

// NeedsRehash reports whether hash was produced by anything other than the
// current algorithm and parameters.
func NeedsRehash(hash string) bool {
	p, err := parseArgon2id(hash)
	if err != nil {
		return true
	}
	return p.memory != argonMem || p.time != argonTime || p.threads != argonPar || len(p.key) != keySize
}

type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func parseArgon2id(hash string) (*argonParams, error) {
	// "", "argon2id", "v=19", "m=...,t=...,p=...", salt, key
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, errMalformed
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, errMalformed
	}
	var p argonParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return nil, errMalformed
	}
	if p.memory == 0 || p.memory > maxArgonMem || p.time == 0 || p.time > maxArgonTime || p.threads == 0 {
		return nil, errMalformed
	}
	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, errMalformed
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(p.key) == 0 {
		return nil, errMalformed
	}
	return &p, nil
}

func verifyArgon2id(hash, pw string) (bool, error) {
	p, err := parseArgon2id(hash)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(pw), p.salt, p.time, p.memory, p.threads, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(key, p.key) == 1, nil
}

// hashPBKDF2 produces the legacy format: pbkdf2_sha256$<iterations>$<hex salt>$<hex key>.
func hashPBKDF2(pw string, salt []byte, iterations int) string {
	key := pbkdf2.Key([]byte(pw), salt, iterations, keySize, sha256.New)
	return fmt.Sprintf("%s%d$%s$%s", pbkdf2Prefix, iterations, hex.EncodeToString(salt), hex.EncodeToString(key))
}

func verifyPBKDF2(hash, pw string) (bool, error) {
	parts := strings.Split(strings.TrimPrefix(hash, pbkdf2Prefix), "$")
	if len(parts) != 3 {
		return false, errMalformed
	}
	iterations, err := strconv.Atoi(parts[0])
	if err != nil || iterations <= 0 || iterations > maxPBKDF2Itr {
		return false, errMalformed
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return false, errMalformed
	}
	want, err := hex.DecodeString(parts[2])
	if err != nil || len(want) == 0 {
		return false, errMalformed
	}
	key := pbkdf2.Key([]byte(pw), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(key, want) == 1, nil
}
