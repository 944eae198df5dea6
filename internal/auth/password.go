package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfAlg        = "pbkdf2_sha256"
	kdfIterations = 200_000
	saltBytes     = 16
	hashBytes     = 32
)

// HashPassword derives a salted hash encoded as
// pbkdf2_sha256$iterations$salt$hash (url-safe base64, no padding).
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, kdfIterations, hashBytes, sha256.New)
	enc := base64.RawURLEncoding
	return fmt.Sprintf("%s$%d$%s$%s", kdfAlg, kdfIterations, enc.EncodeToString(salt), enc.EncodeToString(derived)), nil
}

// VerifyPassword checks a password against a stored hash in constant time.
// Any malformed stored hash verifies as false, never as an error.
func VerifyPassword(password, stored string) bool {
	parts := strings.SplitN(stored, "$", 4)
	if len(parts) != 4 || parts[0] != kdfAlg {
		return false
	}
	iters, err := strconv.Atoi(parts[1])
	if err != nil || iters <= 0 {
		return false
	}
	enc := base64.RawURLEncoding
	salt, err := enc.DecodeString(parts[2])
	if err != nil {
		return false
	}
	expected, err := enc.DecodeString(parts[3])
	if err != nil || len(expected) == 0 {
		return false
	}

	computed := pbkdf2.Key([]byte(password), salt, iters, len(expected), sha256.New)
	return subtle.ConstantTimeCompare(computed, expected) == 1
}
