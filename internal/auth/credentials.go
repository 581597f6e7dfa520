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

	"tonecrate/internal/library"
)

const (
	passwordHashIterations = 120000
	passwordHashSaltLength = 16
	passwordHashKeyLength  = 32
	passwordHashPrefix     = "pbkdf2$"
)

// verifyCredential compares a presented Basic-auth pair against the configured
// credential. Both the username and password comparisons are constant-time.
// Configured passwords are plaintext by default; values in the
// pbkdf2$sha256$<iter>$<salt>$<key> format are verified by re-deriving the key.
func verifyCredential(cred library.Credential, username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(cred.Username), []byte(username)) == 1
	var passOK bool
	if strings.HasPrefix(cred.Password, passwordHashPrefix) {
		passOK = verifyDerivedPassword(cred.Password, password) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(cred.Password), []byte(password)) == 1
	}
	return userOK && passOK
}

// HashPassword derives a storable hash for a folder password. Operators can
// use it to avoid keeping plaintext passwords in the credential table.
func HashPassword(password string) (string, error) {
	salt := make([]byte, passwordHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, passwordHashIterations, passwordHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", passwordHashIterations, encodedSalt, encodedKey), nil
}

func verifyDerivedPassword(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify password: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify password: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify password: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify password: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify password: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return fmt.Errorf("verify password: mismatch")
	}
	return nil
}
