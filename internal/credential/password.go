package credential

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Mosquitto PBKDF2-SHA512 parameters. 101 iterations is the broker's own
// default, so digests written here need no broker-side re-hashing.
const (
	hashAlgorithmID  = "7"
	hashIterations   = 101
	hashSaltLen      = 12
	hashKeyLen       = 64
	generatedPassLen = 16 // random bytes, 24 base64 characters
	usernameRandLen  = 4  // random bytes, 8 hex characters
)

// HashPassword derives a broker-native digest from plaintext using a fresh
// random salt: $7$101$<base64 salt>$<base64 key>.
func HashPassword(plaintext string) (string, error) {
	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	return encodeDigest(plaintext, salt, hashIterations), nil
}

// VerifyPassword checks plaintext against a digest produced by HashPassword
// or by mosquitto_passwd.
func VerifyPassword(plaintext, digest string) (bool, error) {
	salt, key, iterations, err := decodeDigest(digest)
	if err != nil {
		return false, err
	}
	candidate := pbkdf2.Key([]byte(plaintext), salt, iterations, len(key), sha512.New)
	return subtle.ConstantTimeCompare(key, candidate) == 1, nil
}

// IsDigest reports whether s parses as a PBKDF2-SHA512 broker digest.
func IsDigest(s string) bool {
	_, _, _, err := decodeDigest(s)
	return err == nil
}

func encodeDigest(plaintext string, salt []byte, iterations int) string {
	key := pbkdf2.Key([]byte(plaintext), salt, iterations, hashKeyLen, sha512.New)
	return "$" + hashAlgorithmID +
		"$" + strconv.Itoa(iterations) +
		"$" + base64.StdEncoding.EncodeToString(salt) +
		"$" + base64.StdEncoding.EncodeToString(key)
}

func decodeDigest(digest string) (salt, key []byte, iterations int, err error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 5 || parts[0] != "" { //nolint:mnd // "", id, iterations, salt, key
		return nil, nil, 0, fmt.Errorf("%w: malformed password digest", ErrValidation)
	}
	if parts[1] != hashAlgorithmID {
		return nil, nil, 0, fmt.Errorf("%w: unsupported digest algorithm %q", ErrValidation, parts[1])
	}

	iterations, err = strconv.Atoi(parts[2])
	if err != nil || iterations < 1 {
		return nil, nil, 0, fmt.Errorf("%w: invalid digest iteration count %q", ErrValidation, parts[2])
	}

	salt, err = base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(salt) == 0 {
		return nil, nil, 0, fmt.Errorf("%w: invalid digest salt", ErrValidation)
	}

	key, err = base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(key) == 0 {
		return nil, nil, 0, fmt.Errorf("%w: invalid digest key", ErrValidation)
	}

	return salt, key, iterations, nil
}

// GeneratePassword returns 16 random bytes encoded as standard base64.
func GeneratePassword() (string, error) {
	b := make([]byte, generatedPassLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// GenerateUsername returns device_<deviceID>_<8 hex characters>.
func GenerateUsername(deviceID string) (string, error) {
	b := make([]byte, usernameRandLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating username: %w", err)
	}
	return "device_" + deviceID + "_" + hex.EncodeToString(b), nil
}
