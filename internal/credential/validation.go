package credential

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	maxDeviceIDLength     = 64
	maxTopicPatternLength = 256
	minPasswordLength     = 8

	// DefaultTopicPrefix is the OwnTracks publish prefix used by the
	// default per-device rule.
	DefaultTopicPrefix = "owntracks/owntrack"
)

// usernamePattern is the set of usernames that survive both artifact
// formats unchanged: no ':' (password file separator) and no whitespace
// (ACL file separator).
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// ValidateUsername checks a caller-supplied broker username.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username must be 1-64 characters of letters, digits, '.', '_' or '-'", ErrValidation)
	}
	return nil
}

// ValidatePassword checks a caller-supplied plaintext password.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}
	return nil
}

// ValidateDeviceID checks that a device ID can be embedded in a generated
// username and in the default topic pattern.
func ValidateDeviceID(deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrValidation)
	}
	if len(deviceID) > maxDeviceIDLength {
		return fmt.Errorf("%w: device_id exceeds %d characters", ErrValidation, maxDeviceIDLength)
	}
	if !usernamePattern.MatchString(deviceID) {
		return fmt.Errorf("%w: device_id %q contains characters not allowed in topics or usernames", ErrValidation, deviceID)
	}
	return nil
}

// ParsePermission converts s to a Permission.
func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: permission must be one of read, write, readwrite", ErrValidation)
	}
	return p, nil
}

// ValidateTopicPattern checks an MQTT topic filter: '#' only as the last
// whole level, '+' only as a whole level, and no characters that would
// break a line of the ACL file.
func ValidateTopicPattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: topic_pattern is required", ErrValidation)
	}
	if len(pattern) > maxTopicPatternLength {
		return fmt.Errorf("%w: topic_pattern exceeds %d bytes", ErrValidation, maxTopicPatternLength)
	}
	if strings.IndexFunc(pattern, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: topic_pattern contains control characters", ErrValidation)
	}
	if strings.TrimSpace(pattern) != pattern {
		return fmt.Errorf("%w: topic_pattern has leading or trailing whitespace", ErrValidation)
	}

	levels := strings.Split(pattern, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: '#' must be the last topic level on its own", ErrValidation)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: '+' must occupy a whole topic level", ErrValidation)
		}
	}
	return nil
}

// DefaultTopicPattern returns "<prefix>/<deviceID>/#".
func DefaultTopicPattern(prefix, deviceID string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return strings.TrimSuffix(prefix, "/") + "/" + deviceID + "/#"
}
