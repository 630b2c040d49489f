package brokersync

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/nerrad567/tracker-broker-core/internal/credential"
	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/config"
)

// AdminIdentity is the broker administrator written at the top of both
// files. PasswordHash is a broker digest, never a plaintext password.
type AdminIdentity struct {
	Username     string
	PasswordHash string
}

// NewAdminIdentity resolves the configured admin. A configured digest is
// used as is; otherwise the plaintext password is hashed once here, so
// every sync renders the same admin line.
func NewAdminIdentity(cfg config.BrokerAdminConfig) (AdminIdentity, error) {
	admin := AdminIdentity{Username: cfg.Username}
	if admin.Username == "" {
		return AdminIdentity{}, fmt.Errorf("%w: admin username is empty", ErrGenerate)
	}

	switch {
	case cfg.PasswordHash != "":
		if !credential.IsDigest(cfg.PasswordHash) {
			return AdminIdentity{}, fmt.Errorf("%w: admin password_hash is not a broker digest", ErrGenerate)
		}
		admin.PasswordHash = cfg.PasswordHash
	case cfg.Password != "":
		hash, err := credential.HashPassword(cfg.Password)
		if err != nil {
			return AdminIdentity{}, fmt.Errorf("%w: hashing admin password: %w", ErrGenerate, err)
		}
		admin.PasswordHash = hash
	default:
		return AdminIdentity{}, fmt.Errorf("%w: admin password or password_hash is required", ErrGenerate)
	}

	if err := checkPasswordLine(admin.Username, admin.PasswordHash); err != nil {
		return AdminIdentity{}, err
	}
	return admin, nil
}

// Artifacts are the two rendered broker files.
type Artifacts struct {
	PasswordFile []byte
	ACLFile      []byte
}

// Generate renders both files from one snapshot.
func Generate(admin AdminIdentity, snap *credential.Snapshot) (*Artifacts, error) {
	passwords, err := GeneratePasswordFile(admin, snap.Credentials)
	if err != nil {
		return nil, err
	}
	acl, err := GenerateACLFile(admin, snap.Credentials, snap.Rules)
	if err != nil {
		return nil, err
	}
	return &Artifacts{PasswordFile: passwords, ACLFile: acl}, nil
}

// GeneratePasswordFile renders the password file: the admin line, then
// one "username:digest" line per enabled credential, sorted by username.
// Disabled credentials are left out entirely.
func GeneratePasswordFile(admin AdminIdentity, creds []credential.Credential) ([]byte, error) {
	enabled, err := enabledCredentials(admin, creds)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	b.WriteString("# Admin user\n")
	fmt.Fprintf(&b, "%s:%s\n", admin.Username, admin.PasswordHash)

	if len(enabled) > 0 {
		b.WriteString("\n# Provisioned devices\n")
		for _, c := range enabled {
			fmt.Fprintf(&b, "%s:%s\n", c.Username, c.PasswordHash)
		}
	}
	return b.Bytes(), nil
}

// GenerateACLFile renders the ACL file: the admin block with full access,
// then one block per enabled credential (sorted by username) listing its
// rules in ID order. A credential without rules still gets its user line
// so it is not left with default access. Rules of devices without an
// enabled credential are dropped.
func GenerateACLFile(admin AdminIdentity, creds []credential.Credential, rules []credential.AccessRule) ([]byte, error) {
	enabled, err := enabledCredentials(admin, creds)
	if err != nil {
		return nil, err
	}

	byDevice := make(map[string][]credential.AccessRule, len(enabled))
	for _, c := range enabled {
		byDevice[c.DeviceID] = nil
	}
	for _, r := range rules {
		if _, ok := byDevice[r.DeviceID]; !ok {
			continue
		}
		if !r.Permission.Valid() {
			return nil, fmt.Errorf("%w: rule %d has invalid permission %q", ErrGenerate, r.ID, r.Permission)
		}
		if err := credential.ValidateTopicPattern(r.TopicPattern); err != nil {
			return nil, fmt.Errorf("%w: rule %d: %w", ErrGenerate, r.ID, err)
		}
		byDevice[r.DeviceID] = append(byDevice[r.DeviceID], r)
	}

	var b bytes.Buffer
	b.WriteString("# Admin user - full access\n")
	fmt.Fprintf(&b, "user %s\n", admin.Username)
	b.WriteString("topic readwrite #\n")

	if len(enabled) > 0 {
		b.WriteString("\n# Device permissions\n")
	}
	for i, c := range enabled {
		if i > 0 {
			b.WriteString("\n")
		}
		deviceRules := byDevice[c.DeviceID]
		sort.Slice(deviceRules, func(i, j int) bool { return deviceRules[i].ID < deviceRules[j].ID })

		fmt.Fprintf(&b, "# Device: %s\n", c.DeviceID)
		fmt.Fprintf(&b, "user %s\n", c.Username)
		for _, r := range deviceRules {
			fmt.Fprintf(&b, "topic %s %s\n", r.Permission, r.TopicPattern)
		}
	}
	return b.Bytes(), nil
}

// enabledCredentials returns a sorted copy of the enabled credentials and
// rejects anything that would corrupt either file.
func enabledCredentials(admin AdminIdentity, creds []credential.Credential) ([]credential.Credential, error) {
	out := make([]credential.Credential, 0, len(creds))
	seen := map[string]bool{admin.Username: true}

	for _, c := range creds {
		if !c.Enabled {
			continue
		}
		if err := checkPasswordLine(c.Username, c.PasswordHash); err != nil {
			return nil, fmt.Errorf("device %s: %w", c.DeviceID, err)
		}
		if strings.ContainsFunc(c.DeviceID, unsafeRune) {
			return nil, fmt.Errorf("%w: device id %q", ErrGenerate, c.DeviceID)
		}
		if seen[c.Username] {
			return nil, fmt.Errorf("%w: username %q appears more than once", ErrGenerate, c.Username)
		}
		seen[c.Username] = true
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// checkPasswordLine rejects values that cannot be written as
// "username:digest" on one line.
func checkPasswordLine(username, hash string) error {
	if username == "" || strings.ContainsRune(username, ':') || strings.ContainsFunc(username, unsafeRune) {
		return fmt.Errorf("%w: invalid username %q", ErrGenerate, username)
	}
	if hash == "" || strings.ContainsRune(hash, ':') || strings.ContainsFunc(hash, unsafeRune) {
		return fmt.Errorf("%w: invalid password digest for %q", ErrGenerate, username)
	}
	return nil
}

func unsafeRune(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsControl(r)
}
