package credential

import (
	"strings"
	"time"
)

// Permission is the access granted by an AccessRule.
type Permission string

// Valid permissions, written verbatim into the broker ACL file.
const (
	PermissionRead      Permission = "read"
	PermissionWrite     Permission = "write"
	PermissionReadWrite Permission = "readwrite"
)

// Valid reports whether p is one of the three broker permissions.
func (p Permission) Valid() bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionReadWrite:
		return true
	}
	return false
}

// Credential is a device's broker identity.
type Credential struct {
	ID           int64     `json:"id"`
	DeviceID     string    `json:"device_id"`
	Username     string    `json:"mqtt_username"`
	PasswordHash string    `json:"mqtt_password_hash"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CredentialUpdate is a partial update; nil fields are left alone.
type CredentialUpdate struct {
	PasswordHash *string
	Enabled      *bool
}

// CredentialChange is an administrative change to an existing credential.
type CredentialChange struct {
	Enabled            *bool
	RegeneratePassword bool
}

// AccessRule grants a credential access to a topic pattern.
type AccessRule struct {
	ID           int64      `json:"id"`
	DeviceID     string     `json:"device_id"`
	TopicPattern string     `json:"topic_pattern"`
	Permission   Permission `json:"permission"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RuleUpdate is a partial update; nil fields are left alone.
type RuleUpdate struct {
	TopicPattern *string     `json:"topic_pattern,omitempty"`
	Permission   *Permission `json:"permission,omitempty"`
}

// Sync status values. Failures are recorded as "error: <message>".
const (
	SyncStatusNever   = "never"
	SyncStatusSuccess = "success"

	syncErrorPrefix = "error: "
)

// SyncStatus is the singleton record describing how far the broker
// configuration lags behind the store.
type SyncStatus struct {
	PendingChanges int64      `json:"pending_changes"`
	LastSyncAt     *time.Time `json:"last_sync_at"`
	LastSyncStatus string     `json:"last_sync_status"`
}

// Failed reports whether the last sync attempt failed.
func (s SyncStatus) Failed() bool {
	return strings.HasPrefix(s.LastSyncStatus, syncErrorPrefix)
}

// ProvisionRequest describes a credential to create. Username and Password
// are generated when AutoGenerate is set or when they are empty.
type ProvisionRequest struct {
	Username     string
	Password     string
	AutoGenerate bool

	// NotifyOwner mails the new credentials to the device owner.
	NotifyOwner bool
}

// ProvisionResult is returned by creation and password regeneration.
// It is the only place a plaintext password ever appears.
type ProvisionResult struct {
	Credential        *Credential `json:"credential"`
	PlaintextPassword string      `json:"mqtt_password"`
}

// Snapshot is a consistent read of everything the broker artifacts are
// generated from.
type Snapshot struct {
	// Credentials holds enabled credentials only, sorted by username.
	Credentials []Credential

	// Rules holds rules of enabled credentials only, sorted by ID.
	Rules []AccessRule

	// PendingChanges is the counter value at the time of the read.
	PendingChanges int64

	TakenAt time.Time
}

// Notice carries what the owner of a device needs to configure it.
type Notice struct {
	DeviceID     string
	DeviceName   string
	OwnerEmail   string
	Username     string
	Password     string
	TopicPattern string
}
