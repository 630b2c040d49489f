package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/tracker-broker-core/internal/audit"
)

// DeviceDirectory is the device management layer as seen by provisioning.
type DeviceDirectory interface {
	DeviceExists(ctx context.Context, deviceID string) (bool, error)

	// DeviceOwner returns the owning user ID, or "" when the device has no owner.
	DeviceOwner(ctx context.Context, deviceID string) (string, error)
}

// OwnerContacts resolves what a credential mail needs beyond the credential.
type OwnerContacts interface {
	DeviceName(ctx context.Context, deviceID string) (string, error)
	OwnerEmail(ctx context.Context, userID string) (string, error)
}

// Notifier delivers credentials to a device owner.
type Notifier interface {
	SendCredentials(ctx context.Context, notice Notice) error
}

// Logger is the logging interface used by the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Audit entity types and source recorded by the service.
const (
	AuditEntityCredential = "mqtt_credential"
	AuditEntityRule       = "mqtt_acl_rule"
	auditSource           = "brokersync"

	notifyTimeout = 30 * time.Second

	// generatedUsernameAttempts bounds retries when a generated username
	// is already taken.
	generatedUsernameAttempts = 3
)

// ServiceDeps holds the collaborators of a Service. Store and Devices are
// required; Contacts and Notifier enable credential mail; Audit enables the
// audit trail.
type ServiceDeps struct {
	Store    *Store
	Devices  DeviceDirectory
	Contacts OwnerContacts
	Notifier Notifier
	Audit    audit.Repository
	Logger   Logger

	// ReservedUsernames share the broker's user namespace without being
	// stored credentials, such as the broker admin.
	ReservedUsernames []string
}

// Service implements the provisioning operations exposed to the API layer.
// It does not authorise callers.
type Service struct {
	store    *Store
	devices  DeviceDirectory
	contacts OwnerContacts
	notifier Notifier
	audit    audit.Repository
	logger   Logger
	reserved map[string]struct{}

	generateUsername func(deviceID string) (string, error)
}

// NewService creates a provisioning service.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("credential: store is required")
	}
	if deps.Devices == nil {
		return nil, errors.New("credential: device directory is required")
	}

	s := &Service{
		store:    deps.Store,
		devices:  deps.Devices,
		contacts: deps.Contacts,
		notifier: deps.Notifier,
		audit:    deps.Audit,
		logger:   deps.Logger,
		reserved: make(map[string]struct{}, len(deps.ReservedUsernames)),

		generateUsername: GenerateUsername,
	}
	for _, u := range deps.ReservedUsernames {
		s.reserved[u] = struct{}{}
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	return s, nil
}

// CreateCredential provisions broker access for an existing device and
// creates its default access rule. The plaintext password is returned once
// in the result and never stored.
func (s *Service) CreateCredential(ctx context.Context, deviceID string, req ProvisionRequest) (*ProvisionResult, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}
	if err := s.requireDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	if _, err := s.store.Credentials.FindByDeviceID(ctx, deviceID); err == nil {
		return nil, fmt.Errorf("%w: device %s already has MQTT credentials", ErrConflict, deviceID)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	username, password, err := s.resolveIdentity(ctx, deviceID, req)
	if err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	cred, err := s.store.Credentials.Create(ctx, deviceID, username, hash, true)
	if err != nil {
		return nil, err
	}

	rule, err := s.store.Rules.CreateDefaultRule(ctx, deviceID)
	if err != nil {
		if _, delErr := s.store.Credentials.Delete(ctx, deviceID); delErr != nil {
			s.logger.Error("removing credential after default rule failure",
				"device_id", deviceID, "error", delErr)
		}
		return nil, fmt.Errorf("creating default access rule: %w", err)
	}

	s.logger.Info("mqtt credentials provisioned", "device_id", deviceID, "username", username)
	s.record(ctx, "create", AuditEntityCredential, deviceID, map[string]any{
		"mqtt_username": username,
		"default_rule":  rule.TopicPattern,
	})

	if req.NotifyOwner {
		s.notifyAsync(ctx, cred, password)
	}

	return &ProvisionResult{Credential: cred, PlaintextPassword: password}, nil
}

// RegeneratePassword replaces the device's password with a generated one.
func (s *Service) RegeneratePassword(ctx context.Context, deviceID string) (*ProvisionResult, error) {
	return s.UpdateCredential(ctx, deviceID, CredentialChange{RegeneratePassword: true})
}

// SetEnabled enables or disables a credential. Setting the current value
// again succeeds without recording a pending change.
func (s *Service) SetEnabled(ctx context.Context, deviceID string, enabled bool) (*Credential, error) {
	res, err := s.UpdateCredential(ctx, deviceID, CredentialChange{Enabled: &enabled})
	if err != nil {
		return nil, err
	}
	return res.Credential, nil
}

// UpdateCredential applies every requested change in one transaction, so
// either all of them land or none do. A regenerated password is returned
// once in the result.
func (s *Service) UpdateCredential(ctx context.Context, deviceID string, change CredentialChange) (*ProvisionResult, error) {
	before, err := s.store.Credentials.FindByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	update := CredentialUpdate{Enabled: change.Enabled}
	var password string
	if change.RegeneratePassword {
		if password, err = GeneratePassword(); err != nil {
			return nil, err
		}
		hash, err := HashPassword(password)
		if err != nil {
			return nil, err
		}
		update.PasswordHash = &hash
	}

	cred, err := s.store.Credentials.Update(ctx, deviceID, update)
	if err != nil {
		return nil, err
	}

	if change.Enabled != nil && before.Enabled != *change.Enabled {
		action := "disable"
		if *change.Enabled {
			action = "enable"
		}
		s.record(ctx, action, AuditEntityCredential, deviceID, nil)
	}
	if change.RegeneratePassword {
		s.logger.Info("mqtt password regenerated", "device_id", deviceID)
		s.record(ctx, "regenerate_password", AuditEntityCredential, deviceID, nil)
	}

	return &ProvisionResult{Credential: cred, PlaintextPassword: password}, nil
}

// DeleteCredential removes the device's credential and all of its rules.
// It returns false, without error, when the device had no credential.
func (s *Service) DeleteCredential(ctx context.Context, deviceID string) (bool, error) {
	deleted, err := s.store.Credentials.Delete(ctx, deviceID)
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.Info("mqtt credentials deleted", "device_id", deviceID)
		s.record(ctx, "delete", AuditEntityCredential, deviceID, nil)
	}
	return deleted, nil
}

// GetCredential returns the device's credential or ErrNotFound.
func (s *Service) GetCredential(ctx context.Context, deviceID string) (*Credential, error) {
	return s.store.Credentials.FindByDeviceID(ctx, deviceID)
}

// ListCredentials returns all credentials, or only those of devices owned
// by ownerID when it is non-empty.
func (s *Service) ListCredentials(ctx context.Context, ownerID string) ([]Credential, error) {
	creds, err := s.store.Credentials.FindAll(ctx)
	if err != nil || ownerID == "" {
		return creds, err
	}

	owned := make([]Credential, 0, len(creds))
	for _, c := range creds {
		owner, err := s.devices.DeviceOwner(ctx, c.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("resolving owner of device %s: %w", c.DeviceID, err)
		}
		if owner == ownerID {
			owned = append(owned, c)
		}
	}
	return owned, nil
}

// ListRules returns the access rules of one device.
func (s *Service) ListRules(ctx context.Context, deviceID string) ([]AccessRule, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", ErrValidation)
	}
	if _, err := s.store.Credentials.FindByDeviceID(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.store.Rules.FindByDeviceID(ctx, deviceID)
}

// AddRule grants a device's credential access to a topic pattern.
func (s *Service) AddRule(ctx context.Context, deviceID, pattern string, permission Permission) (*AccessRule, error) {
	rule, err := s.store.Rules.Create(ctx, deviceID, pattern, permission)
	if err != nil {
		return nil, err
	}
	s.record(ctx, "create", AuditEntityRule, fmt.Sprint(rule.ID), map[string]any{
		"device_id":     deviceID,
		"topic_pattern": pattern,
		"permission":    string(permission),
	})
	return rule, nil
}

// UpdateRule changes a rule's pattern and/or permission.
func (s *Service) UpdateRule(ctx context.Context, id int64, update RuleUpdate) (*AccessRule, error) {
	rule, err := s.store.Rules.Update(ctx, id, update)
	if err != nil {
		return nil, err
	}
	s.record(ctx, "update", AuditEntityRule, fmt.Sprint(id), map[string]any{
		"topic_pattern": rule.TopicPattern,
		"permission":    string(rule.Permission),
	})
	return rule, nil
}

// DeleteRule removes a rule and reports whether it existed.
func (s *Service) DeleteRule(ctx context.Context, id int64) (bool, error) {
	deleted, err := s.store.Rules.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		s.record(ctx, "delete", AuditEntityRule, fmt.Sprint(id), nil)
	}
	return deleted, nil
}

// GetSyncStatus returns the pending-change counter and last sync outcome.
func (s *Service) GetSyncStatus(ctx context.Context) (*SyncStatus, error) {
	return s.store.Status.Get(ctx)
}

// SendCredentials mails a device's username and the given plaintext
// password to the device owner. The caller supplies the password because
// it is never stored.
func (s *Service) SendCredentials(ctx context.Context, deviceID, password string) error {
	if s.notifier == nil || s.contacts == nil {
		return ErrNotifierUnavailable
	}
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrValidation)
	}

	cred, err := s.store.Credentials.FindByDeviceID(ctx, deviceID)
	if err != nil {
		return err
	}

	notice, err := s.buildNotice(ctx, cred, password)
	if err != nil {
		return err
	}

	if err := s.notifier.SendCredentials(ctx, *notice); err != nil {
		return fmt.Errorf("sending credentials mail: %w", err)
	}

	s.logger.Info("mqtt credentials mailed", "device_id", deviceID, "email", notice.OwnerEmail)
	s.record(ctx, "send_credentials", AuditEntityCredential, deviceID, map[string]any{
		"email": notice.OwnerEmail,
	})
	return nil
}

func (s *Service) requireDevice(ctx context.Context, deviceID string) error {
	exists, err := s.devices.DeviceExists(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("%w: checking device %s: %w", ErrStorage, deviceID, err)
	}
	if !exists {
		return fmt.Errorf("%w: device %s", ErrNotFound, deviceID)
	}
	return nil
}

// resolveIdentity picks the username and password for a new credential.
// The username must be free across the whole broker namespace: stored
// credentials and reserved names alike. Generated usernames are redrawn
// on collision; explicit ones fail with ErrConflict.
func (s *Service) resolveIdentity(ctx context.Context, deviceID string, req ProvisionRequest) (username, password string, err error) {
	username, password = req.Username, req.Password

	if req.AutoGenerate || username == "" {
		username, err = s.freeGeneratedUsername(ctx, deviceID)
		if err != nil {
			return "", "", err
		}
	} else {
		if err = ValidateUsername(username); err != nil {
			return "", "", err
		}
		taken, err := s.usernameTaken(ctx, username)
		if err != nil {
			return "", "", err
		}
		if taken {
			return "", "", fmt.Errorf("%w: username %q is already in use", ErrConflict, username)
		}
	}

	if req.AutoGenerate || password == "" {
		if password, err = GeneratePassword(); err != nil {
			return "", "", err
		}
	} else if err = ValidatePassword(password); err != nil {
		return "", "", err
	}

	return username, password, nil
}

func (s *Service) freeGeneratedUsername(ctx context.Context, deviceID string) (string, error) {
	for range generatedUsernameAttempts {
		username, err := s.generateUsername(deviceID)
		if err != nil {
			return "", err
		}
		taken, err := s.usernameTaken(ctx, username)
		if err != nil {
			return "", err
		}
		if !taken {
			return username, nil
		}
		s.logger.Debug("generated username taken, drawing another", "device_id", deviceID, "username", username)
	}
	return "", fmt.Errorf("%w: no free username for device %s after %d attempts",
		ErrConflict, deviceID, generatedUsernameAttempts)
}

func (s *Service) usernameTaken(ctx context.Context, username string) (bool, error) {
	if _, ok := s.reserved[username]; ok {
		return true, nil
	}
	_, err := s.store.Credentials.FindByUsername(ctx, username)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Service) buildNotice(ctx context.Context, cred *Credential, password string) (*Notice, error) {
	owner, err := s.devices.DeviceOwner(ctx, cred.DeviceID)
	if err != nil {
		return nil, err
	}
	if owner == "" {
		return nil, fmt.Errorf("%w: device %s has no owner assigned", ErrValidation, cred.DeviceID)
	}

	email, err := s.contacts.OwnerEmail(ctx, owner)
	if err != nil {
		return nil, err
	}
	if email == "" {
		return nil, fmt.Errorf("%w: owner of device %s has no email address", ErrValidation, cred.DeviceID)
	}

	name, err := s.contacts.DeviceName(ctx, cred.DeviceID)
	if err != nil {
		return nil, err
	}

	return &Notice{
		DeviceID:     cred.DeviceID,
		DeviceName:   name,
		OwnerEmail:   email,
		Username:     cred.Username,
		Password:     password,
		TopicPattern: DefaultTopicPattern(s.store.TopicPrefix(), cred.DeviceID),
	}, nil
}

// notifyAsync mails new credentials without blocking the provisioning
// call. Failures are logged only.
func (s *Service) notifyAsync(ctx context.Context, cred *Credential, password string) {
	if s.notifier == nil || s.contacts == nil {
		s.logger.Warn("credential mail requested but not configured", "device_id", cred.DeviceID)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	go func() {
		defer cancel()
		notice, err := s.buildNotice(ctx, cred, password)
		if err == nil {
			err = s.notifier.SendCredentials(ctx, *notice)
		}
		if err != nil {
			s.logger.Warn("mailing mqtt credentials failed", "device_id", cred.DeviceID, "error", err)
			return
		}
		s.logger.Info("mqtt credentials mailed", "device_id", cred.DeviceID, "email", notice.OwnerEmail)
	}()
}

// record writes an audit entry. Audit failures never fail the operation.
func (s *Service) record(ctx context.Context, action, entityType, entityID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	entry := &audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     auditSource,
		Details:    details,
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("writing audit log failed", "action", action, "entity_id", entityID, "error", err)
	}
}
