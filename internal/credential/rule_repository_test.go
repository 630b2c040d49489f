package credential

import (
	"context"
	"errors"
	"testing"
)

func TestRuleRepository_CreateDefaultRule(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustCreate(t, s, "42", "device_42_aaaa0000", true)

	rule, err := s.Rules.CreateDefaultRule(ctx, "42")
	if err != nil {
		t.Fatalf("CreateDefaultRule() error = %v", err)
	}
	if rule.TopicPattern != "owntracks/owntrack/42/#" {
		t.Errorf("TopicPattern = %q, want owntracks/owntrack/42/#", rule.TopicPattern)
	}
	if rule.Permission != PermissionReadWrite {
		t.Errorf("Permission = %q, want readwrite", rule.Permission)
	}
	if got := pending(t, s); got != 2 {
		t.Errorf("pending_changes = %d, want 2", got)
	}
}

func TestRuleRepository_CustomPrefix(t *testing.T) {
	db := testDB(t)
	s := NewStore(db, "fleet/gps")
	mustCreate(t, s, "7", "device_7_cccc0000", true)

	rule, err := s.Rules.CreateDefaultRule(context.Background(), "7")
	if err != nil {
		t.Fatalf("CreateDefaultRule() error = %v", err)
	}
	if rule.TopicPattern != "fleet/gps/7/#" {
		t.Errorf("TopicPattern = %q, want fleet/gps/7/#", rule.TopicPattern)
	}
}

func TestRuleRepository_CreateValidation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustCreate(t, s, "42", "device_42_aaaa0000", true)
	before := pending(t, s)

	tests := []struct {
		name       string
		deviceID   string
		pattern    string
		permission Permission
		wantErr    error
	}{
		{"invalid permission", "42", "a/b", Permission("deny"), ErrValidation},
		{"empty pattern", "42", "", PermissionRead, ErrValidation},
		{"misplaced wildcard", "42", "a/#/b", PermissionRead, ErrValidation},
		{"unknown device", "99", "a/b", PermissionRead, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Rules.Create(ctx, tt.deviceID, tt.pattern, tt.permission)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Create() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := pending(t, s); got != before {
		t.Errorf("pending_changes = %d, want %d (rejected rules must not count)", got, before)
	}
}

func TestRuleRepository_Update(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustCreate(t, s, "42", "device_42_aaaa0000", true)
	rule, err := s.Rules.Create(ctx, "42", "owntracks/owntrack/42/#", PermissionReadWrite)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	before := pending(t, s)

	read := PermissionRead
	updated, err := s.Rules.Update(ctx, rule.ID, RuleUpdate{Permission: &read})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Permission != PermissionRead || updated.TopicPattern != rule.TopicPattern {
		t.Errorf("Update() = %+v", updated)
	}
	if got := pending(t, s); got != before+1 {
		t.Errorf("pending_changes = %d, want %d", got, before+1)
	}

	// Same value again records nothing.
	if _, err := s.Rules.Update(ctx, rule.ID, RuleUpdate{Permission: &read}); err != nil {
		t.Fatalf("Update(same) error = %v", err)
	}
	if got := pending(t, s); got != before+1 {
		t.Errorf("pending_changes = %d after no-op update, want %d", got, before+1)
	}

	bad := Permission("all")
	if _, err := s.Rules.Update(ctx, rule.ID, RuleUpdate{Permission: &bad}); !errors.Is(err, ErrValidation) {
		t.Errorf("Update(bad permission) error = %v, want ErrValidation", err)
	}
	if _, err := s.Rules.Update(ctx, 9999, RuleUpdate{Permission: &read}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRuleRepository_Delete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustCreate(t, s, "42", "device_42_aaaa0000", true)
	rule, _ := s.Rules.CreateDefaultRule(ctx, "42")
	before := pending(t, s)

	deleted, err := s.Rules.Delete(ctx, rule.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete() = %v, %v; want true, nil", deleted, err)
	}
	if _, err := s.Rules.FindByID(ctx, rule.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByID() after delete error = %v, want ErrNotFound", err)
	}

	deleted, err = s.Rules.Delete(ctx, rule.ID)
	if err != nil || deleted {
		t.Errorf("Delete(again) = %v, %v; want false, nil", deleted, err)
	}
	if got := pending(t, s); got != before+1 {
		t.Errorf("pending_changes = %d, want %d", got, before+1)
	}
}

func TestRuleRepository_DeleteByDeviceID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustCreate(t, s, "42", "device_42_aaaa0000", true)
	for _, p := range []string{"a/42/#", "b/42/#", "c/42/#"} {
		if _, err := s.Rules.Create(ctx, "42", p, PermissionRead); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	before := pending(t, s)

	n, err := s.Rules.DeleteByDeviceID(ctx, "42")
	if err != nil || n != 3 {
		t.Fatalf("DeleteByDeviceID() = %d, %v; want 3, nil", n, err)
	}
	n, err = s.Rules.DeleteByDeviceID(ctx, "42")
	if err != nil || n != 0 {
		t.Errorf("DeleteByDeviceID(again) = %d, %v; want 0, nil", n, err)
	}
	if got := pending(t, s); got != before+1 {
		t.Errorf("pending_changes = %d, want %d", got, before+1)
	}
}

func TestRuleRepository_FindAllExcludesDisabled(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustCreate(t, s, "42", "enabled_user", true)
	mustCreate(t, s, "43", "disabled_user", false)

	for _, r := range []struct{ device, pattern string }{
		{"42", "owntracks/owntrack/42/#"},
		{"43", "owntracks/owntrack/43/#"},
		{"43", "owntracks/owntrack/43/cmd"},
	} {
		if _, err := s.Rules.Create(ctx, r.device, r.pattern, PermissionReadWrite); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	all, err := s.Rules.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll() error = %v", err)
	}
	if len(all) != 1 || all[0].DeviceID != "42" {
		t.Errorf("FindAll() = %+v, want only device 42's rule", all)
	}

	stored, _ := s.Rules.FindByDeviceID(ctx, "43")
	if len(stored) != 2 {
		t.Errorf("rules of disabled device = %d, want 2 still stored", len(stored))
	}
}
