package audit_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/tracker-broker-core/internal/audit"
	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/database"
	_ "github.com/nerrad567/tracker-broker-core/migrations"
)

func testRepo(t *testing.T) *audit.SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return audit.NewSQLiteRepository(db.DB)
}

func TestCreate_GeneratesIDAndTimestamp(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	entry := &audit.AuditLog{
		Action:     "create",
		EntityType: "mqtt_credential",
		EntityID:   "42",
		Source:     "brokersync",
		Details:    map[string]any{"mqtt_username": "device_42_0a1b2c3d"},
	}
	if err := repo.Create(ctx, entry); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if !strings.HasPrefix(entry.ID, "aud-") {
		t.Errorf("ID = %q, want aud- prefix", entry.ID)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("CreatedAt was not set")
	}

	result, err := repo.List(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 1 || len(result.Logs) != 1 {
		t.Fatalf("List() total = %d, logs = %d, want 1, 1", result.Total, len(result.Logs))
	}
	got := result.Logs[0]
	if got.EntityID != "42" {
		t.Errorf("EntityID = %q, want %q", got.EntityID, "42")
	}
	if got.Details["mqtt_username"] != "device_42_0a1b2c3d" {
		t.Errorf("Details = %v, want mqtt_username", got.Details)
	}
}

func TestList_Filters(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []audit.AuditLog{
		{Action: "create", EntityType: "mqtt_credential", EntityID: "42", CreatedAt: base},
		{Action: "create", EntityType: "mqtt_acl_rule", EntityID: "1", CreatedAt: base.Add(time.Minute)},
		{Action: "delete", EntityType: "mqtt_credential", EntityID: "42", CreatedAt: base.Add(2 * time.Minute)},
		{Action: "sync", EntityType: "mqtt_sync", CreatedAt: base.Add(3 * time.Minute)},
	}
	for i := range entries {
		entries[i].Source = "brokersync"
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name      string
		filter    audit.Filter
		wantTotal int
		wantFirst string
	}{
		{"all, newest first", audit.Filter{}, 4, "sync"},
		{"by entity type", audit.Filter{EntityType: "mqtt_credential"}, 2, "delete"},
		{"by action", audit.Filter{Action: "create"}, 2, "create"},
		{"by entity id", audit.Filter{EntityType: "mqtt_credential", EntityID: "42", Action: "create"}, 1, "create"},
		{"since", audit.Filter{Since: base.Add(2 * time.Minute)}, 2, "sync"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if result.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", result.Total, tt.wantTotal)
			}
			if len(result.Logs) == 0 || result.Logs[0].Action != tt.wantFirst {
				t.Errorf("first action = %v, want %q", result.Logs, tt.wantFirst)
			}
		})
	}
}

func TestList_Pagination(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := repo.Create(ctx, &audit.AuditLog{Action: "update", EntityType: "mqtt_acl_rule", Source: "brokersync"}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	result, err := repo.List(ctx, audit.Filter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 5 {
		t.Errorf("Total = %d, want 5", result.Total)
	}
	if len(result.Logs) != 1 {
		t.Errorf("len(Logs) = %d, want 1", len(result.Logs))
	}

	result, err = repo.List(ctx, audit.Filter{Limit: 1000})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Limit != 200 {
		t.Errorf("Limit = %d, want clamp to 200", result.Limit)
	}
}
