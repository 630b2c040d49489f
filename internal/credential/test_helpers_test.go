package credential

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/database"
	_ "github.com/nerrad567/tracker-broker-core/migrations"
)

// testDB opens a migrated database in a temp directory.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "credential-test.db"),
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
	return db
}

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(testDB(t), "")
}

func pending(t *testing.T, s *Store) int64 {
	t.Helper()
	status, err := s.Status.Get(context.Background())
	if err != nil {
		t.Fatalf("Status.Get() error = %v", err)
	}
	return status.PendingChanges
}

// mustCreate inserts a credential with a fixed digest.
func mustCreate(t *testing.T, s *Store, deviceID, username string, enabled bool) *Credential {
	t.Helper()
	c, err := s.Credentials.Create(context.Background(), deviceID, username, "$7$101$c2FsdHNhbHRzYWx0$a2V5", enabled)
	if err != nil {
		t.Fatalf("Credentials.Create(%s) error = %v", deviceID, err)
	}
	return c
}

// fakeDirectory is an in-memory DeviceDirectory and OwnerContacts.
type fakeDirectory struct {
	devices map[string]fakeDevice
	emails  map[string]string
}

type fakeDevice struct {
	name  string
	owner string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		devices: map[string]fakeDevice{
			"42": {name: "Alice's phone", owner: "usr-alice"},
			"43": {name: "Bob's phone", owner: "usr-bob"},
			"44": {name: "Spare tracker"},
		},
		emails: map[string]string{
			"usr-alice": "alice@example.com",
		},
	}
}

func (d *fakeDirectory) DeviceExists(_ context.Context, id string) (bool, error) {
	_, ok := d.devices[id]
	return ok, nil
}

func (d *fakeDirectory) DeviceOwner(_ context.Context, id string) (string, error) {
	return d.devices[id].owner, nil
}

func (d *fakeDirectory) DeviceName(_ context.Context, id string) (string, error) {
	return d.devices[id].name, nil
}

func (d *fakeDirectory) OwnerEmail(_ context.Context, userID string) (string, error) {
	return d.emails[userID], nil
}

// fakeNotifier records notices and signals each delivery on sent.
type fakeNotifier struct {
	mu      sync.Mutex
	notices []Notice
	sent    chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(chan struct{}, 8)}
}

func (n *fakeNotifier) SendCredentials(_ context.Context, notice Notice) error {
	n.mu.Lock()
	n.notices = append(n.notices, notice)
	n.mu.Unlock()
	n.sent <- struct{}{}
	return nil
}

func (n *fakeNotifier) last() Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.notices[len(n.notices)-1]
}
