package presence

import (
	"context"
	"testing"
	"time"

	"github.com/neon/messenger/internal/store"
)

func waitForField(t *testing.T, m *store.Memory, path, field string, want bool) store.Value {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		v, err := m.Read(context.Background(), path)
		if err != nil {
			t.Fatalf("Read(%s) error: %v", path, err)
		}
		if v != nil && store.Bool(v, field) == want {
			return v
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("field %s on %s never became %v", field, path, want)
	return nil
}

func TestSetOnlineWritesStatus(t *testing.T) {
	m := store.NewMemory()
	tr := NewTracker(m, nil)

	tr.SetOnline("u1", true)
	v := waitForField(t, m, "users/u1", "online", true)
	if store.Int64(v, "lastSeen") == 0 {
		t.Error("missing lastSeen stamp")
	}

	tr.SetOnline("u1", false)
	waitForField(t, m, "users/u1", "online", false)
}

func TestRepeatedStateIsDeduplicated(t *testing.T) {
	m := store.NewMemory()
	tr := NewTracker(m, nil)

	tr.SetOnline("u1", true)
	v := waitForField(t, m, "users/u1", "online", true)
	first := store.Int64(v, "lastSeen")

	// Same state again: no new write, stamp unchanged.
	tr.SetOnline("u1", true)
	tr.Shutdown(context.Background())

	// Shutdown flipped u1 offline; re-read the record before the flip
	// was possible only via the dedup path, so check the flag instead.
	v = waitForField(t, m, "users/u1", "online", false)
	if store.Int64(v, "lastSeen") < first {
		t.Error("lastSeen went backwards")
	}
}

func TestShutdownMarksEveryoneOffline(t *testing.T) {
	m := store.NewMemory()
	tr := NewTracker(m, nil)

	tr.SetOnline("u1", true)
	tr.SetOnline("u2", true)
	waitForField(t, m, "users/u1", "online", true)
	waitForField(t, m, "users/u2", "online", true)

	tr.Shutdown(context.Background())
	for _, uid := range []string{"u1", "u2"} {
		v, _ := m.Read(context.Background(), store.Join("users", uid))
		if store.Bool(v, "online") {
			t.Errorf("%s still online after shutdown", uid)
		}
	}
}

func TestEmptyUIDIsIgnored(t *testing.T) {
	m := store.NewMemory()
	tr := NewTracker(m, nil)

	tr.SetOnline("", true)
	tr.Shutdown(context.Background())

	v, _ := m.Read(context.Background(), "users/")
	if v != nil {
		t.Errorf("empty uid produced a record: %v", v)
	}
}
