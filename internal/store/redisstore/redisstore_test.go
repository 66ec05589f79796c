package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/neon/messenger/internal/store"
)

// newTestEngine connects to local Redis and NATS. Tests that call this
// helper require both running on their default ports; otherwise they
// are skipped.
func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	e, err := Connect("localhost:6379", "nats://localhost:4222", "redisstore-test")
	if err != nil {
		t.Skipf("redis/nats not available: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	// Each test works under its own root so runs don't interfere.
	root := "test-" + uuid.NewString()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.Delete(ctx, root)
	})
	return e, root
}

func TestWriteReadDelete(t *testing.T) {
	e, root := newTestEngine(t)
	ctx := context.Background()
	path := store.Join(root, "users", "u1")

	if v, err := e.Read(ctx, path); err != nil || v != nil {
		t.Fatalf("Read(absent) = %v, %v", v, err)
	}

	doc := store.Value{"name": "Aziza", "createdAt": int64(100)}
	if err := e.Write(ctx, path, doc); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	v, err := e.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if store.Str(v, "name", "") != "Aziza" || store.Int64(v, "createdAt") != 100 {
		t.Errorf("round trip lost fields: %v", v)
	}

	if err := e.Delete(ctx, path); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if v, _ := e.Read(ctx, path); v != nil {
		t.Errorf("document survived delete: %v", v)
	}
}

func TestUpdateMerges(t *testing.T) {
	e, root := newTestEngine(t)
	ctx := context.Background()
	path := store.Join(root, "users", "u1")

	e.Write(ctx, path, store.Value{"name": "Aziza", "online": false})
	if err := e.Update(ctx, path, store.Value{"online": true}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	v, _ := e.Read(ctx, path)
	if store.Str(v, "name", "") != "Aziza" || !store.Bool(v, "online") {
		t.Errorf("merge lost fields: %v", v)
	}
}

func TestAppendAndWindow(t *testing.T) {
	e, root := newTestEngine(t)
	ctx := context.Background()
	path := store.Join(root, "messages")

	for i := 0; i < 60; i++ {
		_, err := e.Append(ctx, path, store.Value{
			"text":      fmt.Sprintf("m%d", i),
			"timestamp": int64(1000 + i),
		})
		if err != nil {
			t.Fatalf("Append(%d) error: %v", i, err)
		}
	}

	snap, err := e.ReadAll(ctx, path, store.Query{OrderBy: "timestamp", LimitToLast: 50})
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(snap) != 50 {
		t.Fatalf("window = %d entries, want 50", len(snap))
	}
	if store.Int64(snap[0].Value, "timestamp") != 1010 {
		t.Errorf("window starts at %v, want 1010", snap[0].Value["timestamp"])
	}
	if store.Int64(snap[49].Value, "timestamp") != 1059 {
		t.Errorf("window ends at %v, want 1059", snap[49].Value["timestamp"])
	}
}

func TestSubscribeSeesAppends(t *testing.T) {
	e, root := newTestEngine(t)
	ctx := context.Background()
	path := store.Join(root, "messages")

	got := make(chan int, 16)
	sub, err := e.Subscribe(ctx, path, store.Query{OrderBy: "timestamp", LimitToLast: 50}, func(snap store.Snapshot) {
		got <- len(snap)
	})
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer sub.Close()

	// Initial snapshot is delivered before Subscribe returns.
	select {
	case n := <-got:
		if n != 0 {
			t.Fatalf("initial snapshot has %d entries, want 0", n)
		}
	default:
		t.Fatal("no initial snapshot")
	}

	if _, err := e.Append(ctx, path, store.Value{"text": "hi", "timestamp": int64(1)}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case n := <-got:
			if n == 1 {
				return
			}
		case <-deadline:
			t.Fatal("subscriber never saw the append")
		}
	}
}
