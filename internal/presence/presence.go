// Package presence maintains each principal's online flag and lastSeen
// stamp. Presence writes are fire-and-forget: they happen off the
// caller's path, failures are logged and never surfaced, and no caller
// waits on them. A dropped presence update self-heals on the next
// transition.
package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/neon/messenger/internal/metrics"
	"github.com/neon/messenger/internal/mirror"
	"github.com/neon/messenger/internal/store"
)

// writeTimeout bounds each background presence write.
const writeTimeout = 5 * time.Second

// Tracker publishes presence transitions for signed-in principals.
type Tracker struct {
	store  store.Store
	mirror *mirror.Mirror

	mu     sync.Mutex
	online map[string]bool

	wg sync.WaitGroup
}

// NewTracker creates a tracker. mirror may be nil.
func NewTracker(s store.Store, m *mirror.Mirror) *Tracker {
	return &Tracker{store: s, mirror: m, online: make(map[string]bool)}
}

// SetOnline records a presence transition for uid. The write happens in
// the background; SetOnline itself never blocks on the store. Repeated
// calls with the same state are deduplicated.
func (t *Tracker) SetOnline(uid string, online bool) {
	if uid == "" {
		return
	}
	t.mu.Lock()
	if prev, ok := t.online[uid]; ok && prev == online {
		t.mu.Unlock()
		return
	}
	t.online[uid] = online
	t.mu.Unlock()

	if online {
		metrics.OnlineUsers.Inc()
	} else {
		metrics.OnlineUsers.Dec()
	}

	now := time.Now().UnixMilli()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		fields := store.Value{"online": online, "lastSeen": now}
		if err := t.store.Update(ctx, store.Join("users", uid), fields); err != nil {
			log.Printf("[presence] update %s online=%v: %v", uid, online, err)
		}
		t.mirror.UpdateStatus(uid, online, now)
	}()
}

// Forget drops the cached state for uid so the next SetOnline always
// writes. Used when a principal signs out or is deleted.
func (t *Tracker) Forget(uid string) {
	t.mu.Lock()
	delete(t.online, uid)
	t.mu.Unlock()
}

// Shutdown marks every tracked principal offline and waits for the
// writes to land. Called on graceful server stop.
func (t *Tracker) Shutdown(ctx context.Context) {
	t.mu.Lock()
	var uids []string
	for uid, online := range t.online {
		if online {
			uids = append(uids, uid)
		}
	}
	t.mu.Unlock()

	for _, uid := range uids {
		t.SetOnline(uid, false)
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("[presence] shutdown: %d offline writes abandoned", len(uids))
	}
}
