// Package redisstore implements the store.Store contract on Redis with
// NATS change notifications. Documents are JSON blobs, collections are
// sorted sets scored by the document's timestamp-like field, and every
// mutation publishes on a subject derived from the path so that live
// subscribers can re-read their window:
//
//	Document:     doc:<path>        -> JSON
//	Collection:   idx:<collection>  -> ZSET member=key score=order field
//	Notification: store.<dot.path>
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/neon/messenger/internal/store"
)

const (
	docPrefix     = "doc:"
	idxPrefix     = "idx:"
	subjectPrefix = "store."

	// opTimeout bounds the store round-trips performed inside
	// notification callbacks, which carry no caller context.
	opTimeout = 5 * time.Second
)

// Engine is a Redis + NATS backed document store.
type Engine struct {
	rdb *redis.Client
	nc  *nats.Conn
}

// New wraps existing Redis and NATS connections.
func New(rdb *redis.Client, nc *nats.Conn) *Engine {
	return &Engine{rdb: rdb, nc: nc}
}

// Connect dials Redis and NATS and returns a ready engine. The Redis
// connection is verified with a ping; NATS reconnects indefinitely.
func Connect(redisAddr, natsURL, clientName string) (*Engine, error) {
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: redis connection failed: %w", err)
	}

	nc, err := nats.Connect(natsURL,
		nats.Name(clientName),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[store] nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[store] nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redisstore: nats connect: %w", err)
	}

	return &Engine{rdb: rdb, nc: nc}, nil
}

// Client exposes the underlying Redis client for components that need
// raw Redis alongside the document store, such as the rate limiter.
func (e *Engine) Client() *redis.Client {
	return e.rdb
}

// Close drains the NATS connection and closes the Redis client.
func (e *Engine) Close() error {
	if err := e.nc.Drain(); err != nil {
		log.Printf("[store] nats drain: %v", err)
	}
	return e.rdb.Close()
}

// subjectFor maps a document path to its NATS notification subject.
// Dots inside segments would collide with the subject hierarchy, so they
// are rewritten.
func subjectFor(path string) string {
	clean := strings.ReplaceAll(path, ".", "_")
	return subjectPrefix + strings.ReplaceAll(clean, "/", ".")
}

// orderScore picks the collection-index score for a document. Every
// collection in the path grammar orders by a write-time field; fall back
// to the current clock when a document carries none.
func orderScore(v store.Value) float64 {
	for _, field := range []string{"timestamp", "createdAt", "joinedAt"} {
		switch n := v[field].(type) {
		case int64:
			return float64(n)
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return float64(time.Now().UnixMilli())
}

// Read returns the document at path, or (nil, nil) if absent.
func (e *Engine) Read(ctx context.Context, path string) (store.Value, error) {
	if _, err := store.SplitPath(path); err != nil {
		return nil, err
	}
	raw, err := e.rdb.Get(ctx, docPrefix+path).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: read %s: %w", path, err)
	}
	var v store.Value
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("redisstore: decode %s: %w", path, err)
	}
	return v, nil
}

// Write overwrites the document at path and indexes it in its parent
// collection.
func (e *Engine) Write(ctx context.Context, path string, v store.Value) error {
	segments, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redisstore: encode %s: %w", path, err)
	}

	pipe := e.rdb.Pipeline()
	pipe.Set(ctx, docPrefix+path, raw, 0)
	if len(segments) >= 2 {
		parent := store.Join(segments[:len(segments)-1]...)
		key := segments[len(segments)-1]
		pipe.ZAdd(ctx, idxPrefix+parent, redis.Z{Score: orderScore(v), Member: key})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: write %s: %w", path, err)
	}

	e.publish(path)
	return nil
}

// Update merges top-level fields into the document at path, creating it
// when absent. The read-merge-write sequence is not atomic; concurrent
// updaters of the same document may lose fields, which the call sites in
// this codebase tolerate.
func (e *Engine) Update(ctx context.Context, path string, fields store.Value) error {
	current, err := e.Read(ctx, path)
	if err != nil {
		return err
	}
	if current == nil {
		current = make(store.Value, len(fields))
	}
	for k, v := range fields {
		current[k] = v
	}
	return e.Write(ctx, path, current)
}

// Delete removes the document at path and its entire subtree, including
// every collection index beneath it.
func (e *Engine) Delete(ctx context.Context, path string) error {
	segments, err := store.SplitPath(path)
	if err != nil {
		return err
	}

	pipe := e.rdb.Pipeline()
	pipe.Del(ctx, docPrefix+path)
	pipe.Del(ctx, idxPrefix+path)
	if len(segments) >= 2 {
		parent := store.Join(segments[:len(segments)-1]...)
		pipe.ZRem(ctx, idxPrefix+parent, segments[len(segments)-1])
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: delete %s: %w", path, err)
	}

	// Descendant documents and indexes.
	for _, match := range []string{docPrefix + path + "/*", idxPrefix + path + "/*"} {
		iter := e.rdb.Scan(ctx, 0, match, 100).Iterator()
		for iter.Next(ctx) {
			e.rdb.Del(ctx, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("redisstore: delete subtree %s: %w", path, err)
		}
	}

	e.publish(path)
	return nil
}

// Append inserts v under a fresh UUID key inside the collection at path.
// Keys are generated, never reused, so an append cannot overwrite an
// existing document.
func (e *Engine) Append(ctx context.Context, path string, v store.Value) (string, error) {
	if _, err := store.SplitPath(path); err != nil {
		return "", err
	}
	key := uuid.NewString()
	if err := e.Write(ctx, store.Join(path, key), v); err != nil {
		return "", err
	}
	return key, nil
}

// ReadAll returns a one-shot snapshot of the collection at path.
func (e *Engine) ReadAll(ctx context.Context, path string, q store.Query) (store.Snapshot, error) {
	if _, err := store.SplitPath(path); err != nil {
		return nil, err
	}
	return e.window(ctx, path, q)
}

// publish emits a best-effort change notification. Subscribers that miss
// one catch up on the next mutation; loss here never fails the write.
func (e *Engine) publish(path string) {
	if err := e.nc.Publish(subjectFor(path), []byte(path)); err != nil {
		log.Printf("[store] notify %s: %v", path, err)
	}
}

// Subscribe attaches fn to the collection at path. The initial snapshot
// is delivered before Subscribe returns; afterwards every mutation at or
// beneath the collection triggers a re-read of the query window.
func (e *Engine) Subscribe(ctx context.Context, path string, q store.Query, fn store.SnapshotFunc) (store.Subscription, error) {
	if _, err := store.SplitPath(path); err != nil {
		return nil, err
	}

	sub := &subscription{engine: e, path: path, query: q, fn: fn}

	onChange := func(*nats.Msg) { sub.refresh() }

	exact, err := e.nc.Subscribe(subjectFor(path), onChange)
	if err != nil {
		return nil, fmt.Errorf("redisstore: subscribe %s: %w", path, err)
	}
	deep, err := e.nc.Subscribe(subjectFor(path)+".>", onChange)
	if err != nil {
		exact.Unsubscribe()
		return nil, fmt.Errorf("redisstore: subscribe %s: %w", path, err)
	}
	sub.natsSubs = []*nats.Subscription{exact, deep}

	snap, err := e.window(ctx, path, q)
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.deliver(snap)
	return sub, nil
}

// window reads the current query window for a collection: the most recent
// keys from the index, then their documents.
func (e *Engine) window(ctx context.Context, path string, q store.Query) (store.Snapshot, error) {
	start := int64(0)
	if q.LimitToLast > 0 {
		start = int64(-q.LimitToLast)
	}
	keys, err := e.rdb.ZRange(ctx, idxPrefix+path, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: window %s: %w", path, err)
	}
	if len(keys) == 0 {
		return store.Snapshot{}, nil
	}

	entries := make([]store.Entry, 0, len(keys))
	for _, key := range keys {
		v, err := e.Read(ctx, store.Join(path, key))
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue // index entry outlived its document
		}
		entries = append(entries, store.Entry{Key: key, Value: v})
	}
	return store.SortSnapshot(entries, q), nil
}

type subscription struct {
	engine   *Engine
	path     string
	query    store.Query
	fn       store.SnapshotFunc
	natsSubs []*nats.Subscription

	mu     sync.Mutex
	closed bool
}

// refresh re-reads the window and delivers it. Failures are logged and
// the stale view stays up; the next mutation retries naturally.
func (s *subscription) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	snap, err := s.engine.window(ctx, s.path, s.query)
	if err != nil {
		log.Printf("[store] refresh %s: %v", s.path, err)
		return
	}
	s.deliver(snap)
}

func (s *subscription) deliver(snap store.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fn(snap)
}

// Close detaches the NATS subscriptions. Once it returns, no further
// snapshots are delivered. Double close is a no-op.
func (s *subscription) Close() {
	for _, ns := range s.natsSubs {
		if err := ns.Unsubscribe(); err != nil && !strings.Contains(err.Error(), "invalid subscription") {
			log.Printf("[store] unsubscribe %s: %v", s.path, err)
		}
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
