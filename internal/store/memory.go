package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store engine. It backs tests and single-process
// development runs; the production engine lives in the redisstore
// subpackage. Snapshot delivery is synchronous: by the time a mutation
// call returns, every affected subscriber has seen the new snapshot.
type Memory struct {
	mu   sync.RWMutex
	root *memNode
	subs map[*memorySub]struct{}
}

type memNode struct {
	doc      Value
	children map[string]*memNode
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		root: &memNode{children: make(map[string]*memNode)},
		subs: make(map[*memorySub]struct{}),
	}
}

func (m *Memory) lookup(segments []string) *memNode {
	n := m.root
	for _, s := range segments {
		child, ok := n.children[s]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

func (m *Memory) ensure(segments []string) *memNode {
	n := m.root
	for _, s := range segments {
		child, ok := n.children[s]
		if !ok {
			child = &memNode{children: make(map[string]*memNode)}
			n.children[s] = child
		}
		n = child
	}
	return n
}

// Read returns the document at path, or (nil, nil) if absent.
func (m *Memory) Read(ctx context.Context, path string) (Value, error) {
	segments, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := m.lookup(segments)
	if n == nil || n.doc == nil {
		return nil, nil
	}
	return CloneValue(n.doc), nil
}

// Write overwrites the document at path.
func (m *Memory) Write(ctx context.Context, path string, v Value) error {
	segments, err := SplitPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.ensure(segments).doc = CloneValue(v)
	m.mu.Unlock()
	m.notify(path)
	return nil
}

// Update merges fields into the document at path, creating it if absent.
func (m *Memory) Update(ctx context.Context, path string, fields Value) error {
	segments, err := SplitPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	n := m.ensure(segments)
	if n.doc == nil {
		n.doc = make(Value, len(fields))
	}
	for k, v := range CloneValue(fields) {
		n.doc[k] = v
	}
	m.mu.Unlock()
	m.notify(path)
	return nil
}

// Delete removes the document at path together with its subtree.
func (m *Memory) Delete(ctx context.Context, path string) error {
	segments, err := SplitPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	parent := m.lookup(segments[:len(segments)-1])
	if parent != nil {
		delete(parent.children, segments[len(segments)-1])
	}
	m.mu.Unlock()
	m.notify(path)
	return nil
}

// Append inserts v under a fresh UUID key inside the collection at path.
func (m *Memory) Append(ctx context.Context, path string, v Value) (string, error) {
	segments, err := SplitPath(path)
	if err != nil {
		return "", err
	}
	key := uuid.NewString()
	m.mu.Lock()
	m.ensure(append(segments, key)).doc = CloneValue(v)
	m.mu.Unlock()
	m.notify(path + "/" + key)
	return key, nil
}

// ReadAll returns a one-shot snapshot of the collection at path.
func (m *Memory) ReadAll(ctx context.Context, path string, q Query) (Snapshot, error) {
	if _, err := SplitPath(path); err != nil {
		return nil, err
	}
	return m.snapshot(path, q), nil
}

// Subscribe attaches fn to the collection at path. The initial snapshot is
// delivered before Subscribe returns.
func (m *Memory) Subscribe(ctx context.Context, path string, q Query, fn SnapshotFunc) (Subscription, error) {
	if _, err := SplitPath(path); err != nil {
		return nil, err
	}
	sub := &memorySub{store: m, path: path, query: q, fn: fn}
	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()
	sub.deliver(m.snapshot(path, q))
	return sub, nil
}

// snapshot materializes the collection at path under the query.
func (m *Memory) snapshot(path string, q Query) Snapshot {
	segments, _ := SplitPath(path)
	m.mu.RLock()
	n := m.lookup(segments)
	var entries []Entry
	if n != nil {
		keys := make([]string, 0, len(n.children))
		for k := range n.children {
			if n.children[k].doc != nil {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		entries = make([]Entry, 0, len(keys))
		for _, k := range keys {
			entries = append(entries, Entry{Key: k, Value: CloneValue(n.children[k].doc)})
		}
	}
	m.mu.RUnlock()
	return SortSnapshot(entries, q)
}

// notify re-delivers snapshots to every subscription whose collection
// contains the mutated path.
func (m *Memory) notify(mutated string) {
	m.mu.RLock()
	targets := make([]*memorySub, 0, len(m.subs))
	for sub := range m.subs {
		if isUnder(mutated, sub.path) {
			targets = append(targets, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range targets {
		sub.deliver(m.snapshot(sub.path, sub.query))
	}
}

type memorySub struct {
	store *Memory
	path  string
	query Query
	fn    SnapshotFunc

	mu     sync.Mutex
	closed bool
}

// deliver invokes the callback unless the subscription has been closed.
// The callback runs under the subscription mutex, so Close blocks until
// an in-flight delivery finishes.
func (s *memorySub) deliver(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fn(snap)
}

// Close detaches the subscription. After Close returns no further
// snapshots are delivered; closing twice is a no-op.
func (s *memorySub) Close() {
	s.store.mu.Lock()
	delete(s.store.subs, s)
	s.store.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
