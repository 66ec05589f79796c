// Package store defines the hierarchical document-store contract that the
// chat core is written against, along with the path grammar and snapshot
// model shared by all engines. Documents are addressed by slash-separated
// paths:
//
//	users/{id}
//	chats/{sortedPair}/messages/{key}
//	privateChats/{code}/members/{id}
//	support/{id}/messages/{key}
//
// A collection is any path whose direct children are documents. Engines
// deliver a full ordered snapshot of a collection on subscribe and again
// after every mutation beneath it; consumers re-sort defensively and never
// rely on delivery order.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Value is a single document: a flat-ish JSON object. Nested maps are
// allowed (group membership maps use them) but engines only merge at the
// top level on Update.
type Value = map[string]interface{}

// Entry is one document inside a collection snapshot.
type Entry struct {
	Key   string
	Value Value
}

// Snapshot is the ordered materialization of a collection at one point in
// time. Order is ascending by the subscription's OrderBy field, ties broken
// by key (stable).
type Snapshot []Entry

// Query bounds a subscription. OrderBy names a numeric document field;
// LimitToLast keeps only the most recent N entries (0 = unbounded).
type Query struct {
	OrderBy     string
	LimitToLast int
}

// SnapshotFunc receives collection snapshots. It is invoked from the
// engine's notification path; implementations must not block for long.
type SnapshotFunc func(Snapshot)

// Subscription is a live attachment to a collection. Close detaches it;
// once Close returns no further snapshots are delivered. Double close is
// a no-op.
type Subscription interface {
	Close()
}

// Store is the document-store contract. Read returns (nil, nil) for an
// absent document. Append inserts under a generated unique key and never
// overwrites. Update merges top-level fields, creating the document when
// absent. Delete removes the document and its entire subtree.
type Store interface {
	Read(ctx context.Context, path string) (Value, error)
	ReadAll(ctx context.Context, path string, q Query) (Snapshot, error)
	Write(ctx context.Context, path string, v Value) error
	Update(ctx context.Context, path string, fields Value) error
	Delete(ctx context.Context, path string) error
	Append(ctx context.Context, path string, v Value) (string, error)
	Subscribe(ctx context.Context, path string, q Query, fn SnapshotFunc) (Subscription, error)
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// SplitPath validates a path and returns its segments. Empty segments and
// empty paths are rejected.
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("store: empty path")
	}
	segments := strings.Split(path, "/")
	for _, s := range segments {
		if s == "" {
			return nil, fmt.Errorf("store: invalid path %q", path)
		}
	}
	return segments, nil
}

// isUnder reports whether path lies at or beneath ancestor.
func isUnder(path, ancestor string) bool {
	return path == ancestor || strings.HasPrefix(path, ancestor+"/")
}

// orderKey extracts a numeric ordering key from a document field. Missing
// or non-numeric fields sort first, matching the upstream store's
// null-first ordering.
func orderKey(v Value, field string) float64 {
	if v == nil || field == "" {
		return 0
	}
	switch n := v[field].(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		return 0
	}
}

// SortSnapshot orders entries ascending by the query's OrderBy field and
// applies the LimitToLast window. Input entries must already be in key
// order so that ties stay stable.
func SortSnapshot(entries []Entry, q Query) Snapshot {
	sort.SliceStable(entries, func(i, j int) bool {
		return orderKey(entries[i].Value, q.OrderBy) < orderKey(entries[j].Value, q.OrderBy)
	})
	if q.LimitToLast > 0 && len(entries) > q.LimitToLast {
		entries = entries[len(entries)-q.LimitToLast:]
	}
	return entries
}

// CloneValue deep-copies a document so callers and engines never alias
// each other's maps.
func CloneValue(v Value) Value {
	if v == nil {
		return nil
	}
	out := make(Value, len(v))
	for k, val := range v {
		if nested, ok := val.(map[string]interface{}); ok {
			out[k] = CloneValue(nested)
			continue
		}
		out[k] = val
	}
	return out
}
