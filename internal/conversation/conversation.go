// Package conversation models the three conversation variants and the
// canonical storage paths for their message lists. Resolution is a pure
// function of the inputs: no reads, no writes.
package conversation

import (
	"errors"
	"fmt"
	"sort"

	"github.com/neon/messenger/internal/store"
)

// Kind discriminates the conversation variants.
type Kind int

const (
	// Direct is a two-party conversation addressed by the sorted pair
	// of participant ids.
	Direct Kind = iota
	// Group is a bounded private chat addressed by its share code.
	Group
	// Support is the per-user admin support thread.
	Support
)

func (k Kind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Group:
		return "group"
	case Support:
		return "support"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ErrUnauthenticated is returned when resolution requires a signed-in
// principal and none was supplied.
var ErrUnauthenticated = errors.New("conversation: not signed in")

// Ref addresses one conversation. Target is the other participant's uid
// for Direct, the share code for Group, and unused for Support.
type Ref struct {
	Kind   Kind
	Target string
}

// DirectKey derives the canonical key for a two-party conversation. It
// is order-independent: DirectKey(a, b) == DirectKey(b, a).
func DirectKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "_" + pair[1]
}

// MessagesPath resolves the storage path of the conversation's message
// list. Direct and Support require selfID; a Group's messages are
// addressed by code alone.
func MessagesPath(selfID string, ref Ref) (string, error) {
	switch ref.Kind {
	case Direct:
		if selfID == "" {
			return "", ErrUnauthenticated
		}
		return store.Join("chats", DirectKey(selfID, ref.Target), "messages"), nil
	case Group:
		if ref.Target == "" {
			return "", fmt.Errorf("conversation: group ref without code")
		}
		return store.Join("privateChats", ref.Target, "messages"), nil
	case Support:
		if selfID == "" {
			return "", ErrUnauthenticated
		}
		return store.Join("support", selfID, "messages"), nil
	default:
		return "", fmt.Errorf("conversation: unknown kind %v", ref.Kind)
	}
}
