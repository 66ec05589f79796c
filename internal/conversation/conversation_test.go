package conversation

import (
	"errors"
	"testing"
)

func TestDirectKeyOrderIndependent(t *testing.T) {
	cases := []struct {
		a, b     string
		expected string
	}{
		{"u1", "u2", "u1_u2"},
		{"u2", "u1", "u1_u2"},
		{"zed", "abe", "abe_zed"},
		{"same", "same", "same_same"},
	}
	for _, tc := range cases {
		if got := DirectKey(tc.a, tc.b); got != tc.expected {
			t.Errorf("DirectKey(%q, %q) = %q, want %q", tc.a, tc.b, got, tc.expected)
		}
		// Idempotent: deriving twice yields the same key.
		if DirectKey(tc.a, tc.b) != DirectKey(tc.a, tc.b) {
			t.Errorf("DirectKey(%q, %q) not stable", tc.a, tc.b)
		}
	}
}

func TestMessagesPath(t *testing.T) {
	cases := []struct {
		name    string
		selfID  string
		ref     Ref
		want    string
		wantErr error
	}{
		{"direct", "u2", Ref{Kind: Direct, Target: "u1"}, "chats/u1_u2/messages", nil},
		{"direct reversed", "u1", Ref{Kind: Direct, Target: "u2"}, "chats/u1_u2/messages", nil},
		{"direct unauthenticated", "", Ref{Kind: Direct, Target: "u1"}, "", ErrUnauthenticated},
		{"group", "", Ref{Kind: Group, Target: "AB12CD34"}, "privateChats/AB12CD34/messages", nil},
		{"support", "u7", Ref{Kind: Support}, "support/u7/messages", nil},
		{"support unauthenticated", "", Ref{Kind: Support}, "", ErrUnauthenticated},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MessagesPath(tc.selfID, tc.ref)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("MessagesPath() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestGroupRefWithoutCode(t *testing.T) {
	if _, err := MessagesPath("u1", Ref{Kind: Group}); err == nil {
		t.Fatal("expected error for group ref without code")
	}
}
