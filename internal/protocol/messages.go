// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeSignIn       = "sign_in"
	TypeSignUp       = "sign_up"
	TypeGoogleSignIn = "google_sign_in"
	TypeAdminSignIn  = "admin_sign_in"
	TypeSignOut      = "sign_out"
	TypeVerifyPhone  = "verify_phone"
	TypeConfirmPhone = "confirm_phone"
	TypeSkipPhone    = "skip_phone"
	TypeSelectChat   = "select_chat"
	TypeMessage      = "message"
	TypeTyping       = "typing"
	TypeCreateGroup  = "create_private"
	TypeJoinGroup    = "join_private"
	TypeBlockUser    = "block_user"
	TypeDeleteUser   = "delete_user"
	TypeDeleteGroup  = "delete_group"
	TypeReplyTicket  = "reply_ticket"
	TypeToggleTicket = "toggle_ticket"
	TypePing         = "ping"
)

// Server -> Client message types.
const (
	TypeAuthState     = "auth_state"
	TypeAuthError     = "auth_error"
	TypeCodeSent      = "code_sent"
	TypePhoneVerified = "phone_verified"
	TypeChatSelected  = "chat_selected"
	TypeHistory       = "history"
	TypeRoster        = "roster"
	TypeGroups        = "groups"
	TypeGroupCreated  = "private_created"
	TypeTicketStatus  = "ticket_status"
	TypeBlocked       = "blocked"
	TypeError         = "error"
	TypePong          = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// SignInMsg authenticates with email/password credentials.
type SignInMsg struct {
	Type     string `json:"type"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUpMsg registers a new account.
type SignUpMsg struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// GoogleSignInMsg authenticates with a Google ID token.
type GoogleSignInMsg struct {
	Type    string `json:"type"`
	IDToken string `json:"id_token"`
}

// AdminSignInMsg authenticates the administrator account.
type AdminSignInMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// SignOutMsg terminates the current session.
type SignOutMsg struct {
	Type string `json:"type"`
}

// VerifyPhoneMsg starts a phone verification challenge.
type VerifyPhoneMsg struct {
	Type  string `json:"type"`
	Phone string `json:"phone"`
}

// ConfirmPhoneMsg answers an outstanding phone challenge.
type ConfirmPhoneMsg struct {
	Type        string `json:"type"`
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

// SkipPhoneMsg proceeds without phone verification.
type SkipPhoneMsg struct {
	Type string `json:"type"`
}

// SelectChatMsg switches the active conversation. Kind is "direct",
// "group" or "support"; Target is the peer uid or the group code.
type SelectChatMsg struct {
	Type   string `json:"type"`
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

// ChatMsg submits a text message to the active conversation.
type ChatMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TypingMsg reports the client's draft state.
type TypingMsg struct {
	Type  string `json:"type"`
	Draft string `json:"draft"`
}

// CreateGroupMsg creates a private group chat.
type CreateGroupMsg struct {
	Type string `json:"type"`
}

// JoinGroupMsg joins a private group chat by its share code.
type JoinGroupMsg struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// BlockUserMsg flips a principal's blocked flag. Admin only.
type BlockUserMsg struct {
	Type    string `json:"type"`
	UID     string `json:"uid"`
	Blocked bool   `json:"blocked"`
}

// DeleteUserMsg permanently deletes a principal. Admin only; Confirmed
// must be true or the server refuses.
type DeleteUserMsg struct {
	Type      string `json:"type"`
	UID       string `json:"uid"`
	Confirmed bool   `json:"confirmed"`
}

// DeleteGroupMsg permanently deletes a group. Admin only; Confirmed
// must be true or the server refuses.
type DeleteGroupMsg struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Confirmed bool   `json:"confirmed"`
}

// ReplyTicketMsg sends an administrator reply into a ticket thread.
type ReplyTicketMsg struct {
	Type string `json:"type"`
	UID  string `json:"uid"`
	Text string `json:"text"`
}

// ToggleTicketMsg flips a ticket between open and closed. Admin only.
type ToggleTicketMsg struct {
	Type string `json:"type"`
	UID  string `json:"uid"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// AuthStateMsg reports the session's principal after any auth change.
// UID is empty when signed out.
type AuthStateMsg struct {
	Type  string `json:"type"`
	UID   string `json:"uid"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Admin bool   `json:"admin"`
}

// AuthErrorMsg reports an authentication failure with user-facing text.
type AuthErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodeSentMsg acknowledges a phone challenge with its id.
type CodeSentMsg struct {
	Type        string `json:"type"`
	ChallengeID string `json:"challenge_id"`
}

// PhoneVerifiedMsg confirms a completed phone verification.
type PhoneVerifiedMsg struct {
	Type string `json:"type"`
}

// ChatSelectedMsg confirms the active conversation switch.
type ChatSelectedMsg struct {
	Type   string `json:"type"`
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

// WireMessage is one message inside a history snapshot.
type WireMessage struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Timestamp  int64  `json:"timestamp"`
}

// HistoryMsg replaces the client's view of the active conversation.
type HistoryMsg struct {
	Type     string        `json:"type"`
	Messages []WireMessage `json:"messages"`
}

// RosterEntry is one contact in the roster push.
type RosterEntry struct {
	UID    string `json:"uid"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// RosterMsg replaces the client's contact list.
type RosterMsg struct {
	Type  string        `json:"type"`
	Users []RosterEntry `json:"users"`
}

// GroupEntry is one group in the groups push.
type GroupEntry struct {
	Code    string `json:"code"`
	Members int    `json:"members"`
}

// GroupsMsg replaces the client's group list.
type GroupsMsg struct {
	Type   string       `json:"type"`
	Groups []GroupEntry `json:"groups"`
}

// GroupCreatedMsg returns the share code of a newly created group.
type GroupCreatedMsg struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// TicketStatusMsg reports a ticket's status after a toggle.
type TicketStatusMsg struct {
	Type   string `json:"type"`
	UID    string `json:"uid"`
	Status string `json:"status"`
}

// BlockedMsg tells a client its account was blocked; the server closes
// the session after sending it.
type BlockedMsg struct {
	Type string `json:"type"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeSignIn:
		var m SignInMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSignUp:
		var m SignUpMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGoogleSignIn:
		var m GoogleSignInMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAdminSignIn:
		var m AdminSignInMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSignOut:
		var m SignOutMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeVerifyPhone:
		var m VerifyPhoneMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeConfirmPhone:
		var m ConfirmPhoneMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSkipPhone:
		var m SkipPhoneMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSelectChat:
		var m SelectChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCreateGroup:
		var m CreateGroupMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinGroup:
		var m JoinGroupMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeBlockUser:
		var m BlockUserMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeDeleteUser:
		var m DeleteUserMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeDeleteGroup:
		var m DeleteGroupMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReplyTicket:
		var m ReplyTicketMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeToggleTicket:
		var m ToggleTicketMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
