package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseClientMessage_SignIn(t *testing.T) {
	input := []byte(`{"type":"sign_in","email":"a@b.co","password":"secret1"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSignIn {
		t.Fatalf("expected type %q, got %q", TypeSignIn, msgType)
	}

	si, ok := msg.(SignInMsg)
	if !ok {
		t.Fatalf("expected SignInMsg, got %T", msg)
	}
	if si.Email != "a@b.co" || si.Password != "secret1" {
		t.Errorf("fields not decoded: %+v", si)
	}
}

func TestParseClientMessage_SelectChat(t *testing.T) {
	input := []byte(`{"type":"select_chat","kind":"group","target":"AB12CD34"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSelectChat {
		t.Fatalf("expected type %q, got %q", TypeSelectChat, msgType)
	}

	sc, ok := msg.(SelectChatMsg)
	if !ok {
		t.Fatalf("expected SelectChatMsg, got %T", msg)
	}
	if sc.Kind != "group" || sc.Target != "AB12CD34" {
		t.Errorf("fields not decoded: %+v", sc)
	}
}

func TestParseClientMessage_DeleteUserConfirmation(t *testing.T) {
	input := []byte(`{"type":"delete_user","uid":"u1","confirmed":true}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	du, ok := msg.(DeleteUserMsg)
	if !ok {
		t.Fatalf("expected DeleteUserMsg, got %T", msg)
	}
	if du.UID != "u1" || !du.Confirmed {
		t.Errorf("fields not decoded: %+v", du)
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"type":"self_destruct"}`))
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"email":"a@b.co"}`))
	if err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestParseClientMessage_MalformedJSON(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"type":`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeHistory, HistoryMsg{
		Messages: []WireMessage{{ID: "m1", Text: "hi", SenderID: "u1", Timestamp: 42}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["type"] != TypeHistory {
		t.Errorf("type = %v, want %q", m["type"], TypeHistory)
	}
	msgs, ok := m["messages"].([]interface{})
	if !ok || len(msgs) != 1 {
		t.Fatalf("messages not preserved: %v", m["messages"])
	}
}

func TestNewServerMessage_OverridesStaleType(t *testing.T) {
	data, err := NewServerMessage(TypePong, PongMsg{Type: "wrong"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var m map[string]interface{}
	json.Unmarshal(data, &m)
	if m["type"] != TypePong {
		t.Errorf("type = %v, want %q", m["type"], TypePong)
	}
}
