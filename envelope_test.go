package cable

import (
	"encoding/json"
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"command":"subscribe","identifier":"chat_1","data":{"channel":"ChatChannel"}}`))
	if err != nil {
		t.Fatal("Expectation: no error, Received:", err)
	}
	if env.Command != "subscribe" {
		t.Fatal("Expectation: subscribe, Received:", env.Command)
	}
	if env.Identifier != "chat_1" {
		t.Fatal("Expectation: chat_1, Received:", env.Identifier)
	}
	if env.Data.String("channel") != "ChatChannel" {
		t.Fatal("Expectation: ChatChannel, Received:", env.Data.String("channel"))
	}
}

func TestParseEnvelopeMalformed(t *testing.T) {
	if _, err := parseEnvelope([]byte(`{not json`)); err == nil {
		t.Fatal("Expectation: error for invalid JSON, Received: nil")
	}

	// An envelope without an identifier names no subscription.
	if _, err := parseEnvelope([]byte(`{"command":"subscribe"}`)); err == nil {
		t.Fatal("Expectation: error for missing identifier, Received: nil")
	}
}

func TestEncodeReply(t *testing.T) {
	raw, err := encodeReply("chat_1", markerSubscribed)
	if err != nil {
		t.Fatal("Expectation: no error, Received:", err)
	}

	var decoded struct {
		Identifier string `json:"identifier"`
		Message    string `json:"message"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal("Expectation: valid JSON, Received:", err)
	}
	if decoded.Identifier != "chat_1" || decoded.Message != "subscribed" {
		t.Fatal("Expectation: chat_1/subscribed, Received:", decoded.Identifier, decoded.Message)
	}
}
