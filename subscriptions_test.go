package cable

import (
	"encoding/json"
	"testing"
)

func subscribeEnv(identifier, channel string) envelope {
	return envelope{
		Command:    commandSubscribe,
		Identifier: identifier,
		Data:       Data{"channel": channel},
	}
}

func decodeReply(t *testing.T, raw []byte) (string, string) {
	t.Helper()
	var frame struct {
		Identifier string `json:"identifier"`
		Message    string `json:"message"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatal("Expectation: valid JSON reply, Received:", err)
	}
	return frame.Identifier, frame.Message
}

func TestSubscribeCommand(t *testing.T) {
	typ := &ChannelType{Name: "ChatChannel"}
	srv := newTestServer(typ)
	c, _ := newTestConnection(srv)

	c.subs.executeCommand(subscribeEnv("chat_1", "ChatChannel"))

	if c.subs.get("chat_1") == nil {
		t.Fatal("Expectation: live instance for chat_1, Received: nil")
	}
	id, msg := decodeReply(t, readFrame(t, c))
	if id != "chat_1" || msg != "subscribed" {
		t.Fatal("Expectation: chat_1/subscribed, Received:", id, msg)
	}
}

func TestDuplicateSubscribe(t *testing.T) {
	typ := &ChannelType{
		Name: "RoomChannel",
		Subscribed: func(ch *Channel) error {
			ch.StreamFrom("room_5", nil)
			return nil
		},
	}
	srv := newTestServer(typ)
	c, _ := newTestConnection(srv)

	c.subs.executeCommand(subscribeEnv("r_1", "RoomChannel"))
	first := c.subs.get("r_1")
	readFrame(t, c) // confirmation

	// idempotent no-op: same instance, streams intact, no reply
	c.subs.executeCommand(subscribeEnv("r_1", "RoomChannel"))

	if c.subs.get("r_1") != first {
		t.Fatal("Expectation: original instance retained")
	}
	if first.streams.count() != 1 {
		t.Fatal("Expectation: 1 stream binding, Received:", first.streams.count())
	}
	if frameCount(c) != 0 {
		t.Fatal("Expectation: no reply to duplicate subscribe, Received:", frameCount(c))
	}
}

func TestSubscribeUnknownChannel(t *testing.T) {
	srv := newTestServer()
	c, _ := newTestConnection(srv)

	c.subs.executeCommand(subscribeEnv("x_1", "NoSuchChannel"))

	if c.subs.get("x_1") != nil {
		t.Fatal("Expectation: no instance retained")
	}
	id, msg := decodeReply(t, readFrame(t, c))
	if id != "x_1" || msg != "rejected" {
		t.Fatal("Expectation: x_1/rejected, Received:", id, msg)
	}
}

func TestSubscribeRejectedByHook(t *testing.T) {
	typ := &ChannelType{
		Name: "PrivateChannel",
		Subscribed: func(ch *Channel) error {
			ch.StreamFrom("private", nil)
			return ErrRejected
		},
	}
	srv := newTestServer(typ)
	c, _ := newTestConnection(srv)

	c.subs.executeCommand(subscribeEnv("p_1", "PrivateChannel"))

	if c.subs.get("p_1") != nil {
		t.Fatal("Expectation: no instance retained")
	}
	_, msg := decodeReply(t, readFrame(t, c))
	if msg != "rejected" {
		t.Fatal("Expectation: rejected, Received:", msg)
	}

	// streams started before the failure are released
	hub := srv.bus.(*Hub)
	if len(hub.topics) != 0 {
		t.Fatal("Expectation: 0 topics, Received:", len(hub.topics))
	}
}

func TestSubscribePanickingHook(t *testing.T) {
	typ := &ChannelType{
		Name:       "BrokenChannel",
		Subscribed: func(*Channel) error { panic("hook bug") },
	}
	srv := newTestServer(typ)
	c, _ := newTestConnection(srv)

	// a panicking hook behaves as a rejection
	c.subs.executeCommand(subscribeEnv("b_1", "BrokenChannel"))

	if c.subs.get("b_1") != nil {
		t.Fatal("Expectation: no instance retained")
	}
	_, msg := decodeReply(t, readFrame(t, c))
	if msg != "rejected" {
		t.Fatal("Expectation: rejected, Received:", msg)
	}
}

func TestUnsubscribeCommand(t *testing.T) {
	unsubscribed := 0
	typ := &ChannelType{
		Name: "RoomChannel",
		Subscribed: func(ch *Channel) error {
			ch.StreamFrom("room_5", nil)
			return nil
		},
		Unsubscribed: func(*Channel) { unsubscribed++ },
	}
	srv := newTestServer(typ)
	c, _ := newTestConnection(srv)
	c.subs.executeCommand(subscribeEnv("r_1", "RoomChannel"))
	readFrame(t, c)

	c.subs.executeCommand(envelope{Command: commandUnsubscribe, Identifier: "r_1"})

	if c.subs.get("r_1") != nil {
		t.Fatal("Expectation: instance removed")
	}
	if unsubscribed != 1 {
		t.Fatal("Expectation: 1 unsubscribe hook run, Received:", unsubscribed)
	}
	hub := srv.bus.(*Hub)
	if len(hub.topics) != 0 {
		t.Fatal("Expectation: 0 topics, Received:", len(hub.topics))
	}
}

func TestUnsubscribeAbsent(t *testing.T) {
	srv := newTestServer()
	c, _ := newTestConnection(srv)

	// no-op
	c.subs.executeCommand(envelope{Command: commandUnsubscribe, Identifier: "ghost"})
	if frameCount(c) != 0 {
		t.Fatal("Expectation: no reply, Received:", frameCount(c))
	}
}

func TestMessageUnknownIdentifier(t *testing.T) {
	srv := newTestServer()
	c, _ := newTestConnection(srv)

	// logged and dropped, the connection stays usable
	c.subs.executeCommand(envelope{
		Command:    commandMessage,
		Identifier: "ghost",
		Data:       Data{"action": "speak"},
	})
	if frameCount(c) != 0 {
		t.Fatal("Expectation: no reply, Received:", frameCount(c))
	}
}

func TestResubscribeAfterUnsubscribe(t *testing.T) {
	typ := &ChannelType{Name: "ChatChannel"}
	srv := newTestServer(typ)
	c, _ := newTestConnection(srv)

	c.subs.executeCommand(subscribeEnv("chat_1", "ChatChannel"))
	first := c.subs.get("chat_1")
	c.subs.executeCommand(envelope{Command: commandUnsubscribe, Identifier: "chat_1"})
	c.subs.executeCommand(subscribeEnv("chat_1", "ChatChannel"))

	second := c.subs.get("chat_1")
	if second == nil || second == first {
		t.Fatal("Expectation: fresh instance after resubscribe")
	}
}

func TestUnsubscribeFromAll(t *testing.T) {
	unsubscribed := 0
	typ := &ChannelType{
		Name:         "ChatChannel",
		Unsubscribed: func(*Channel) { unsubscribed++ },
	}
	srv := newTestServer(typ)
	c, _ := newTestConnection(srv)
	c.subs.executeCommand(subscribeEnv("a_1", "ChatChannel"))
	c.subs.executeCommand(subscribeEnv("b_1", "ChatChannel"))

	c.subs.unsubscribeFromAll()

	if unsubscribed != 2 {
		t.Fatal("Expectation: 2, Received:", unsubscribed)
	}
	if len(c.subs.identifiers()) != 0 {
		t.Fatal("Expectation: 0 identifiers, Received:", c.subs.identifiers())
	}
}
