package cable

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrRejected is returned from a Subscribed hook to refuse the
// subscription. The client receives a rejection marker and the instance is
// discarded.
var ErrRejected = errors.New("cable: subscription rejected")

// ActionFunc handles one named action dispatched to a channel instance.
// data is the decoded data object of the message command, "action" key
// included.
type ActionFunc func(ch *Channel, data Data)

// defaultAction is dispatched when a message carries no action name.
const defaultAction = "receive"

// ChannelType declares one application channel: its lifecycle hooks and
// the explicit table of actions clients may invoke. Names absent from the
// table are never invocable, whatever the client sends.
type ChannelType struct {
	Name string

	// Subscribed runs when a client subscribes, typically to start
	// streams. Returning an error rejects the subscription. Nil accepts.
	Subscribed func(ch *Channel) error

	// Unsubscribed runs on teardown, typically to release external
	// resources. Streams are released afterwards regardless. Nil no-ops.
	Unsubscribed func(ch *Channel)

	Actions map[string]ActionFunc
}

// Channel is one live subscription instance: the client-chosen identifier,
// the subscribe params, and the instance's stream bindings. Created on
// subscribe, destroyed on unsubscribe or connection close.
type Channel struct {
	typ        *ChannelType
	identifier string
	params     Data
	conn       *Connection
	streams    *streamer
	logger     *zap.Logger

	mux   sync.Mutex
	state map[string]any
}

func newChannel(typ *ChannelType, identifier string, params Data, conn *Connection) *Channel {
	return &Channel{
		typ:        typ,
		identifier: identifier,
		params:     params,
		conn:       conn,
		streams:    newStreamer(conn.bus),
		logger:     conn.logger.With(zap.String("channel", typ.Name), zap.String("identifier", identifier)),
		state:      make(map[string]any),
	}
}

// Identifier returns the client-chosen subscription key.
func (ch *Channel) Identifier() string { return ch.identifier }

// Params returns the data object of the subscribe command.
func (ch *Channel) Params() Data { return ch.params }

// Identity returns the authenticated identity of the owning connection.
func (ch *Channel) Identity() map[string]string { return ch.conn.identity }

// Set stores per-instance state. Stream handlers run concurrently with
// action dispatch, so shared instance state goes through Set/Get.
func (ch *Channel) Set(key string, value any) {
	ch.mux.Lock()
	defer ch.mux.Unlock()
	ch.state[key] = value
}

// Get reads per-instance state stored with Set.
func (ch *Channel) Get(key string) (any, bool) {
	ch.mux.Lock()
	defer ch.mux.Unlock()
	v, ok := ch.state[key]
	return v, ok
}

// StreamFrom relays broadcasts on topic down this channel's connection. A
// nil handler installs the default relay: decode the payload and transmit
// it unmodified, tagged with the topic. Returns the binding for StopStream;
// nil if the channel is already torn down.
func (ch *Channel) StreamFrom(topic string, handler StreamHandler) *Binding {
	if handler == nil {
		handler = ch.relay(topic)
	}
	return ch.streams.streamFrom(topic, handler)
}

// StopStream releases one binding, leaving the instance's other streams
// intact.
func (ch *Channel) StopStream(b *Binding) {
	if b == nil {
		return
	}
	ch.streams.stopStream(b)
}

func (ch *Channel) relay(topic string) StreamHandler {
	return func(payload []byte) {
		var message any
		if err := json.Unmarshal(payload, &message); err != nil {
			ch.logger.Warn("dropping undecodable broadcast", zap.String("topic", topic), zap.Error(err))
			return
		}
		ch.transmit(message, topic)
	}
}

// Transmit wraps message with this channel's identifier and writes it
// through the owning connection.
func (ch *Channel) Transmit(message any) {
	ch.transmit(message, "")
}

func (ch *Channel) transmit(message any, via string) {
	raw, err := encodeReply(ch.identifier, message)
	if err != nil {
		ch.logger.Error("could not encode outbound message", zap.Error(err))
		return
	}
	ch.conn.transmit(raw)
	if via != "" {
		ch.logger.Debug("transmitted", zap.String("via", via))
	} else {
		ch.logger.Debug("transmitted")
	}
}

// performAction dispatches one message command on the action table.
// Unknown actions are logged and dropped, never raised back to the
// connection.
func (ch *Channel) performAction(data Data) {
	name := data.String("action")
	if name == "" {
		name = defaultAction
	}
	action, ok := ch.typ.Actions[name]
	if !ok {
		ch.actionMissing(name)
		return
	}
	action(ch, data)
}

func (ch *Channel) actionMissing(name string) {
	ch.logger.Warn("unknown action", zap.String("action", name))
}

func (ch *Channel) subscribed() error {
	if ch.typ.Subscribed == nil {
		return nil
	}
	return ch.typ.Subscribed(ch)
}

// unsubscribeFromChannel runs the unsubscribe hook and then releases every
// stream binding, even when the hook panics or subscribed never completed.
func (ch *Channel) unsubscribeFromChannel() {
	defer ch.streams.stopAllStreams()
	if ch.typ.Unsubscribed == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			ch.logger.Error("unsubscribe hook panicked", zap.Any("panic", r))
		}
	}()
	ch.typ.Unsubscribed(ch)
}
