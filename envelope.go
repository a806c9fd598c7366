package cable

import (
	"encoding/json"
	"errors"
)

const (
	commandSubscribe   = "subscribe"
	commandUnsubscribe = "unsubscribe"
	commandMessage     = "message"
)

// Lifecycle markers sent as the message body of a reply envelope.
const (
	markerSubscribed = "subscribed"
	markerRejected   = "rejected"
)

var errMalformed = errors.New("cable: malformed envelope")

// Data is the decoded data object of a command or broadcast payload.
type Data map[string]any

// String returns the value at key if it is a string, otherwise "".
func (d Data) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// envelope is one inbound command frame.
type envelope struct {
	Command    string `json:"command"`
	Identifier string `json:"identifier"`
	Data       Data   `json:"data,omitempty"`
}

// reply is one outbound frame: a payload or a lifecycle marker, wrapped
// with the subscription identifier it belongs to.
type reply struct {
	Identifier string `json:"identifier"`
	Message    any    `json:"message"`
}

func parseEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, err
	}
	if env.Identifier == "" {
		return envelope{}, errMalformed
	}
	return env, nil
}

func encodeReply(identifier string, message any) ([]byte, error) {
	return json.Marshal(reply{Identifier: identifier, Message: message})
}
