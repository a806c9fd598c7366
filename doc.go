// Package cable multiplexes application-defined channels over long-lived
// websocket connections.
//
//	cabled -addr=:8081
//
// Each client holds one websocket and subscribes to any number of named
// channels over it. Server-side producers publish to topics on a broadcast
// bus; every channel streaming a topic relays its messages down the wire,
// wrapped with the subscriber's own identifier.
//
// Subscribe by sending a JSON command frame:
//
//	{"command": "subscribe", "identifier": "chat_1", "data": {"channel": "ChatChannel"}}
//
// The server confirms with {"identifier": "chat_1", "message": "subscribed"}
// or rejects with {"identifier": "chat_1", "message": "rejected"}. After
// that, message frames dispatch named actions on the channel:
//
//	{"command": "message", "identifier": "chat_1", "data": {"action": "speak", "content": "hi"}}
//
// Publish from outside a socket by POSTing to a topic path with a JSON body.
//
//	curl localhost:8081/room_5 -d '{"content": "hello"}'
//
// Everything is as ephemeral as can be. A broadcast is relayed to the
// connections currently streaming its topic (if any) and then forgotten. A
// topic is forgotten when its last stream stops.
package cable
