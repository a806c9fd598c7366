package cable

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 30 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// transport abstracts the websocket so connection logic runs against a
// mock in tests. read is called from one goroutine; write and ping may be
// called from different goroutines and are serialized internally.
type transport interface {
	setup()
	read() ([]byte, error)
	write(payload []byte) error
	ping() error
	alive() bool
	close()
}

type wsTransport struct {
	ws *websocket.Conn

	mux    sync.Mutex // Serializes writes and guards closed
	closed bool
}

func newWsTransport(ws *websocket.Conn) *wsTransport {
	return &wsTransport{ws: ws}
}

func (w *wsTransport) setup() {
	w.ws.SetReadLimit(maxMessageSize)
	w.ws.SetReadDeadline(time.Now().Add(pongWait))
	w.ws.SetPongHandler(func(string) error {
		return w.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (w *wsTransport) read() ([]byte, error) {
	_, payload, err := w.ws.ReadMessage()
	return payload, err
}

func (w *wsTransport) write(payload []byte) error {
	w.mux.Lock()
	defer w.mux.Unlock()
	w.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return w.ws.WriteMessage(websocket.TextMessage, payload)
}

func (w *wsTransport) ping() error {
	w.mux.Lock()
	defer w.mux.Unlock()
	return w.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (w *wsTransport) alive() bool {
	w.mux.Lock()
	defer w.mux.Unlock()
	return !w.closed
}

func (w *wsTransport) close() {
	w.mux.Lock()
	defer w.mux.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.ws.Close()
}
