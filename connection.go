package cable

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sendBuffer = 256

// Connection states. Transitions run CONNECTING → OPEN → CLOSED; CLOSED is
// terminal and a rejected connection skips OPEN entirely.
const (
	stateConnecting int32 = iota
	stateOpen
	stateClosed
)

// controlTopicPrefix names the per-connection topic used for out-of-band
// disconnect commands.
const controlTopicPrefix = "cable/internal/"

// Connection owns one accepted transport session: the socket, the
// heartbeat, the inbound message buffer, and the subscription registry.
type Connection struct {
	id        string
	identity  map[string]string
	startedAt time.Time

	t      transport
	bus    Broadcaster
	types  map[string]*ChannelType
	mgr    *Manager
	logger *zap.Logger

	send    chan []byte
	done    chan struct{}
	tasks   *taskQueue
	hb      *heartbeat
	buffer  *messageBuffer
	subs    *subscriptions
	control *Binding

	afterConnect    []func(*Connection) error
	afterDisconnect []func(*Connection)

	state    atomic.Int32
	teardown sync.Once
}

func newConnection(srv *Server, t transport, identity map[string]string) *Connection {
	c := &Connection{
		id:              uuid.NewString(),
		identity:        identity,
		startedAt:       time.Now(),
		t:               t,
		bus:             srv.bus,
		types:           srv.types,
		mgr:             srv.mgr,
		send:            make(chan []byte, sendBuffer),
		done:            make(chan struct{}),
		afterConnect:    srv.afterConnect,
		afterDisconnect: srv.afterDisconnect,
	}
	c.logger = srv.logger.With(zap.String("connection", c.id))
	c.tasks = srv.pool.newQueue()
	c.hb = newHeartbeat(srv.heartbeat, c.beat)
	c.buffer = newMessageBuffer(c.route)
	c.subs = newSubscriptions(c)
	return c
}

// ID returns the server-assigned connection id.
func (c *Connection) ID() string { return c.id }

// Identity returns the authenticated identity assigned at accept time.
func (c *Connection) Identity() map[string]string { return c.identity }

// process runs the connection to completion: the open sequence is
// dispatched first on the connection's task queue, the reader loop feeds
// it, and teardown is dispatched when the transport dies. Blocks until the
// transport closes.
func (c *Connection) process() {
	c.t.setup()
	go c.writer()
	c.dispatchAsync(c.handleOpen)
	c.reader()
	c.dispatchAsync(c.handleClose)
}

// reader pumps transport frames onto the worker queue. Application logic
// never runs on this goroutine, so a slow action cannot stall the read
// loop.
func (c *Connection) reader() {
	for {
		payload, err := c.t.read()
		if err != nil {
			break
		}
		incr("conn.recv", 1)
		raw := payload
		c.dispatchAsync(func() { c.receive(raw) })
	}
	c.t.close()
}

func (c *Connection) writer() {
	for {
		select {
		case payload := <-c.send:
			if err := c.t.write(payload); err != nil {
				c.t.close()
				return
			}
			incr("conn.send", 1)
		case <-c.done:
			return
		}
	}
}

// handleOpen is the CONNECTING→OPEN transition: register with the manager,
// run after-connect callbacks, subscribe the internal control topic, start
// the heartbeat, then drain the buffer. An after-connect error is an
// authorization failure and closes the connection without reaching OPEN.
func (c *Connection) handleOpen() {
	c.mgr.add(c)
	for _, cb := range c.afterConnect {
		if err := cb(c); err != nil {
			c.logger.Warn("connection rejected", zap.Error(err))
			c.respondRejected()
			c.handleClose()
			return
		}
	}
	c.control = c.bus.Subscribe(controlTopicPrefix+c.id, c.handleControl)
	c.hb.start()
	c.state.Store(stateOpen)
	c.buffer.processAll()
}

// handleClose is the OPEN→CLOSED transition. Idempotent: racing the reader
// loop against an explicit close runs teardown exactly once.
func (c *Connection) handleClose() {
	c.teardown.Do(func() {
		c.state.Store(stateClosed)
		c.mgr.remove(c)
		c.subs.unsubscribeFromAll()
		if c.control != nil {
			c.bus.Unsubscribe(c.control)
		}
		c.hb.stop()
		for _, cb := range c.afterDisconnect {
			c.runDisconnectCallback(cb)
		}
		close(c.done)
		c.t.close()
		c.logger.Info("connection closed")
	})
}

func (c *Connection) runDisconnectCallback(cb func(*Connection)) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("after-disconnect callback panicked", zap.Any("panic", r))
		}
	}()
	cb(c)
}

// receive routes one inbound frame through the buffer while the transport
// is alive, otherwise logs and drops it.
func (c *Connection) receive(raw []byte) {
	if !c.t.alive() {
		c.logger.Debug("dropping message received on dead transport")
		return
	}
	c.buffer.append(raw)
}

// route decodes one buffered frame and hands it to the command protocol.
// Malformed envelopes are protocol errors: logged, dropped, connection
// stays open.
func (c *Connection) route(raw []byte) {
	env, err := parseEnvelope(raw)
	if err != nil {
		c.logger.Warn("dropping malformed envelope", zap.Error(err))
		return
	}
	c.subs.executeCommand(env)
}

// transmit writes raw through to the transport. Writing to a closed or
// saturated connection is a counted no-op.
func (c *Connection) transmit(raw []byte) {
	if c.state.Load() == stateClosed || !c.t.alive() {
		c.logger.Debug("dropping write to closed transport")
		return
	}
	select {
	case c.send <- raw:
	default:
		mark("drops", 1)
		c.logger.Warn("send buffer full, dropping message")
	}
}

// close shuts the transport down; the reader loop observes the error and
// dispatches teardown. Safe to call repeatedly and from any goroutine.
func (c *Connection) close() {
	c.t.close()
}

// dispatchAsync hands task to the worker pool on this connection's FIFO
// queue so it never runs on the transport's delivery path.
func (c *Connection) dispatchAsync(task func()) {
	c.tasks.enqueue(task)
}

func (c *Connection) beat() {
	if err := c.t.ping(); err != nil {
		c.close()
	}
}

// handleControl reacts to out-of-band commands published to the
// connection's internal topic.
func (c *Connection) handleControl(payload []byte) {
	var cmd struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		c.logger.Warn("dropping malformed control command", zap.Error(err))
		return
	}
	if cmd.Type == "disconnect" {
		c.dispatchAsync(c.close)
	}
}

// respondRejected writes the rejection straight through the transport; the
// send loop is about to be torn down.
func (c *Connection) respondRejected() {
	c.t.write([]byte(`{"type":"disconnect","reason":"unauthorized"}`))
}

func (c *Connection) channelType(name string) *ChannelType {
	return c.types[name]
}

// ConnectionStats is one connection's health snapshot.
type ConnectionStats struct {
	ID          string            `json:"id"`
	Identity    map[string]string `json:"identity,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	Identifiers []string          `json:"identifiers"`
}

// Statistics reports identity, start time, and the active subscription
// identifiers.
func (c *Connection) Statistics() ConnectionStats {
	return ConnectionStats{
		ID:          c.id,
		Identity:    c.identity,
		StartedAt:   c.startedAt,
		Identifiers: c.subs.identifiers(),
	}
}
