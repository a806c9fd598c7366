package cable

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const workerPoolSize = 64

// Authenticator extracts an opaque, authenticated identity from the
// upgrade request. Returning an error rejects the handshake with a 404.
type Authenticator func(r *http.Request) (map[string]string, error)

// Server owns the channel-type registry, the broadcast bus, the worker
// pool, and the connection manager, and accepts websocket sessions.
type Server struct {
	bus    Broadcaster
	pool   *workerPool
	mgr    *Manager
	logger *zap.Logger

	types     map[string]*ChannelType
	heartbeat time.Duration
	origin    string
	auth      Authenticator

	afterConnect    []func(*Connection) error
	afterDisconnect []func(*Connection)
}

func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		bus:       NewHub(logger),
		pool:      newWorkerPool(workerPoolSize, logger),
		mgr:       NewManager(),
		logger:    logger,
		types:     make(map[string]*ChannelType),
		heartbeat: pingPeriod,
	}
}

// RegisterChannel makes a channel type subscribable by name.
func (s *Server) RegisterChannel(typ *ChannelType) {
	s.types[typ.Name] = typ
}

// SetBroadcaster swaps the in-process bus for an external one. Call before
// serving.
func (s *Server) SetBroadcaster(bus Broadcaster) {
	s.bus = bus
}

// SetAuthenticator installs the identity extraction hook.
func (s *Server) SetAuthenticator(auth Authenticator) {
	s.auth = auth
}

// SetAllowedOrigin restricts websocket upgrades to one Origin value,
// scheme://host[:port]. Empty allows any.
func (s *Server) SetAllowedOrigin(origin string) {
	s.origin = origin
}

// SetHeartbeat overrides the liveness ping interval.
func (s *Server) SetHeartbeat(interval time.Duration) {
	s.heartbeat = interval
}

// AfterConnect appends an authorization-class callback run during the open
// sequence, in registration order. An error rejects the connection.
func (s *Server) AfterConnect(cb func(*Connection) error) {
	s.afterConnect = append(s.afterConnect, cb)
}

// AfterDisconnect appends a callback run once during teardown. Failures
// are isolated; the remaining callbacks still run.
func (s *Server) AfterDisconnect(cb func(*Connection)) {
	s.afterDisconnect = append(s.afterDisconnect, cb)
}

// Broadcast publishes message to topic, JSON-encoded, reaching every
// connection currently streaming the topic.
func (s *Server) Broadcast(topic string, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	s.bus.Publish(topic, payload)
	return nil
}

// Disconnect closes the identified connection out of band, via its
// internal control topic. Works across processes when the bus is shared.
func (s *Server) Disconnect(connectionID string) {
	s.bus.Publish(controlTopicPrefix+connectionID, []byte(`{"type":"disconnect"}`))
}

// Manager exposes the connection registry for identity lookup and health
// aggregation.
func (s *Server) Manager() *Manager { return s.mgr }

// Handler routes websocket upgrades, the stats endpoint, HTTP publishes,
// and the debug client page.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// Requests with these headers upgrade to a cable session.
	r.Headers(
		"Connection", "Upgrade",
		"Upgrade", "websocket",
	).Handler(wsHandler{s: s})

	r.Path("/_stats").Methods("GET").Handler(statsHandler{s: s})
	r.Methods("GET").Handler(getHandler{s: s})
	r.Methods("POST").Handler(postHandler{s: s})
	return r
}
