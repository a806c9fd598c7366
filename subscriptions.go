package cable

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// subscriptions maps client-chosen identifiers to live channel instances
// and executes the wire command protocol for one connection. At most one
// instance exists per identifier.
type subscriptions struct {
	conn *Connection

	mux       sync.Mutex
	instances map[string]*Channel
}

func newSubscriptions(conn *Connection) *subscriptions {
	return &subscriptions{
		conn:      conn,
		instances: make(map[string]*Channel),
	}
}

// executeCommand routes one decoded envelope. Unknown commands take the
// message path: an absent instance logs and drops, a present one decides
// what the action means.
func (s *subscriptions) executeCommand(env envelope) {
	switch env.Command {
	case commandSubscribe:
		s.subscribe(env)
	case commandUnsubscribe:
		s.remove(env.Identifier)
	default:
		s.perform(env)
	}
}

func (s *subscriptions) subscribe(env envelope) {
	if s.get(env.Identifier) != nil {
		// Idempotent no-op: the existing instance stays untouched and the
		// client is not notified.
		s.conn.logger.Warn("duplicate subscribe ignored", zap.String("identifier", env.Identifier))
		return
	}

	name := env.Data.String("channel")
	typ := s.conn.channelType(name)
	if typ == nil {
		s.conn.logger.Warn("subscribe to unknown channel rejected", zap.String("channel", name))
		s.reject(env.Identifier)
		return
	}

	ch := newChannel(typ, env.Identifier, env.Data, s.conn)
	if err := runSubscribed(ch); err != nil {
		s.conn.logger.Warn("subscribe rejected",
			zap.String("channel", name), zap.String("identifier", env.Identifier), zap.Error(err))
		// The hook may have started streams before failing.
		ch.streams.stopAllStreams()
		s.reject(env.Identifier)
		return
	}

	s.mux.Lock()
	s.instances[env.Identifier] = ch
	s.mux.Unlock()
	incr("subscriptions", 1)
	s.confirm(env.Identifier)
}

// runSubscribed converts a panicking subscribe hook into a rejection.
func runSubscribed(ch *Channel) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscribe hook panicked: %v", r)
		}
	}()
	return ch.subscribed()
}

func (s *subscriptions) remove(identifier string) {
	s.mux.Lock()
	ch, ok := s.instances[identifier]
	if ok {
		delete(s.instances, identifier)
	}
	s.mux.Unlock()

	if !ok {
		return
	}
	ch.unsubscribeFromChannel()
	decr("subscriptions", 1)
}

func (s *subscriptions) perform(env envelope) {
	ch := s.get(env.Identifier)
	if ch == nil {
		s.conn.logger.Warn("dropping message for unknown subscription",
			zap.String("identifier", env.Identifier))
		return
	}
	ch.performAction(env.Data)
}

// unsubscribeFromAll tears down every live instance. Called exactly once
// during connection teardown.
func (s *subscriptions) unsubscribeFromAll() {
	s.mux.Lock()
	instances := make([]*Channel, 0, len(s.instances))
	for _, ch := range s.instances {
		instances = append(instances, ch)
	}
	s.instances = make(map[string]*Channel)
	s.mux.Unlock()

	for _, ch := range instances {
		ch.unsubscribeFromChannel()
		decr("subscriptions", 1)
	}
}

// identifiers returns a snapshot of active subscription keys.
func (s *subscriptions) identifiers() []string {
	s.mux.Lock()
	keys := make([]string, 0, len(s.instances))
	for k := range s.instances {
		keys = append(keys, k)
	}
	s.mux.Unlock()
	sort.Strings(keys)
	return keys
}

func (s *subscriptions) get(identifier string) *Channel {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.instances[identifier]
}

func (s *subscriptions) confirm(identifier string) {
	raw, err := encodeReply(identifier, markerSubscribed)
	if err != nil {
		return
	}
	s.conn.transmit(raw)
}

func (s *subscriptions) reject(identifier string) {
	mark("rejects", 1)
	raw, err := encodeReply(identifier, markerRejected)
	if err != nil {
		return
	}
	s.conn.transmit(raw)
}
