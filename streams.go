package cable

import "sync"

// streamer records one channel's (topic, handler) bindings with the bus so
// every binding can be released when the channel goes away.
type streamer struct {
	bus Broadcaster

	mux      sync.Mutex
	bindings []*Binding
	stopped  bool
}

func newStreamer(bus Broadcaster) *streamer {
	return &streamer{bus: bus}
}

// streamFrom registers handler for topic and records the binding. After
// stopAllStreams the streamer refuses new bindings, so a stream started by
// an action racing teardown cannot leak.
func (s *streamer) streamFrom(topic string, handler StreamHandler) *Binding {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.stopped {
		return nil
	}
	b := s.bus.Subscribe(topic, handler)
	s.bindings = append(s.bindings, b)
	incr("streams", 1)
	return b
}

// stopStream releases one binding, leaving the others intact.
func (s *streamer) stopStream(b *Binding) {
	s.mux.Lock()
	defer s.mux.Unlock()

	for i, rec := range s.bindings {
		if rec == b {
			s.bindings = append(s.bindings[:i], s.bindings[i+1:]...)
			s.bus.Unsubscribe(b)
			decr("streams", 1)
			return
		}
	}
}

// stopAllStreams releases every recorded binding. Idempotent, safe with
// zero bindings.
func (s *streamer) stopAllStreams() {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	for _, b := range s.bindings {
		s.bus.Unsubscribe(b)
		decr("streams", 1)
	}
	s.bindings = nil
}

func (s *streamer) count() int {
	s.mux.Lock()
	defer s.mux.Unlock()
	return len(s.bindings)
}
