package cable

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// StreamHandler receives one broadcast payload. The bus invokes handlers
// from the publisher's goroutine, never the subscriber's own dispatch
// goroutine.
type StreamHandler func(payload []byte)

// Broadcaster is the pub/sub bus channels stream from. Delivery is
// at-least-once and best-effort; ordering across topics is not guaranteed.
type Broadcaster interface {
	Publish(topic string, payload []byte)
	Subscribe(topic string, handler StreamHandler) *Binding
	Unsubscribe(binding *Binding)
}

// Binding is one (topic, handler) registration and the token used to
// unsubscribe exactly that registration.
type Binding struct {
	topic   string
	handler StreamHandler
	stopped atomic.Bool
}

// Topic returns the topic this binding relays.
func (b *Binding) Topic() string { return b.topic }

// Hub is the in-process Broadcaster. A topic exists while at least one
// binding holds it and is forgotten when its last binding stops.
type Hub struct {
	mux    sync.RWMutex
	topics map[string]map[*Binding]struct{}
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*Binding]struct{}),
		logger: logger,
	}
}

func (h *Hub) Subscribe(topic string, handler StreamHandler) *Binding {
	b := &Binding{topic: topic, handler: handler}

	h.mux.Lock()
	defer h.mux.Unlock()
	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[*Binding]struct{})
		incr("topics", 1)
	}
	h.topics[topic][b] = struct{}{}
	return b
}

func (h *Hub) Unsubscribe(b *Binding) {
	b.stopped.Store(true)

	h.mux.Lock()
	defer h.mux.Unlock()
	if _, ok := h.topics[b.topic][b]; !ok {
		return
	}
	delete(h.topics[b.topic], b)
	if len(h.topics[b.topic]) == 0 {
		delete(h.topics, b.topic)
		decr("topics", 1)
	}
}

// Publish delivers payload to every binding on topic. A publish to a topic
// with no bindings is dropped and counted.
func (h *Hub) Publish(topic string, payload []byte) {
	h.mux.RLock()
	bindings := make([]*Binding, 0, len(h.topics[topic]))
	for b := range h.topics[topic] {
		bindings = append(bindings, b)
	}
	h.mux.RUnlock()

	if len(bindings) == 0 {
		mark("drops", 1)
		return
	}
	for _, b := range bindings {
		h.deliver(topic, b, payload)
	}
}

func (h *Hub) deliver(topic string, b *Binding, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("stream handler panicked",
				zap.String("topic", topic), zap.Any("panic", r))
		}
	}()
	if b.stopped.Load() {
		return
	}
	b.handler(payload)
}
