package cable

import "sync"

// messageBuffer defers inbound message processing until the connection has
// finished its asynchronous open sequence, then drains in arrival order and
// switches to direct delivery.
type messageBuffer struct {
	mux       sync.Mutex
	queue     [][]byte
	buffering bool
	process   func(raw []byte)
}

func newMessageBuffer(process func(raw []byte)) *messageBuffer {
	return &messageBuffer{
		buffering: true,
		process:   process,
	}
}

// append enqueues raw while the buffer is in buffering mode, otherwise
// processes it immediately.
func (b *messageBuffer) append(raw []byte) {
	b.mux.Lock()
	if b.buffering {
		b.queue = append(b.queue, raw)
		b.mux.Unlock()
		return
	}
	b.mux.Unlock()
	b.process(raw)
}

// processAll drains the queue in FIFO order and leaves the buffer in direct
// delivery mode. Messages appended during the drain are drained too, in
// order, before the switch.
func (b *messageBuffer) processAll() {
	for {
		b.mux.Lock()
		if len(b.queue) == 0 {
			b.buffering = false
			b.mux.Unlock()
			return
		}
		raw := b.queue[0]
		b.queue = b.queue[1:]
		b.mux.Unlock()
		b.process(raw)
	}
}
