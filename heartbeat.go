package cable

import (
	"sync"
	"time"
)

// heartbeat fires a liveness beat on a fixed interval while its connection
// is open. start and stop are each called exactly once per connection; no
// beat runs after stop returns.
type heartbeat struct {
	interval time.Duration
	beat     func()

	mux     sync.Mutex // Protects ticker, stopCh, state, and beat delivery
	ticker  *time.Ticker
	stopCh  chan struct{}
	started bool
	stopped bool
}

func newHeartbeat(interval time.Duration, beat func()) *heartbeat {
	return &heartbeat{
		interval: interval,
		beat:     beat,
	}
}

func (h *heartbeat) start() {
	h.mux.Lock()
	defer h.mux.Unlock()

	if h.started || h.stopped {
		return
	}
	h.started = true
	h.stopCh = make(chan struct{}, 1)
	h.ticker = time.NewTicker(h.interval)
	go h.tick()
}

func (h *heartbeat) tick() {
	for {
		select {
		case <-h.ticker.C:
			h.fire()
		case <-h.stopCh:
			return
		}
	}
}

// fire delivers one beat under the mutex so it can never overlap stop.
func (h *heartbeat) fire() {
	h.mux.Lock()
	defer h.mux.Unlock()

	if h.stopped {
		return
	}
	h.beat()
}

// stop halts the ticker. A beat racing stop either completes before stop
// returns or is suppressed by the stopped flag.
func (h *heartbeat) stop() {
	h.mux.Lock()
	defer h.mux.Unlock()

	if !h.stopped && h.stopCh != nil {
		h.ticker.Stop()
		h.stopCh <- struct{}{}
	}
	h.stopped = true
}
