package cable

import (
	"sync"

	"go.uber.org/zap"
)

// workerPool executes connection callbacks off the transport's delivery
// path. The pool runs a fixed number of workers; tasks enqueued on one
// taskQueue run strictly in FIFO order, one at a time, while different
// queues run on different workers in parallel.
type workerPool struct {
	jobs   chan *taskQueue
	logger *zap.Logger
}

func newWorkerPool(size int, logger *zap.Logger) *workerPool {
	p := &workerPool{
		jobs:   make(chan *taskQueue, 16),
		logger: logger,
	}
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *workerPool) worker() {
	for q := range p.jobs {
		q.drain()
	}
}

func (p *workerPool) newQueue() *taskQueue {
	return &taskQueue{pool: p}
}

// taskQueue is a single-consumer FIFO of one connection's pending tasks.
// At most one worker drains a queue at a time.
type taskQueue struct {
	pool    *workerPool
	mux     sync.Mutex
	tasks   []func()
	running bool
}

func (q *taskQueue) enqueue(task func()) {
	q.mux.Lock()
	q.tasks = append(q.tasks, task)
	wake := !q.running
	if wake {
		q.running = true
	}
	q.mux.Unlock()
	if wake {
		q.pool.jobs <- q
	}
}

func (q *taskQueue) drain() {
	for {
		q.mux.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.mux.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mux.Unlock()
		q.run(task)
	}
}

// run isolates application failures at the dispatch boundary so a panicking
// action cannot take down the worker or the connection.
func (q *taskQueue) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.pool.logger.Error("dispatched task panicked", zap.Any("panic", r))
		}
	}()
	task()
}
