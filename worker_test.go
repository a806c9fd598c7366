package cable

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestTaskQueueFIFO(t *testing.T) {
	pool := newWorkerPool(8, zap.NewNop())
	q := pool.newQueue()

	var order []int
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		n := i
		q.enqueue(func() {
			// One consumer drains a queue at a time, so no locking here.
			order = append(order, n)
			if n == 99 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for queue to drain")
	}

	for i, n := range order {
		if n != i {
			t.Fatal("Expectation: task", i, "Received:", n)
		}
	}
}

func TestPoolRunsQueuesInParallel(t *testing.T) {
	pool := newWorkerPool(4, zap.NewNop())
	blocked := pool.newQueue()
	free := pool.newQueue()

	release := make(chan struct{})
	ran := make(chan struct{})
	blocked.enqueue(func() { <-release })
	free.enqueue(func() { close(ran) })

	// the free queue's task must not wait for the blocked queue
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("Task on independent queue blocked by another connection's work")
	}
	close(release)
}

func TestTaskPanicIsolated(t *testing.T) {
	pool := newWorkerPool(1, zap.NewNop())
	q := pool.newQueue()

	ran := make(chan struct{})
	q.enqueue(func() { panic("application bug") })
	q.enqueue(func() { close(ran) })

	// the worker survives the panic and keeps draining
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("Worker did not survive a panicking task")
	}
}
