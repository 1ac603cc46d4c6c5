package queue

import (
	"errors"
	"sync"
)

// ChannelTransport runs the worker protocol over in-process channels: one
// task channel and one result channel per worker, each with capacity one.
// A Send succeeds immediately when the worker's task slot is free, which is
// exactly the case when the queue considers that worker idle.
type ChannelTransport struct {
	mu      sync.Mutex
	tasks   map[int]chan any
	results map[int]chan any
	killed  map[int]bool
}

// NewChannelTransport creates channel pairs for workers 1..nWorkers.
func NewChannelTransport(nWorkers int) *ChannelTransport {
	t := &ChannelTransport{
		tasks:   make(map[int]chan any, nWorkers),
		results: make(map[int]chan any, nWorkers),
		killed:  make(map[int]bool, nWorkers),
	}
	for w := 1; w <= nWorkers; w++ {
		t.tasks[w] = make(chan any, 1)
		t.results[w] = make(chan any, 1)
	}
	return t
}

// Send places task in the worker's slot without blocking. It fails if the
// worker is unknown or its slot is already occupied.
func (t *ChannelTransport) Send(worker int, task any) error {
	ch, ok := t.tasks[worker]
	if !ok {
		return errors.New("channel transport: unknown worker")
	}
	select {
	case ch <- task:
		return nil
	default:
		return errors.New("channel transport: worker task slot full")
	}
}

// Probe reports whether the worker has a result waiting.
func (t *ChannelTransport) Probe(worker int) bool {
	return len(t.results[worker]) > 0
}

// Recv blocks until the worker's result arrives and returns it.
func (t *ChannelTransport) Recv(worker int) (any, error) {
	ch, ok := t.results[worker]
	if !ok {
		return nil, errors.New("channel transport: unknown worker")
	}
	return <-ch, nil
}

// Terminate closes the worker's task channel, which ends its Serve loop.
// Safe to call more than once per worker.
func (t *ChannelTransport) Terminate(worker int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.killed[worker] {
		return
	}
	if ch, ok := t.tasks[worker]; ok {
		close(ch)
		t.killed[worker] = true
	}
}

// WorkerFunc evaluates one task and produces its result.
type WorkerFunc func(task any) any

// Serve runs a worker loop for the given id: it consumes tasks until the
// task channel is closed by Terminate, pushing each result back. Run it on
// its own goroutine.
func (t *ChannelTransport) Serve(worker int, fn WorkerFunc) {
	for task := range t.tasks[worker] {
		t.results[worker] <- fn(task)
	}
}
