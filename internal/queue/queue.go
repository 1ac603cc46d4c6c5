// Package queue manages a fixed pool of worker identities and the
// submission/collection protocol between the dispatcher and its workers.
// Payloads are opaque; delivery goes through an injectable Transport so the
// same queue logic runs over in-process channels, sockets, or a cluster
// messaging layer.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoIdleWorker reports a submission with every worker busy. Callers are
// expected to gate submissions on IdleCount; the queue never blocks or
// retries a submit.
var ErrNoIdleWorker = errors.New("queue: no idle worker")

// Transport is the four-operation messaging seam between the queue and its
// workers. Send and Probe must not block; Recv may block and is only called
// after Probe has reported a result ready; Terminate is fire-and-forget.
type Transport interface {
	Send(worker int, task any) error
	Probe(worker int) bool
	Recv(worker int) (any, error)
	Terminate(worker int)
}

// DefaultPollInterval is the pause between full sweeps of the busy list in
// CollectOne. Small enough to be negligible against patch runtimes, large
// enough to avoid a hot spin.
const DefaultPollInterval = time.Millisecond

// WorkQueue splits a fixed set of worker ids into an idle and a busy list.
// The two lists always partition the full worker set. Not safe for
// concurrent use: one dispatcher goroutine owns the queue.
type WorkQueue struct {
	transport    Transport
	idle         []int
	busy         []int
	nWorkers     int
	PollInterval time.Duration
}

// New builds a queue over workers 1..nWorkers, all initially idle. Worker 0
// is by convention the dispatcher itself and is never pooled.
func New(transport Transport, nWorkers int) *WorkQueue {
	idle := make([]int, nWorkers)
	for i := range idle {
		idle[i] = i + 1
	}
	return &WorkQueue{
		transport:    transport,
		idle:         idle,
		nWorkers:     nWorkers,
		PollInterval: DefaultPollInterval,
	}
}

// IdleCount returns the number of workers available for Submit.
func (q *WorkQueue) IdleCount() int { return len(q.idle) }

// BusyCount returns the number of workers with an outstanding task.
func (q *WorkQueue) BusyCount() int { return len(q.busy) }

// Workers returns the full pooled worker id set.
func (q *WorkQueue) Workers() []int {
	ids := make([]int, q.nWorkers)
	for i := range ids {
		ids[i] = i + 1
	}
	return ids
}

// Submit hands task to the first idle worker and moves it to the busy list.
// It fails with ErrNoIdleWorker when the idle list is empty and never
// blocks on the send itself.
func (q *WorkQueue) Submit(task any) (int, error) {
	if len(q.idle) == 0 {
		return 0, ErrNoIdleWorker
	}
	worker := q.idle[0]
	if err := q.transport.Send(worker, task); err != nil {
		return 0, fmt.Errorf("queue: send to worker %d: %w", worker, err)
	}
	q.idle = q.idle[1:]
	q.busy = append(q.busy, worker)
	return worker, nil
}

// CollectOne polls the busy workers round-robin until one has finished,
// receives that result, and moves the worker back to the idle list. Results
// come back in completion order, not submission order. A worker that never
// finishes stalls CollectOne until ctx is done.
func (q *WorkQueue) CollectOne(ctx context.Context) (int, any, error) {
	if len(q.busy) == 0 {
		return 0, nil, errors.New("queue: collect with no busy workers")
	}
	for {
		for i, worker := range q.busy {
			if !q.transport.Probe(worker) {
				continue
			}
			result, err := q.transport.Recv(worker)
			if err != nil {
				return 0, nil, fmt.Errorf("queue: recv from worker %d: %w", worker, err)
			}
			q.busy = append(q.busy[:i], q.busy[i+1:]...)
			q.idle = append(q.idle, worker)
			return worker, result, nil
		}
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-time.After(q.PollInterval):
		}
	}
}

// Closeout sends a termination signal to every pooled worker, idle or busy,
// without waiting for acknowledgement.
func (q *WorkQueue) Closeout() {
	for _, worker := range q.Workers() {
		q.transport.Terminate(worker)
	}
}
