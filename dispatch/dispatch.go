// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package dispatch provides per-client serialized execution contexts backed
// by a shared worker pool. A Queue runs its tasks one at a time in FIFO
// order; many queues share the pool's workers, so independent clients run in
// parallel while each client's own work stays single-threaded.
package dispatch

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Pool is a bounded set of workers executing queue drains.
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool starts a pool with n workers. n must be at least 1.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{tasks: make(chan func(), 1024)}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

func (p *Pool) submit(task func()) {
	p.mu.Lock()
	if !p.closed {
		select {
		case p.tasks <- task:
			p.mu.Unlock()
			return
		default:
			// All workers busy and the backlog full; fall through and run
			// on a fresh goroutine rather than block a worker that may
			// itself be submitting.
		}
	}
	p.mu.Unlock()
	go task()
}

// Close stops the workers after the queued drains finish. Late dispatches
// (stale timers) still run, on plain goroutines.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// NewQueue creates a serialized queue drawing on the pool's workers.
func (p *Pool) NewQueue(name string) *Queue {
	return &Queue{pool: p, name: name}
}

// Queue is a serialized execution context. Tasks dispatched to it run FIFO
// with at most one executing at any time.
type Queue struct {
	pool *Pool
	name string

	mu        sync.Mutex
	tasks     []func()
	scheduled bool

	owner atomic.Uint64 // goroutine id currently draining, 0 when idle
}

// Name returns the queue's name.
func (q *Queue) Name() string { return q.name }

// Dispatch enqueues fn for serialized execution.
func (q *Queue) Dispatch(fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	if q.scheduled {
		q.mu.Unlock()
		return
	}
	q.scheduled = true
	q.mu.Unlock()
	q.pool.submit(q.drain)
}

func (q *Queue) drain() {
	q.owner.Store(gid())
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			// Clear ownership before allowing a reschedule so two workers
			// never claim the queue at once.
			q.owner.Store(0)
			q.scheduled = false
			q.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		fn()
	}
}

// Executing reports whether the caller is running on this queue.
func (q *Queue) Executing() bool {
	return q.owner.Load() == gid()
}

// Assert panics unless the caller is running on this queue. State owned by a
// queue may only be touched from its own tasks; a violation is a bug in the
// caller, not a recoverable condition.
func (q *Queue) Assert() {
	if !q.Executing() {
		panic("dispatch: " + q.name + " accessed off its own queue")
	}
}

// AfterFunc schedules fn to run on the queue after d elapses. The returned
// timer can stop the dispatch if it has not fired yet.
func (q *Queue) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { q.Dispatch(fn) })
}

// gid extracts the current goroutine id from the runtime stack header
// ("goroutine N [running]: ...").
func gid() uint64 {
	var buf [32]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if i := strings.IndexByte(s, ' '); i > 0 {
		if id, err := strconv.ParseUint(s[:i], 10, 64); err == nil {
			return id
		}
	}
	return 0
}
