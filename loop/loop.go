// Package loop implements the cooperative, single-threaded "select
// server" scheduling model §5 of the design requires: exactly one
// goroutine per Loop drains a task queue, so everything run through a
// given Loop executes without preemption between suspension points,
// matching ordering and single-writer guarantees the universe store,
// port registry, and queueing RDM controllers depend on.
//
// The control core uses exactly two loops: Main (owns the universe
// store, port registry, queueing controllers, E1.31 receiver) and
// Discovery (owns in-probe USB descriptors). Nothing elsewhere spins up
// its own goroutine loop; cross-loop handoff always goes through
// Execute, never a raw channel send to the other loop's internals.
/*
 * Copyright (c) 2024, OLA control core contributors.
 */
package loop

import (
	"sync"
	"time"
)

// ID names a registered timeout or read-readiness watch so it can later
// be cancelled/removed.
type ID uint64

// taskQueueSize bounds how many pending cross-loop dispatches or fired
// timeouts a Loop will buffer before Execute blocks the caller. Generous
// enough that no component in this repo can fill it in normal operation;
// a full queue is a backpressure signal, not a correctness bug, so
// Execute simply blocks rather than drop (submission order must hold).
const taskQueueSize = 4096

// Loop is a single-goroutine task runner: a channel of closures it drains
// in FIFO order, the ordering guarantee §5 calls for ("for equal
// timestamps, registration order is preserved").
type Loop struct {
	tasks  chan func()
	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	nextID  ID
	timers  map[ID]*time.Timer
	tickers map[ID]*time.Ticker
	reads   map[ID]chan struct{}
}

// New constructs an idle Loop; call Run on a dedicated goroutine to start
// draining it.
func New() *Loop {
	return &Loop{
		tasks:   make(chan func(), taskQueueSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		timers:  make(map[ID]*time.Timer),
		tickers: make(map[ID]*time.Ticker),
		reads:   make(map[ID]chan struct{}),
	}
}

// Run drains the task queue until Stop is called. It is meant to be the
// entire body of the goroutine that "owns" this Loop.
func (l *Loop) Run() {
	defer close(l.doneCh)
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.stopCh:
			l.drainNonBlocking()
			return
		}
	}
}

func (l *Loop) drainNonBlocking() {
	for {
		select {
		case fn := <-l.tasks:
			fn()
		default:
			return
		}
	}
}

// Stop requests the loop's goroutine to return after flushing whatever is
// already queued, and blocks until it has.
func (l *Loop) Stop() {
	close(l.stopCh)
	<-l.doneCh
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.timers {
		t.Stop()
	}
	for _, t := range l.tickers {
		t.Stop()
	}
}

// Execute schedules fn to run on this Loop's goroutine. Submission order
// from any single caller goroutine is preserved; this is the one
// "cross-loop message injection" primitive §5 requires.
func (l *Loop) Execute(fn func()) {
	l.tasks <- fn
}

// AddTimeout arms a one-shot timer; cb runs on this Loop after d via
// Execute. Cancel with CancelTimeout before it fires to suppress it.
func (l *Loop) AddTimeout(d time.Duration, cb func()) ID {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.mu.Unlock()

	t := time.AfterFunc(d, func() {
		l.mu.Lock()
		_, live := l.timers[id]
		l.mu.Unlock()
		if live {
			l.Execute(cb)
		}
	})

	l.mu.Lock()
	l.timers[id] = t
	l.mu.Unlock()
	return id
}

// AddRepeatingTimeout arms a cancellable periodic timer, e.g. the USB
// scanner's 20s directory sweep or the housekeeper's GC sweep.
func (l *Loop) AddRepeatingTimeout(d time.Duration, cb func()) ID {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	ticker := time.NewTicker(d)
	l.tickers[id] = ticker
	l.mu.Unlock()

	go func() {
		for range ticker.C {
			l.mu.Lock()
			_, live := l.tickers[id]
			l.mu.Unlock()
			if !live {
				return
			}
			l.Execute(cb)
		}
	}()
	return id
}

// CancelTimeout cancels a one-shot or repeating timeout by id. Safe to
// call more than once or on an already-fired one-shot id.
func (l *Loop) CancelTimeout(id ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.timers[id]; ok {
		t.Stop()
		delete(l.timers, id)
	}
	if t, ok := l.tickers[id]; ok {
		t.Stop()
		delete(l.tickers, id)
	}
}

// AddRead registers a readiness watch: whenever ready is signalled, cb
// runs on this Loop. The watch goroutine exits once RemoveRead(id) is
// called or ready is closed.
func (l *Loop) AddRead(ready <-chan struct{}, cb func()) ID {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	stop := make(chan struct{})
	l.reads[id] = stop
	l.mu.Unlock()

	go func() {
		for {
			select {
			case _, ok := <-ready:
				if !ok {
					return
				}
				l.Execute(cb)
			case <-stop:
				return
			}
		}
	}()
	return id
}

// RemoveRead cancels a previously registered read-readiness watch.
func (l *Loop) RemoveRead(id ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if stop, ok := l.reads[id]; ok {
		close(stop)
		delete(l.reads, id)
	}
}
