// Package parallel runs slice- and row-parallel work on a shared pool of
// goroutines.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool is a fixed set of goroutines with one queue each. An idle
// worker steals from the other queues, which balances rows of uneven cost
// such as rays that terminate early.
//
// WorkerPool is safe for concurrent use. Work must not call back into the
// pool it runs on.
type WorkerPool struct {
	workers int
	queues  []chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewWorkerPool starts a pool of workers goroutines. If workers is 0 or
// negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := max(workers*4, 8)

	p := &WorkerPool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), queueSize)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

var (
	sharedOnce sync.Once
	shared     *WorkerPool
)

// Shared returns the process-wide pool, started on first use with
// GOMAXPROCS workers. It is never closed.
func Shared() *WorkerPool {
	sharedOnce.Do(func() { shared = NewWorkerPool(0) })
	return shared
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		select {
		case <-p.done:
			p.drain(own)
			return
		case work := <-own:
			work()
		default:
			if stolen := p.steal(id); stolen != nil {
				stolen()
				continue
			}
			select {
			case <-p.done:
				p.drain(own)
				return
			case work := <-own:
				work()
			}
		}
	}
}

func (p *WorkerPool) drain(q chan func()) {
	for {
		select {
		case work := <-q:
			work()
		default:
			return
		}
	}
}

func (p *WorkerPool) steal(id int) func() {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case work := <-p.queues[i]:
			return work
		default:
		}
	}
	return nil
}

// ExecuteAll runs every item and waits for all of them. On a closed pool
// the items run on the calling goroutine.
func (p *WorkerPool) ExecuteAll(work []func()) {
	if len(work) == 0 {
		return
	}
	if !p.running.Load() {
		for _, fn := range work {
			fn()
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(work))
	for i, fn := range work {
		wrapped := func() {
			defer wg.Done()
			fn()
		}
		select {
		case p.queues[i%p.workers] <- wrapped:
		case <-p.done:
			wrapped()
		}
	}
	wg.Wait()
}

// For splits [0, n) into chunks of at most grain indices and calls fn for
// each chunk in parallel. A grain of 0 or less picks one chunk per worker.
func (p *WorkerPool) For(n, grain int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	if grain <= 0 {
		grain = (n + p.workers - 1) / p.workers
	}
	if n <= grain {
		fn(0, n)
		return
	}
	work := make([]func(), 0, (n+grain-1)/grain)
	for lo := 0; lo < n; lo += grain {
		hi := min(lo+grain, n)
		work = append(work, func() { fn(lo, hi) })
	}
	p.ExecuteAll(work)
}

// Close stops accepting work, finishes queued work and stops the workers.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers.
func (p *WorkerPool) Workers() int { return p.workers }

// IsRunning reports whether the pool accepts work.
func (p *WorkerPool) IsRunning() bool { return p.running.Load() }
