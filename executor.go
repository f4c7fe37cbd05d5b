package usbasio

import (
	"sync"

	"github.com/mathisloge/usb-asio/pkg"
)

// Executor is the caller's scheduling domain. Completions are posted into
// it by the engine's trampoline and run on whatever goroutine services the
// executor, never on the native backend's goroutine.
type Executor interface {
	// Post enqueues fn for execution inside the executor. It must not
	// run fn on the calling goroutine.
	Post(fn func())

	// Guard installs a keep-alive token that prevents the executor from
	// shutting down while work is outstanding. The returned release
	// function is idempotent.
	Guard() (release func())
}

// Loop is a single-goroutine serial executor. Tasks run one at a time on
// the goroutine that calls Run, in posting order.
type Loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	guards  int
	stopped bool
}

// NewLoop creates an idle loop.
func NewLoop() *Loop {
	l := &Loop{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Post implements [Executor].
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	l.mu.Unlock()
}

// Guard implements [Executor]. While any guard is held, Run blocks for
// more work instead of returning on an empty queue.
func (l *Loop) Guard() (release func()) {
	l.mu.Lock()
	l.guards++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.guards--
			l.cond.Signal()
			l.mu.Unlock()
		})
	}
}

// Run executes posted tasks on the calling goroutine until Stop is called,
// or until the queue is empty and no guards are held. It returns the
// number of tasks executed.
func (l *Loop) Run() int {
	n := 0
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && l.guards > 0 && !l.stopped {
			l.cond.Wait()
		}
		if l.stopped || len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		fn := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
		n++
	}
}

// Stop makes Run return as soon as its current task finishes. Tasks still
// queued are kept and run on a later Run after Restart.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.cond.Broadcast()
	l.mu.Unlock()
}

// Restart clears the stopped state so the loop can Run again.
func (l *Loop) Restart() {
	l.mu.Lock()
	l.stopped = false
	l.mu.Unlock()
}

// Pool is a fixed-size worker-pool executor. Tasks run concurrently on the
// pool's worker goroutines; no ordering is guaranteed across tasks.
type Pool struct {
	workers int
	jobs    chan func()

	wg          sync.WaitGroup // worker goroutines
	outstanding sync.WaitGroup // queued tasks + held guards
	startOnce   sync.Once
}

// NewPool creates a pool with the given number of workers (minimum one).
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		jobs:    make(chan func(), 100),
	}
}

// Start launches the worker goroutines. Tasks posted before Start queue up
// and run once the workers exist.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

// Post implements [Executor]. Posting after Stop is a caller error.
func (p *Pool) Post(fn func()) {
	p.outstanding.Add(1)
	p.jobs <- func() {
		defer p.outstanding.Done()
		fn()
	}
}

// Guard implements [Executor]. Stop waits for all guards to be released.
func (p *Pool) Guard() (release func()) {
	p.outstanding.Add(1)
	var once sync.Once
	return func() {
		once.Do(p.outstanding.Done)
	}
}

// Stop waits for queued tasks and held guards, then shuts the workers
// down. All guards must eventually be released or Stop blocks forever.
func (p *Pool) Stop() {
	p.outstanding.Wait()
	close(p.jobs)
	p.wg.Wait()
}

// worker drains the job channel.
func (p *Pool) worker(id int) {
	defer p.wg.Done()
	pkg.LogDebug(pkg.ComponentExecutor, "pool worker started", "id", id)

	for fn := range p.jobs {
		fn()
	}

	pkg.LogDebug(pkg.ComponentExecutor, "pool worker stopped", "id", id)
}
