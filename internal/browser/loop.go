package browser

import (
	"sync"
	"sync/atomic"
	"time"
)

// loop is a single-threaded task queue. Everything a tab does (loading,
// programs, timers, message handlers) runs here, one function at a time.
type loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newLoop() *loop {
	l := &loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// post schedules f. It returns false once the loop is closed.
func (l *loop) post(f func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, f)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *loop) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
	close(l.done)
}

func (l *loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 || l.closed {
		return nil
	}
	f := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return f
}

func (l *loop) run() {
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}
		for f := l.next(); f != nil; f = l.next() {
			f()
		}
	}
}

type afterTimer struct {
	t     *time.Timer
	state atomic.Bool // true once fired or stopped
}

func (l *loop) after(d time.Duration, f func()) Timer {
	at := &afterTimer{}
	at.t = time.AfterFunc(d, func() {
		l.post(func() {
			if at.state.CompareAndSwap(false, true) {
				f()
			}
		})
	})
	return at
}

func (at *afterTimer) Stop() bool {
	at.t.Stop()
	return at.state.CompareAndSwap(false, true)
}

type tickTimer struct {
	stopped atomic.Bool
	pending atomic.Bool // a tick is queued and not yet run
	quit    chan struct{}
	once    sync.Once
}

func (l *loop) every(d time.Duration, f func()) Timer {
	if d <= 0 {
		d = time.Millisecond
	}
	tt := &tickTimer{quit: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-tt.quit:
				return
			case <-l.done:
				return
			case <-ticker.C:
				if !tt.pending.CompareAndSwap(false, true) {
					continue
				}
				l.post(func() {
					tt.pending.Store(false)
					if !tt.stopped.Load() {
						f()
					}
				})
			}
		}
	}()
	return tt
}

func (tt *tickTimer) Stop() bool {
	if tt.stopped.Swap(true) {
		return false
	}
	tt.once.Do(func() { close(tt.quit) })
	return true
}
