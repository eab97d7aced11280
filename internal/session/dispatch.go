package session

import "sync"

// dispatcher runs posted closures one at a time on a single goroutine. The
// queue is unbounded so callbacks from native and network goroutines never
// block on a busy session.
type dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// post enqueues fn. It returns false once the dispatcher is stopped.
func (d *dispatcher) post(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

func (d *dispatcher) pop() func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil
	}
	fn := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return fn
}

func (d *dispatcher) run() {
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}
		for fn := d.pop(); fn != nil; fn = d.pop() {
			fn()
			select {
			case <-d.done:
				return
			default:
			}
		}
	}
}

// stop rejects further posts and ends run. Queued closures are dropped.
func (d *dispatcher) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.queue = nil
	close(d.done)
}
