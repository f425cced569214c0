package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultInterval = 5 * time.Second

// Poller runs a tick function on a fixed interval. At most one loop is active:
// Start cancels any previous loop before launching a new one. Ticks run one at
// a time on the loop goroutine, so a slow tick delays the next instead of
// overlapping it.
type Poller struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	nudge  chan struct{}
	active atomic.Int32
}

func NewPoller() *Poller {
	return &Poller{nudge: make(chan struct{}, 1)}
}

func (p *Poller) Start(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done

	p.active.Add(1)
	go func() {
		defer close(done)
		defer p.active.Add(-1)

		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			case <-p.nudge:
			}
			if ctx.Err() != nil {
				return
			}
			tick(ctx)
		}
	}()
}

// Nudge asks for a tick as soon as the loop is free. Nudges coalesce.
func (p *Poller) Nudge() {
	select {
	case p.nudge <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for an in-progress tick to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Poller) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel, p.done = nil, nil
}

// Active is the number of running loops, zero or one.
func (p *Poller) Active() int {
	return int(p.active.Load())
}
