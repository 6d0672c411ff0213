package ttcan

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// PeriodicTask keeps one frame alive on the bus.
type PeriodicTask struct {
	c      *Client
	frame  *CANFrame
	period time.Duration
	sent   atomic.Uint64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

func newPeriodicTask(c *Client, frame *CANFrame, period time.Duration) *PeriodicTask {
	return &PeriodicTask{
		c:      c,
		frame:  frame,
		period: period,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (t *PeriodicTask) Frame() *CANFrame {
	return t.frame.Clone()
}

func (t *PeriodicTask) Period() time.Duration {
	return t.period
}

// Sent returns how many times the frame was handed to the adapter.
func (t *PeriodicTask) Sent() uint64 {
	return t.sent.Load()
}

func (t *PeriodicTask) run(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.c.Send(t.frame); err != nil {
				t.fail(err)
				if !IsRecoverable(err) || err == ErrClientClosed {
					return
				}
				continue
			}
			t.sent.Add(1)
		}
	}
}

func (t *PeriodicTask) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

// Err returns the first transmit failure seen after the task was armed.
func (t *PeriodicTask) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Stop halts retransmission and frees the channel for the next task.
// It blocks until the sender goroutine is gone and is safe to call more than once.
func (t *PeriodicTask) Stop() error {
	t.stopOnce.Do(func() {
		close(t.stop)
		<-t.done
		t.c.release(t)
	})
	return t.Err()
}
