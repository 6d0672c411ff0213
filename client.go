package ttcan

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

const DefaultSendTimeout = 500 * time.Millisecond

// Client owns one opened adapter for the duration of a run.
type Client struct {
	adapter     Adapter
	sendTimeout time.Duration
	tap         func(*CANFrame)
	onRecv      func(*CANFrame)
	onEvent     func(Event)

	mu     sync.Mutex
	err    error
	closed bool
	task   *PeriodicTask

	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

type Option func(*Client)

// WithTap registers fn to be called with every frame the adapter accepted for transmission.
func WithTap(fn func(*CANFrame)) Option {
	return func(c *Client) {
		c.tap = fn
	}
}

// WithRecv registers fn for incoming frames. Without it incoming frames are drained and dropped.
func WithRecv(fn func(*CANFrame)) Option {
	return func(c *Client) {
		c.onRecv = fn
	}
}

func WithEventHandler(fn func(Event)) Option {
	return func(c *Client) {
		c.onEvent = fn
	}
}

func WithSendTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.sendTimeout = timeout
	}
}

// New opens the adapter and returns a client for it. Close must be called to release the channel.
func New(ctx context.Context, adapter Adapter, opts ...Option) (*Client, error) {
	if adapter == nil {
		return nil, ErrNilAdapter
	}
	c := &Client{
		adapter:     adapter,
		sendTimeout: DefaultSendTimeout,
		onEvent: func(e Event) {
			log.Println(e.String())
		},
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	cctx, cancel := context.WithCancel(ctx)
	if err := adapter.Open(cctx); err != nil {
		cancel()
		return nil, err
	}
	c.cancel = cancel
	go c.pump(cctx)
	return c, nil
}

func (c *Client) Adapter() Adapter {
	return c.adapter
}

// Err returns the fatal adapter error, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) state() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.err
}

// Send puts a single frame on the bus.
func (c *Client) Send(frame *CANFrame) error {
	if err := c.state(); err != nil {
		return err
	}
	if frame.DLC() > PayloadSize || (!frame.Extended && frame.Identifier > MaxStandardID) {
		return ErrInvalidFrame
	}
	f := frame.Clone()
	f.FrameType = Outgoing

	t := time.NewTimer(c.sendTimeout)
	defer t.Stop()
	select {
	case c.adapter.Send() <- f:
		if c.tap != nil {
			c.tap(f)
		}
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-t.C:
		return &SendTimeoutError{Timeout: c.sendTimeout, Identifier: f.Identifier}
	}
}

// SendPeriodic sends frame once right away and then every period until the returned task
// is stopped. Only one task can be armed at a time.
func (c *Client) SendPeriodic(ctx context.Context, frame *CANFrame, period time.Duration) (*PeriodicTask, error) {
	if period <= 0 {
		return nil, errors.New("period must be positive")
	}
	task := newPeriodicTask(c, frame.Clone(), period)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if c.task != nil {
		c.mu.Unlock()
		return nil, ErrTaskActive
	}
	c.task = task
	c.mu.Unlock()

	if err := c.Send(task.frame); err != nil {
		c.release(task)
		return nil, err
	}
	task.sent.Add(1)
	go task.run(ctx)
	return task, nil
}

// Active returns the armed periodic task or nil.
func (c *Client) Active() *PeriodicTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.task
}

func (c *Client) release(task *PeriodicTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task == task {
		c.task = nil
	}
}

func (c *Client) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case err := <-c.adapter.Err():
			if err == nil {
				continue
			}
			c.mu.Lock()
			if c.err == nil {
				c.err = err
			}
			task := c.task
			c.mu.Unlock()
			if task != nil {
				task.fail(err)
			}
			c.onEvent(Event{Type: EventTypeError, Details: err.Error()})
		case evt := <-c.adapter.Event():
			if evt.Type == EventTypeError {
				if task := c.Active(); task != nil {
					task.fail(errors.New(evt.Details))
				}
			}
			c.onEvent(evt)
		case frame := <-c.adapter.Recv():
			if c.onRecv != nil {
				c.onRecv(frame)
			}
		}
	}
}

// Close stops any armed task and releases the adapter. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		task := c.task
		c.mu.Unlock()
		close(c.done)
		if task != nil {
			task.Stop()
		}
		c.cancel()
		err = c.adapter.Close()
	})
	return err
}
