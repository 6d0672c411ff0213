package ttcan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stuckAdapter never drains its send channel, like a bus that lost arbitration forever.
type stuckAdapter struct {
	send   chan *CANFrame
	recv   chan *CANFrame
	errs   chan error
	events chan Event
	closed atomic.Bool
}

func newStuckAdapter() *stuckAdapter {
	return &stuckAdapter{
		send:   make(chan *CANFrame),
		recv:   make(chan *CANFrame),
		errs:   make(chan error, 1),
		events: make(chan Event, 10),
	}
}

func (a *stuckAdapter) Name() string               { return "stuck" }
func (a *stuckAdapter) Open(context.Context) error { return nil }
func (a *stuckAdapter) Close() error               { a.closed.Store(true); return nil }
func (a *stuckAdapter) Send() chan<- *CANFrame     { return a.send }
func (a *stuckAdapter) Recv() <-chan *CANFrame     { return a.recv }
func (a *stuckAdapter) Err() <-chan error          { return a.errs }
func (a *stuckAdapter) Event() <-chan Event        { return a.events }

type frameCounter struct {
	mu     sync.Mutex
	frames []*CANFrame
}

func (fc *frameCounter) tap(f *CANFrame) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.frames = append(fc.frames, f)
}

func (fc *frameCounter) len() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.frames)
}

func newVirtualClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	adapter, err := NewAdapter("virtual", &AdapterConfig{CANRate: DefaultCANRate})
	require.NoError(t, err)
	c, err := New(context.Background(), adapter, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSendPeriodic_RetransmitsUntilStopped(t *testing.T) {
	fc := &frameCounter{}
	c := newVirtualClient(t, WithTap(fc.tap))

	frame := NewFrame(0x123, []byte{1, 2, 3, 4, 5, 6, 7, 8}, Outgoing)
	task, err := c.SendPeriodic(context.Background(), frame, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, fc.len(), "first frame must be sent synchronously")

	require.Eventually(t, func() bool { return fc.len() >= 4 }, time.Second, time.Millisecond)
	require.NoError(t, task.Stop())

	stopped := fc.len()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, fc.len(), "no frames after Stop")
	assert.Equal(t, uint64(stopped), task.Sent())
	assert.Nil(t, c.Active())

	for _, f := range fc.frames {
		assert.Equal(t, uint32(0x123), f.Identifier)
		assert.Equal(t, Outgoing, f.FrameType)
		assert.False(t, f.Extended)
	}
}

func TestSendPeriodic_OneTaskAtATime(t *testing.T) {
	c := newVirtualClient(t)
	frame := NewFrame(0x100, make([]byte, 8), Outgoing)

	first, err := c.SendPeriodic(context.Background(), frame, 10*time.Millisecond)
	require.NoError(t, err)

	_, err = c.SendPeriodic(context.Background(), frame, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTaskActive)

	require.NoError(t, first.Stop())
	require.NoError(t, first.Stop(), "Stop is idempotent")

	second, err := c.SendPeriodic(context.Background(), frame, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, second.Stop())
}

func TestSendPeriodic_FirstSendTimeout(t *testing.T) {
	c, err := New(context.Background(), newStuckAdapter(), WithSendTimeout(10*time.Millisecond))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.SendPeriodic(context.Background(), NewFrame(0x7FF, make([]byte, 8), Outgoing), time.Millisecond)
	var timeout *SendTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, uint32(0x7FF), timeout.Identifier)
	assert.Nil(t, c.Active(), "failed start must not hold the channel")
}

func TestSendPeriodic_InvalidPeriod(t *testing.T) {
	c := newVirtualClient(t)
	_, err := c.SendPeriodic(context.Background(), NewFrame(0x1, nil, Outgoing), 0)
	require.Error(t, err)
}

func TestSend_RejectsInvalidFrames(t *testing.T) {
	c := newVirtualClient(t)
	require.ErrorIs(t, c.Send(NewFrame(0x800, make([]byte, 8), Outgoing)), ErrInvalidFrame)
	require.ErrorIs(t, c.Send(NewFrame(0x10, make([]byte, 9), Outgoing)), ErrInvalidFrame)
	require.NoError(t, c.Send(NewExtendedFrame(0x18DAF110, make([]byte, 8), Outgoing)))
}

func TestClient_FatalAdapterError(t *testing.T) {
	a := newStuckAdapter()
	var events []Event
	var mu sync.Mutex
	c, err := New(context.Background(), a, WithEventHandler(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}))
	require.NoError(t, err)
	defer c.Close()

	boom := Unrecoverable(errors.New("usb unplugged"))
	a.errs <- boom

	require.Eventually(t, func() bool { return c.Err() != nil }, time.Second, time.Millisecond)
	err = c.Send(NewFrame(0x1, nil, Outgoing))
	require.ErrorIs(t, err, boom)
	assert.False(t, IsRecoverable(err))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1 && events[0].Type == EventTypeError
	}, time.Second, time.Millisecond)
}

func TestClient_CloseStopsArmedTask(t *testing.T) {
	adapter, err := NewAdapter("Virtual", &AdapterConfig{})
	require.NoError(t, err)
	c, err := New(context.Background(), adapter)
	require.NoError(t, err)

	task, err := c.SendPeriodic(context.Background(), NewFrame(0x10, make([]byte, 8), Outgoing), time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Nil(t, c.Active())
	select {
	case <-task.done:
	default:
		t.Fatal("task goroutine still running after Close")
	}
	assert.ErrorIs(t, c.Send(NewFrame(0x10, nil, Outgoing)), ErrClientClosed)
}

func TestVirtual_Echo(t *testing.T) {
	got := make(chan *CANFrame, 1)
	c := newVirtualClient(t, WithRecv(func(f *CANFrame) {
		select {
		case got <- f:
		default:
		}
	}))

	require.NoError(t, c.Send(NewFrame(0x321, []byte{0xAA}, Outgoing)))
	select {
	case f := <-got:
		assert.Equal(t, uint32(0x321), f.Identifier)
		assert.Equal(t, []byte{0xAA}, f.Data)
		assert.Equal(t, Incoming, f.FrameType)
	case <-time.After(time.Second):
		t.Fatal("no echo from virtual adapter")
	}
	assert.Equal(t, uint64(1), c.Adapter().(*Virtual).Sent())
}
