package ttcan

import (
	"context"
	"sync/atomic"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "Virtual",
		Description:        "Loopback adapter, every sent frame is echoed back",
		RequiresSerialPort: false,
		New:                NewVirtual,
	}); err != nil {
		panic(err)
	}
}

// Virtual is a loopback adapter used for dry runs and tests.
type Virtual struct {
	*BaseAdapter
	sent atomic.Uint64
}

func NewVirtual(cfg *AdapterConfig) (Adapter, error) {
	return &Virtual{
		BaseAdapter: NewBaseAdapter("Virtual", cfg),
	}, nil
}

func (v *Virtual) Open(ctx context.Context) error {
	go v.sendManager(ctx)
	return nil
}

func (v *Virtual) Close() error {
	v.closeBase()
	return nil
}

// Sent returns the number of frames accepted since Open.
func (v *Virtual) Sent() uint64 {
	return v.sent.Load()
}

func (v *Virtual) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.closeChan:
			return
		case frame := <-v.sendChan:
			v.sent.Add(1)
			echo := frame.Clone()
			echo.FrameType = Incoming
			select {
			case v.recvChan <- echo:
			default:
				v.sendWarningEvent(ErrDroppedFrame.Error())
			}
		}
	}
}
