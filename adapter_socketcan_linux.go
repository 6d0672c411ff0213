//go:build linux

package ttcan

import (
	"context"
	"fmt"
	"net"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "SocketCAN",
		Description:        "Linux SocketCAN interface, port is the interface name (can0, vcan0)",
		RequiresSerialPort: false,
		New:                NewSocketCAN,
	}); err != nil {
		panic(err)
	}
}

type SocketCAN struct {
	*BaseAdapter
	d      *candevice.Device
	ownsUp bool
	conn   net.Conn
	tx     *socketcan.Transmitter
	rx     *socketcan.Receiver
}

func NewSocketCAN(cfg *AdapterConfig) (Adapter, error) {
	if cfg.Port == "" {
		cfg.Port = "can0"
	}
	return &SocketCAN{
		BaseAdapter: NewBaseAdapter("SocketCAN", cfg),
	}, nil
}

func (a *SocketCAN) Open(ctx context.Context) error {
	// Links that are already up (vcan, or configured by the system) are used as is,
	// otherwise bring the link up with the requested bitrate.
	if d, err := candevice.New(a.cfg.Port); err == nil {
		a.d = d
		up, err := d.IsUp()
		if err != nil {
			return fmt.Errorf("socketcan %s: %w", a.cfg.Port, err)
		}
		if !up {
			if err := d.SetBitrate(uint32(a.cfg.CANRate * 1000)); err != nil {
				return fmt.Errorf("socketcan %s: set bitrate: %w", a.cfg.Port, err)
			}
			if err := d.SetUp(); err != nil {
				return fmt.Errorf("socketcan %s: set up: %w", a.cfg.Port, err)
			}
			a.ownsUp = true
		}
	}

	conn, err := socketcan.DialContext(ctx, "can", a.cfg.Port)
	if err != nil {
		return fmt.Errorf("socketcan dial: %w", err)
	}
	a.conn = conn
	a.tx = socketcan.NewTransmitter(conn)
	a.rx = socketcan.NewReceiver(conn)

	go a.recvManager(ctx)
	go a.sendManager(ctx)
	return nil
}

func (a *SocketCAN) Close() error {
	a.closeBase()
	var err error
	if a.conn != nil {
		err = a.conn.Close()
	}
	if a.ownsUp && a.d != nil {
		if derr := a.d.SetDown(); derr != nil && err == nil {
			err = derr
		}
	}
	return err
}

func (a *SocketCAN) recvManager(ctx context.Context) {
	for a.rx.Receive() {
		f := a.rx.Frame()
		frame := NewFrame(f.ID, f.Data[:f.Length], Incoming)
		frame.Extended = f.IsExtended
		select {
		case a.recvChan <- frame:
		case <-ctx.Done():
			return
		case <-a.closeChan:
			return
		default:
			a.sendWarningEvent(ErrDroppedFrame.Error())
		}
	}
	select {
	case <-a.closeChan:
	default:
		if err := a.rx.Err(); err != nil {
			a.setError(Unrecoverable(fmt.Errorf("socketcan receive: %w", err)))
		}
	}
}

func (a *SocketCAN) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closeChan:
			return
		case f := <-a.sendChan:
			frame := can.Frame{
				ID:         f.Identifier,
				IsExtended: f.Extended || a.cfg.UseExtendedID,
				Length:     uint8(f.DLC()),
			}
			copy(frame.Data[:], f.Data)
			if err := frame.Validate(); err != nil {
				a.sendErrorEvent(err)
				continue
			}
			if err := a.tx.TransmitFrame(ctx, frame); err != nil {
				a.sendErrorEvent(fmt.Errorf("send error: %w", err))
			}
		}
	}
}
