package tt

import (
	"context"
	"time"

	"github.com/roffe/ttcan"
)

// Stopper ends a periodic transmission. Stop is called exactly once per successful Start
// and returns the first send failure seen while the frame was armed.
type Stopper interface {
	Stop() error
}

// Transmitter arms periodic transmission of one frame at a time.
type Transmitter interface {
	Start(ctx context.Context, frame *ttcan.CANFrame, period time.Duration) (Stopper, error)
}

// Bus transmits through an open client.
type Bus struct {
	Client *ttcan.Client
}

func BusTransmitter(c *ttcan.Client) *Bus {
	return &Bus{Client: c}
}

func (b *Bus) Start(ctx context.Context, frame *ttcan.CANFrame, period time.Duration) (Stopper, error) {
	task, err := b.Client.SendPeriodic(ctx, frame, period)
	if err != nil {
		return nil, err
	}
	return task, nil
}
