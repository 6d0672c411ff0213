package tt

import (
	"fmt"

	"github.com/roffe/ttcan"
	"github.com/roffe/ttcan/pkg/candb"
)

// Synthesizer turns resolved values into frames, honoring an override table.
type Synthesizer struct {
	Overrides OverrideTable
}

func NewSynthesizer(overrides OverrideTable) *Synthesizer {
	return &Synthesizer{Overrides: overrides}
}

// Synthesize builds a standard addressed frame with an 8 byte payload. raw is the value
// text of the test case and is what override rules match on.
func (s *Synthesizer) Synthesize(msg *candb.Message, values candb.Values, raw string) (*ttcan.CANFrame, error) {
	if msg.Extended || msg.ID > ttcan.MaxStandardID {
		return nil, fmt.Errorf("%w: %s id 0x%X cannot be sent with standard addressing", candb.ErrEncode, msg.Name, msg.ID)
	}
	payload, ok := s.Overrides.Payload(msg.Name, raw)
	if !ok {
		var err error
		if payload, err = msg.Encode(values); err != nil {
			return nil, err
		}
	}
	return ttcan.NewFrame(msg.ID, payload, ttcan.Outgoing), nil
}
