package candb

import (
	"fmt"
	"math"
	"time"

	"go.einride.tech/can/pkg/dbc"
	"go.einride.tech/can/pkg/descriptor"
)

const (
	attrCycleTime  = "GenMsgCycleTime"
	attrStartValue = "GenSigStartValue"

	independentSignalsMessage = "VECTOR__INDEPENDENT_SIG_MSG"
)

// ParseDBC builds a database from DBC source. Cycle times come from GenMsgCycleTime and
// initial signal values from GenSigStartValue attributes.
func ParseDBC(filename string, data []byte) (*Database, error) {
	p := dbc.NewParser(filename, data)
	if err := p.Parse(); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}

	var messages []*Message
	byID := make(map[dbc.MessageID]*Message)
	for _, def := range p.Defs() {
		md, ok := def.(*dbc.MessageDef)
		if !ok || md.Name == independentSignalsMessage {
			continue
		}
		m := &Message{
			Name:     string(md.Name),
			ID:       md.MessageID.ToCAN(),
			Extended: md.MessageID.IsExtended(),
			Length:   uint8(md.Size),
			Sender:   string(md.Transmitter),
		}
		for _, sd := range md.Signals {
			m.Signals = append(m.Signals, &Signal{
				Signal: &descriptor.Signal{
					Name:             string(sd.Name),
					Start:            uint8(sd.StartBit),
					Length:           uint8(sd.Size),
					IsBigEndian:      sd.IsBigEndian,
					IsSigned:         sd.IsSigned,
					IsMultiplexer:    sd.IsMultiplexerSwitch,
					IsMultiplexed:    sd.IsMultiplexed,
					MultiplexerValue: uint(sd.MultiplexerSwitch),
					Offset:           sd.Offset,
					Scale:            sd.Factor,
					Min:              sd.Minimum,
					Max:              sd.Maximum,
					Unit:             sd.Unit,
				},
			})
		}
		byID[md.MessageID] = m
		messages = append(messages, m)
	}

	for _, def := range p.Defs() {
		ad, ok := def.(*dbc.AttributeValueForObjectDef)
		if !ok {
			continue
		}
		m, ok := byID[ad.MessageID]
		if !ok {
			continue
		}
		switch {
		case ad.ObjectType == dbc.ObjectTypeMessage && ad.AttributeName == attrCycleTime:
			m.CycleTime = time.Duration(attributeInt(ad)) * time.Millisecond
		case ad.ObjectType == dbc.ObjectTypeSignal && ad.AttributeName == attrStartValue:
			for _, s := range m.Signals {
				if s.Name == string(ad.SignalName) {
					s.SetInitial(attributeInt(ad))
				}
			}
		}
	}
	return New(filename, messages...)
}

func attributeInt(ad *dbc.AttributeValueForObjectDef) int64 {
	if ad.IntValue != 0 {
		return ad.IntValue
	}
	return int64(math.Round(ad.FloatValue))
}
