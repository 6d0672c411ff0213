package ttcan

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "SLCan",
		Description:        "Lawicel / Canable SLCAN serial adapter",
		RequiresSerialPort: true,
		New:                NewSLCan,
	}); err != nil {
		panic(err)
	}
}

const (
	slcanBell         = 0x07
	slcanDefaultSpeed = 115200
)

var slcanRates = map[float64]string{
	10:   "S0",
	20:   "S1",
	50:   "S2",
	100:  "S3",
	125:  "S4",
	250:  "S5",
	500:  "S6",
	800:  "S7",
	1000: "S8",
}

type SLCan struct {
	*BaseAdapter
	port   serial.Port
	closed bool
}

func NewSLCan(cfg *AdapterConfig) (Adapter, error) {
	if _, ok := slcanRates[cfg.CANRate]; !ok {
		return nil, fmt.Errorf("slcan: unsupported CAN rate %g kbit/s", cfg.CANRate)
	}
	return &SLCan{
		BaseAdapter: NewBaseAdapter("SLCan", cfg),
	}, nil
}

func (sl *SLCan) Open(ctx context.Context) error {
	baud := sl.cfg.PortBaudrate
	if baud == 0 {
		baud = slcanDefaultSpeed
	}
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	// USB serial adapters frequently need a moment after enumeration before they can be opened.
	var p serial.Port
	err := retry.Do(func() error {
		var err error
		p, err = serial.Open(sl.cfg.Port, mode)
		if err != nil {
			return fmt.Errorf("failed to open com port %q: %w", sl.cfg.Port, err)
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			sl.cfg.OnMessage(fmt.Sprintf("retry #%d: %v", n+1, err))
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return err
	}
	if err := p.SetReadTimeout(3 * time.Millisecond); err != nil {
		p.Close()
		return err
	}
	sl.port = p

	p.ResetOutputBuffer()
	p.ResetInputBuffer()

	// close the channel in case the adapter was left open by a previous session
	if _, err := p.Write([]byte("C\r")); err != nil {
		p.Close()
		return fmt.Errorf("failed to write to com port: %w", err)
	}
	time.Sleep(10 * time.Millisecond)
	p.ResetInputBuffer()

	version, err := sl.handshake(ctx)
	if err != nil {
		p.Close()
		return err
	}
	sl.sendInfoEvent("SLCAN version " + version)

	for _, cmd := range []string{slcanRates[sl.cfg.CANRate], "O"} {
		if _, err := p.Write([]byte(cmd + "\r")); err != nil {
			p.Close()
			return fmt.Errorf("failed to write to com port: %w", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	go sl.sendManager(ctx)
	go sl.recvManager(ctx)
	return nil
}

// handshake asks for the hardware version and waits for the reply, proving there is an
// SLCAN device on the other end of the port.
func (sl *SLCan) handshake(ctx context.Context) (string, error) {
	var version string
	errg, _ := errgroup.WithContext(ctx)
	start := time.Now()
	errg.Go(func() error {
		readbuff := make([]byte, 8)
		buff := bytes.NewBuffer(nil)
		for time.Since(start) < 500*time.Millisecond {
			n, err := sl.port.Read(readbuff)
			if err != nil {
				if err == io.EOF {
					break
				}
				return err
			}
			for _, b := range readbuff[:n] {
				if b != '\r' {
					buff.WriteByte(b)
					continue
				}
				if line := buff.String(); len(line) > 0 && line[0] == 'V' {
					version = line[1:]
					return nil
				}
				buff.Reset()
			}
		}
		return errors.New("slcan: no version reply, is this an SLCAN adapter?")
	})
	if _, err := sl.port.Write([]byte("V\r")); err != nil {
		return "", fmt.Errorf("failed to write to com port: %w", err)
	}
	if err := errg.Wait(); err != nil {
		return "", err
	}
	return version, nil
}

func (sl *SLCan) Close() error {
	sl.closeBase()
	if sl.port == nil {
		return nil
	}
	sl.closed = true
	time.Sleep(10 * time.Millisecond)
	sl.port.Write([]byte("C\r"))
	time.Sleep(10 * time.Millisecond)
	return sl.port.Close()
}

func (sl *SLCan) recvManager(ctx context.Context) {
	buf := make([]byte, 0, 1024)
	readBuf := make([]byte, 16)
	for ctx.Err() == nil {
		n, err := sl.port.Read(readBuf)
		if err != nil {
			if !sl.closed {
				sl.setError(Unrecoverable(fmt.Errorf("failed to read com port: %w", err)))
			}
			return
		}
		if n == 0 {
			continue
		}
		buf = sl.parse(ctx, buf, readBuf[:n])
	}
}

func (sl *SLCan) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sl.closeChan:
			return
		case frame := <-sl.sendChan:
			out, err := encodeSLCAN(frame)
			if err != nil {
				sl.sendErrorEvent(err)
				continue
			}
			if _, err := sl.port.Write(out); err != nil {
				sl.setError(Unrecoverable(fmt.Errorf("failed to write to com port: %w", err)))
				return
			}
			if sl.cfg.Debug {
				log.Println(">> " + string(out[:len(out)-1]))
			}
		}
	}
}

func (sl *SLCan) parse(ctx context.Context, buf, readBuf []byte) []byte {
	for _, b := range readBuf {
		switch b {
		case slcanBell:
			sl.sendErrorEvent(errors.New("slcan: command rejected by adapter"))
			buf = buf[:0]
			continue
		case '\r':
		default:
			buf = append(buf, b)
			continue
		}
		if len(buf) == 0 {
			continue
		}
		switch buf[0] {
		case 't', 'T':
			if sl.cfg.Debug {
				log.Printf("<< %s", string(buf))
			}
			f, err := decodeSLCAN(buf)
			if err != nil {
				sl.cfg.OnMessage(fmt.Sprintf("%v: %X", err, buf))
				break
			}
			select {
			case sl.recvChan <- f:
			case <-ctx.Done():
				return buf[:0]
			default:
				sl.sendWarningEvent(ErrDroppedFrame.Error())
			}
		case 'z', 'Z':
			// transmit acknowledge
		default:
			sl.sendWarningEvent("unknown>> " + string(buf))
		}
		buf = buf[:0]
	}
	return buf
}

// encodeSLCAN renders a frame as an SLCAN transmit command,
// t<iii><l><dd..>\r for 11-bit and T<iiiiiiii><l><dd..>\r for 29-bit identifiers.
func encodeSLCAN(frame *CANFrame) ([]byte, error) {
	dlc := frame.DLC()
	if dlc > PayloadSize {
		return nil, fmt.Errorf("%w: DLC %d", ErrInvalidFrame, dlc)
	}
	buf := make([]byte, 0, 1+8+1+dlc*2+1)
	if frame.Extended {
		buf = append(buf, 'T')
		buf = append(buf, fmt.Sprintf("%08X", frame.Identifier&0x1FFFFFFF)...)
	} else {
		if frame.Identifier > MaxStandardID {
			return nil, fmt.Errorf("%w: identifier 0x%X does not fit 11 bits", ErrInvalidFrame, frame.Identifier)
		}
		buf = append(buf, 't')
		buf = append(buf, fmt.Sprintf("%03X", frame.Identifier)...)
	}
	buf = append(buf, nybbleToHex(byte(dlc)))
	for _, b := range frame.Data {
		buf = append(buf, nybbleToHex(b>>4), nybbleToHex(b&0xF))
	}
	return append(buf, '\r'), nil
}

func nybbleToHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

func decodeSLCAN(buff []byte) (*CANFrame, error) {
	idLen := 3
	if buff[0] == 'T' {
		idLen = 8
	}
	if len(buff) < 1+idLen+1 {
		return nil, fmt.Errorf("short frame %q", buff)
	}
	id, err := strconv.ParseUint(string(buff[1:1+idLen]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identifier: %v", err)
	}
	dataLen, err := strconv.ParseUint(string(buff[1+idLen]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data length: %v", err)
	}
	if dataLen > PayloadSize {
		return nil, fmt.Errorf("invalid data length: %d", dataLen)
	}
	body := buff[2+idLen:]
	if uint64(len(body)) < dataLen*2 {
		return nil, fmt.Errorf("frame body too short: %q", body)
	}
	data, err := hex.DecodeString(string(body[:dataLen*2]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame body: %v", err)
	}
	if buff[0] == 'T' {
		return NewExtendedFrame(uint32(id), data, Incoming), nil
	}
	return NewFrame(uint32(id), data, Incoming), nil
}
