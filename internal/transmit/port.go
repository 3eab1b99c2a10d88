package transmit

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"
)

// Port is the write side of an open device.
type Port interface {
	io.Writer
	Close() error
}

// Opener opens the device when the driver connects.
type Opener func() (Port, error)

// packetEnder is implemented by ports that want to know packet boundaries.
type packetEnder interface {
	EndPacket()
}

// OpenSerial returns an Opener for a serial device at baud, 8N1.
func OpenSerial(name string, baud int) Opener {
	return func() (Port, error) {
		mode := &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(name, mode)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}

		// USB CDC ACM adapters need DTR/RTS asserted to pass data through.
		_ = port.SetDTR(true)
		_ = port.SetRTS(true)
		return port, nil
	}
}

// Ports lists the serial devices present on the system.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

// OpenPreview returns an Opener whose port logs a hex dump of every packet
// instead of writing to hardware.
func OpenPreview(logger *slog.Logger) Opener {
	return func() (Port, error) {
		return &previewPort{logger: logger}, nil
	}
}

type previewPort struct {
	logger *slog.Logger

	mu     sync.Mutex
	buf    []byte
	packet int
}

func (p *previewPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.buf = append(p.buf, b...)
	p.mu.Unlock()
	return len(b), nil
}

func (p *previewPort) EndPacket() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.packet++
	p.logger.Info("preview packet", "n", p.packet, "len", len(p.buf), "data", fmt.Sprintf("% X", p.buf))
	p.buf = p.buf[:0]
}

func (p *previewPort) Close() error { return nil }
