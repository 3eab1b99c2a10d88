// Package transmit drives the paced one-way serial link to the watch.
//
// Bytes are written one at a time with a fixed suspension after each byte
// and a longer one after each packet. There is no read path and no
// acknowledgement; the receiver is assumed to keep up at the configured
// pace.
package transmit

import (
	"errors"
	"fmt"
	"time"
)

// Default link parameters.
const (
	DefaultBaudRate       = 9600
	DefaultByteInterval   = 14 * time.Millisecond
	DefaultPacketInterval = 80 * time.Millisecond

	// DefaultWriteTimeout bounds a single byte write. One byte takes about
	// a millisecond on the wire at 9600 baud.
	DefaultWriteTimeout = 2 * time.Second
)

var (
	// ErrBusy is returned when a send is already in progress.
	ErrBusy = errors.New("transmit: send in progress")
	// ErrNotConnected is returned by Send when no device is connected.
	ErrNotConnected = errors.New("transmit: not connected")
	// ErrHandleHeld is wrapped in the ConnectionError returned by Connect
	// when another driver in this process already holds the serial handle.
	ErrHandleHeld = errors.New("transmit: serial handle already held")
	// ErrWriteStalled is wrapped in a TransmissionError when a byte write
	// does not return within the write timeout.
	ErrWriteStalled = errors.New("transmit: write stalled")
)

// State of the driver.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Sending
	Disconnecting
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Sending:
		return "sending"
	case Disconnecting:
		return "disconnecting"
	case Error:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnectionError reports a device that could not be opened.
type ConnectionError struct {
	Device string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Device, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransmissionError reports an aborted send. Packets is the number of
// packets fully delivered and Bytes the total bytes written.
type TransmissionError struct {
	Packets int
	Bytes   int
	Err     error
}

func (e *TransmissionError) Error() string {
	return fmt.Sprintf("transmission aborted after %d packets (%d bytes): %v", e.Packets, e.Bytes, e.Err)
}

func (e *TransmissionError) Unwrap() error { return e.Err }

// Progress is reported after every delivered packet.
type Progress struct {
	Packet  int // 1-based index of the packet just delivered
	Packets int
	Bytes   int
}

// Duration returns how long sending packets takes at the given pacing.
func Duration(packets [][]byte, byteInterval, packetInterval time.Duration) time.Duration {
	var d time.Duration
	for _, p := range packets {
		d += time.Duration(len(p))*byteInterval + packetInterval
	}
	return d
}
