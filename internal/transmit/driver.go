package transmit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// handleHeld is claimed by the driver that currently owns a device.
var handleHeld atomic.Bool

// Driver owns one device connection. It is safe for concurrent use; a
// second Send while one is running fails with ErrBusy.
type Driver struct {
	device string
	open   Opener
	sched  Scheduler
	logger *slog.Logger

	byteInterval   time.Duration
	packetInterval time.Duration
	writeTimeout   time.Duration

	onProgress func(Progress)
	onState    func(State)

	mu      sync.Mutex
	state   State
	port    Port
	lastErr error
}

// Option configures a Driver.
type Option func(*Driver)

// WithScheduler replaces the real-time scheduler.
func WithScheduler(s Scheduler) Option {
	return func(d *Driver) { d.sched = s }
}

// WithPacing overrides the per-byte and per-packet suspensions.
func WithPacing(byteInterval, packetInterval time.Duration) Option {
	return func(d *Driver) {
		d.byteInterval = byteInterval
		d.packetInterval = packetInterval
	}
}

// WithWriteTimeout bounds each byte write. A write still blocked after d
// fails the send and releases the device.
func WithWriteTimeout(d time.Duration) Option {
	return func(dr *Driver) { dr.writeTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithProgress registers a hook called after every delivered packet.
func WithProgress(fn func(Progress)) Option {
	return func(d *Driver) { d.onProgress = fn }
}

// WithStateHook registers a hook called on every state change. It runs
// without the driver lock held.
func WithStateHook(fn func(State)) Option {
	return func(d *Driver) { d.onState = fn }
}

// NewDriver creates a disconnected driver for device.
func NewDriver(device string, open Opener, opts ...Option) *Driver {
	d := &Driver{
		device:         device,
		open:           open,
		sched:          realScheduler{},
		logger:         slog.Default(),
		byteInterval:   DefaultByteInterval,
		packetInterval: DefaultPacketInterval,
		writeTimeout:   DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "transmit", "device", device)
	return d
}

// Device returns the configured device name.
func (d *Driver) Device() string { return d.device }

func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastError returns the error that last moved the driver to Error, if any.
func (d *Driver) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// Pacing returns the configured byte and packet intervals.
func (d *Driver) Pacing() (time.Duration, time.Duration) {
	return d.byteInterval, d.packetInterval
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	d.notify(s)
}

func (d *Driver) notify(s State) {
	if d.onState != nil {
		d.onState(s)
	}
}

// Connect opens the device. Connecting an already connected driver is a
// no-op.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case Connected:
		d.mu.Unlock()
		return nil
	case Disconnected:
	default:
		d.mu.Unlock()
		return ErrBusy
	}
	if !handleHeld.CompareAndSwap(false, true) {
		d.mu.Unlock()
		return &ConnectionError{Device: d.device, Err: ErrHandleHeld}
	}
	d.state = Connecting
	d.mu.Unlock()
	d.notify(Connecting)

	port, err := d.openPort(ctx)
	if err != nil {
		handleHeld.Store(false)
		d.mu.Lock()
		d.state = Disconnected
		d.lastErr = err
		d.mu.Unlock()
		d.notify(Disconnected)
		d.logger.Warn("connect failed", "err", err)
		return &ConnectionError{Device: d.device, Err: err}
	}

	d.mu.Lock()
	d.port = port
	d.state = Connected
	d.lastErr = nil
	d.mu.Unlock()
	d.notify(Connected)
	d.logger.Info("connected")
	return nil
}

func (d *Driver) openPort(ctx context.Context) (Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.open()
}

// Send writes every packet in order, pacing each byte and packet. A
// transport failure abandons the remaining packets and releases the
// device. Cancelling ctx aborts the send but keeps the device open.
func (d *Driver) Send(ctx context.Context, packets [][]byte) error {
	d.mu.Lock()
	switch d.state {
	case Connected:
	case Sending:
		d.mu.Unlock()
		return ErrBusy
	default:
		d.mu.Unlock()
		return ErrNotConnected
	}
	d.state = Sending
	port := d.port
	d.mu.Unlock()
	d.notify(Sending)

	start := time.Now()
	d.logger.Info("send started", "packets", len(packets),
		"estimate", Duration(packets, d.byteInterval, d.packetInterval))

	var delivered, written int
	for i, pkt := range packets {
		d.logger.Debug("packet", "n", i+1, "len", len(pkt), "data", fmt.Sprintf("% X", pkt))
		for _, b := range pkt {
			if err := ctx.Err(); err != nil {
				return d.abort(delivered, written, err)
			}
			if err := d.writeByte(port, b); err != nil {
				return d.fail(delivered, written, err)
			}
			written++
			if err := d.sched.Sleep(ctx, d.byteInterval); err != nil {
				return d.abort(delivered, written, err)
			}
		}
		if err := d.sched.Sleep(ctx, d.packetInterval); err != nil {
			return d.abort(delivered, written, err)
		}
		if pe, ok := port.(packetEnder); ok {
			pe.EndPacket()
		}
		delivered++
		if d.onProgress != nil {
			d.onProgress(Progress{Packet: delivered, Packets: len(packets), Bytes: written})
		}
	}

	d.setState(Connected)
	d.logger.Info("send complete", "packets", delivered, "bytes", written, "took", time.Since(start))
	return nil
}

// writeByte writes b, giving up after the write timeout. A stalled write
// is left to return when fail closes the port.
func (d *Driver) writeByte(port Port, b byte) error {
	done := make(chan error, 1)
	go func() {
		_, err := port.Write([]byte{b})
		done <- err
	}()

	timer := time.NewTimer(d.writeTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrWriteStalled, d.writeTimeout)
	}
}

// abort ends a cancelled send with the device still open.
func (d *Driver) abort(delivered, written int, err error) error {
	d.setState(Connected)
	d.logger.Warn("send cancelled", "packets", delivered, "bytes", written, "err", err)
	return &TransmissionError{Packets: delivered, Bytes: written, Err: err}
}

// fail handles a transport error: Error, then the device is released.
func (d *Driver) fail(delivered, written int, err error) error {
	terr := &TransmissionError{Packets: delivered, Bytes: written, Err: err}
	d.mu.Lock()
	d.state = Error
	d.lastErr = terr
	d.mu.Unlock()
	d.notify(Error)
	d.logger.Error("send failed", "packets", delivered, "bytes", written, "err", err)

	d.release()
	return terr
}

// Disconnect closes the device. It is idempotent and may be called from
// Connected or Error.
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	switch d.state {
	case Disconnected:
		d.mu.Unlock()
		return nil
	case Connected, Error:
	default:
		d.mu.Unlock()
		return ErrBusy
	}
	d.mu.Unlock()
	return d.release()
}

func (d *Driver) release() error {
	d.mu.Lock()
	d.state = Disconnecting
	port := d.port
	d.port = nil
	d.mu.Unlock()
	d.notify(Disconnecting)

	var err error
	if port != nil {
		err = port.Close()
	}
	handleHeld.Store(false)
	d.setState(Disconnected)
	if err != nil {
		d.logger.Warn("close failed", "err", err)
		return fmt.Errorf("close %s: %w", d.device, err)
	}
	d.logger.Info("disconnected")
	return nil
}
