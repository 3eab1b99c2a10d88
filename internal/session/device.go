package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"datalink-sync/internal/encoder"
	"datalink-sync/internal/form"
	"datalink-sync/internal/model"
	"datalink-sync/internal/normalize"
	"datalink-sync/internal/transmit"
)

// Preview is the normalized request together with what would be sent.
type Preview struct {
	Request  *model.Request             `json:"request"`
	Problems normalize.ValidationErrors `json:"problems,omitempty"`
	// Packets are hex encoded. Empty when no encoder is configured or the
	// encoder failed; EncodeError says which.
	Packets     []string      `json:"packets,omitempty"`
	Bytes       int           `json:"bytes"`
	Duration    time.Duration `json:"duration_ns"`
	DupSlots    []int         `json:"duplicate_alarm_slots,omitempty"`
	EncodeError string        `json:"encode_error,omitempty"`
}

// Request normalizes the current form. The request is always usable;
// problems lists the sections left out of it.
func (s *Session) Request() (*model.Request, normalize.ValidationErrors) {
	st, _ := s.snapshot()
	return s.RequestFor(st)
}

// RequestFor normalizes st with the session's payloads. st is not stored,
// which lets one-off runs adjust a copy of the form.
func (s *Session) RequestFor(st *form.State) (*model.Request, normalize.ValidationErrors) {
	_, payloads := s.snapshot()
	req, err := s.norm.Build(st, payloads)
	var verrs normalize.ValidationErrors
	if err != nil {
		errors.As(err, &verrs)
	}
	return req, verrs
}

// Preview builds the request and runs the encoder without touching the
// device.
func (s *Session) Preview(ctx context.Context) *Preview {
	st, _ := s.snapshot()
	return s.PreviewFor(ctx, st)
}

// PreviewFor is Preview for a form that is not stored.
func (s *Session) PreviewFor(ctx context.Context, st *form.State) *Preview {
	req, problems := s.RequestFor(st)
	p := &Preview{Request: req, Problems: problems}
	if req.IncludeAlarms {
		p.DupSlots = normalize.DuplicateSlots(req.Alarms)
	}

	packets, err := s.encode(ctx, req)
	if err != nil {
		p.EncodeError = err.Error()
		return p
	}
	for _, pkt := range packets {
		p.Packets = append(p.Packets, hex.EncodeToString(pkt))
		p.Bytes += len(pkt)
	}
	byteInterval, packetInterval := s.driver.Pacing()
	p.Duration = transmit.Duration(packets, byteInterval, packetInterval)
	return p
}

func (s *Session) encode(ctx context.Context, req *model.Request) ([][]byte, error) {
	if s.enc == nil {
		return nil, encoder.ErrNoEncoder
	}
	return s.enc.Encode(ctx, req)
}

// DeviceStatus describes the driver for the UI.
type DeviceStatus struct {
	Device    string `json:"device"`
	State     string `json:"state"`
	ByteMS    int64  `json:"byte_interval_ms"`
	PacketMS  int64  `json:"packet_interval_ms"`
	LastError string `json:"last_error,omitempty"`
}

func (s *Session) DeviceStatus() DeviceStatus {
	byteInterval, packetInterval := s.driver.Pacing()
	ds := DeviceStatus{
		Device:   s.driver.Device(),
		State:    s.driver.State().String(),
		ByteMS:   byteInterval.Milliseconds(),
		PacketMS: packetInterval.Milliseconds(),
	}
	if err := s.driver.LastError(); err != nil {
		ds.LastError = err.Error()
	}
	return ds
}

func (s *Session) Connect(ctx context.Context) error {
	if err := s.driver.Connect(ctx); err != nil {
		s.report(LevelError, "Connect failed: %v", err)
		return err
	}
	s.report(LevelSuccess, "Connected to %s", s.driver.Device())
	return nil
}

func (s *Session) Disconnect() error {
	if err := s.driver.Disconnect(); err != nil {
		s.report(LevelError, "Disconnect failed: %v", err)
		return err
	}
	s.report(LevelInfo, "Disconnected")
	return nil
}

// SendResult summarizes a completed send.
type SendResult struct {
	Packets  int                        `json:"packets"`
	Bytes    int                        `json:"bytes"`
	Took     time.Duration              `json:"took_ns"`
	Problems normalize.ValidationErrors `json:"problems,omitempty"`
}

// Send normalizes the form, encodes it and transmits the packets. Invalid
// sections are reported and left out; the rest is still sent. The device
// must already be connected.
func (s *Session) Send(ctx context.Context) (*SendResult, error) {
	st, _ := s.snapshot()
	return s.SendFor(ctx, st)
}

// SendFor is Send for a form that is not stored.
func (s *Session) SendFor(ctx context.Context, f *form.State) (*SendResult, error) {
	if st := s.driver.State(); st != transmit.Connected {
		err := transmit.ErrNotConnected
		if st == transmit.Sending {
			err = transmit.ErrBusy
		}
		s.report(LevelError, "Send failed: %v", err)
		return nil, err
	}

	req, problems := s.RequestFor(f)
	for _, p := range problems {
		s.report(LevelWarn, "Not sending %s: %v", p.Section, p)
	}
	if req.IncludeAlarms {
		if dups := normalize.DuplicateSlots(req.Alarms); len(dups) > 0 {
			s.report(LevelWarn, "Alarm slots used more than once: %v", dups)
		}
	}

	packets, err := s.encode(ctx, req)
	if err != nil {
		err = fmt.Errorf("encode: %w", err)
		s.report(LevelError, "Send failed: %v", err)
		return nil, err
	}

	total := 0
	for _, p := range packets {
		total += len(p)
	}
	s.report(LevelInfo, "Sending %d packets (%d bytes)", len(packets), total)

	start := time.Now()
	if err := s.driver.Send(ctx, packets); err != nil {
		var terr *transmit.TransmissionError
		if errors.As(err, &terr) {
			s.report(LevelError, "Transmission stopped after %d of %d packets: %v", terr.Packets, len(packets), terr.Err)
		} else {
			s.report(LevelError, "Send failed: %v", err)
		}
		return nil, err
	}

	res := &SendResult{Packets: len(packets), Bytes: total, Took: time.Since(start), Problems: problems}
	s.report(LevelSuccess, "Sent %d packets (%d bytes)", res.Packets, res.Bytes)
	return res, nil
}
