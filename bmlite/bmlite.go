// Package bmlite implements a driver for the BM Lite family of
// fingerprint sensor modules, reached over a synchronous four-wire
// bus (clock, data-in, data-out, chip-select) plus a reset output and
// a ready/interrupt input.
//
// The sensor performs enrollment and matching itself; this package is
// concerned with the framed request/response protocol that rides on
// top of the bus: a transport frame with a length prefix and a
// trailing CRC-32, a handshake acknowledgement, and an argument-tagged
// application payload.
package bmlite

import (
	"context"
	"errors"
	"fmt"
)

// Bus performs a full-duplex exchange on the underlying peripheral
// bus. buf's contents are transmitted and then overwritten in place
// with the bytes received. A single call to Transfer is atomic.
type Bus interface {
	Transfer(buf []byte) error
}

// OutPin is a digital output line (chip-select or reset).
type OutPin interface {
	SetLow()
	SetHigh()
}

// InPin is a digital input line (the ready/interrupt line).
type InPin interface {
	IsLow() bool
	IsHigh() bool
}

// Sentinel errors returned by Device operations. Bus errors are never
// folded into these; they are returned wrapped with additional context
// instead, so callers can still unwrap them. OutPin and InPin report no
// errors.
var (
	// ErrUnexpectedResponse covers framing violations: a bad command
	// echo, an argument whose length runs past the frame, a missing
	// magic acknowledgement, a missing ArgResult, or a multi-frame
	// response (which this driver does not support).
	ErrUnexpectedResponse = errors.New("bmlite: unexpected response")
	// ErrTimeout is returned when the bounded ready-line wait in the
	// first handshake phase is exceeded, or when a context installed
	// with WithContext is done during the response wait.
	ErrTimeout = errors.New("bmlite: timeout waiting for sensor")
	// ErrCRC is returned when an inbound frame's trailing CRC-32 does
	// not verify against its body.
	ErrCRC = errors.New("bmlite: CRC mismatch")
	// ErrNoMatch is returned by Identify and DoIdentify when the
	// sensor reports no match for the captured fingerprint.
	ErrNoMatch = errors.New("bmlite: no match")
)

// Device drives one BM Lite sensor over its bus and two control
// lines. A Device owns no heap buffers between exchanges; every
// exchange allocates its transmit/receive bytes transiently. Two
// Device instances must never share a bus concurrently — this is not
// detected by the driver.
type Device struct {
	bus Bus
	cs  OutPin
	rst OutPin
	rdy InPin
	ctx context.Context
}

// New creates a driver around an already-configured bus and the three
// GPIO lines it needs: chip-select, reset and ready.
func New(bus Bus, cs, rst OutPin, rdy InPin) *Device {
	return &Device{bus: bus, cs: cs, rst: rst, rdy: rdy}
}

// WithContext returns a shallow copy of d whose S3 response wait (see
// link) additionally observes ctx's cancellation. This is a host-side
// convenience layered over the spin-poll; it changes nothing about the
// wire protocol, and the original Device is left untouched. Passing a
// context that is never done (such as context.Background()) is
// equivalent to not calling WithContext at all.
func (d *Device) WithContext(ctx context.Context) *Device {
	d2 := *d
	d2.ctx = ctx
	return &d2
}

// Close releases the Device's references to its handles. It does not
// touch the hardware; ownership of the bus and pins reverts to the
// caller, who is responsible for closing them if they need closing.
func (d *Device) Close() {
	d.bus, d.cs, d.rst, d.rdy = nil, nil, nil, nil
}

// Reset pulses the sensor's reset line: low, then the caller-supplied
// delay, then high. It performs no bus I/O.
func (d *Device) Reset(delay func()) {
	d.rst.SetLow()
	delay()
	d.rst.SetHigh()
}

// exchange builds the request with build, drives one full command
// exchange over the bus, and walks the response with the given
// command code and visitor. It is the build → exchange → walk recipe
// shared by every command in commands.go.
func (d *Device) exchange(cmd uint16, build func(f *Frame), visit func(tag uint16, value []byte)) error {
	f := NewFrame()
	f.SetCommand(cmd)
	if build != nil {
		build(f)
	}
	req, err := f.Finish()
	if err != nil {
		return err
	}
	resp, err := d.link(req)
	if err != nil {
		return err
	}
	return walkArgs(resp, cmd, visit)
}

// link performs the S0..S9 bus choreography, one phase per commented
// step below, and returns the application payload (body after the
// 6-byte sequence/argcount/command-echo header) on success.
func (d *Device) link(req []byte) ([]byte, error) {
	// S0: send the request.
	if err := d.transfer(req); err != nil {
		return nil, fmt.Errorf("bmlite: send request: %w", err)
	}

	// S1: wait for the sensor to signal it has the acknowledgement
	// ready, bounded so a dead sensor doesn't hang the caller forever.
	if !d.waitReady(s1MaxPolls) {
		return nil, ErrTimeout
	}

	// S2: read and verify the handshake acknowledgement.
	ack := make([]byte, 4)
	if err := d.transfer(ack); err != nil {
		return nil, fmt.Errorf("bmlite: read ack: %w", err)
	}
	if !isAckMagic(ack) {
		return nil, fmt.Errorf("%w: bad ack magic %x", ErrUnexpectedResponse, ack)
	}

	// S3: wait for the response itself. Unbounded by default: most
	// BM Lite operations (enrollment capture in particular) have no
	// natural deadline. See DESIGN.md for the Open Question resolution.
	// A context installed via WithContext lets a caller bound this wait
	// without changing the wire semantics for callers that don't.
	if d.ctx != nil {
		if err := d.waitReadyContext(d.ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	} else {
		d.waitReady(-1)
	}

	// S4: read the 4-byte transport header (channel, size).
	hdr := make([]byte, 4)
	if err := d.transfer(hdr); err != nil {
		return nil, fmt.Errorf("bmlite: read header: %w", err)
	}
	transportSize := 4 + int(hdr[2])

	// S5: read the frame body.
	body := make([]byte, transportSize)
	if err := d.transfer(body); err != nil {
		return nil, fmt.Errorf("bmlite: read body: %w", err)
	}

	// S6: verify the trailing CRC-32.
	if transportSize < 4 {
		return nil, fmt.Errorf("%w: transport size %d too small", ErrUnexpectedResponse, transportSize)
	}
	got := crc32IEEE(body[:transportSize-4])
	want := readU32(body[transportSize-4:])
	if got != want {
		return nil, ErrCRC
	}

	// S7: send the terminating acknowledgement, fire-and-forget.
	term := []byte{ackMagic0, ackMagic1, ackMagic2, ackMagic3}
	if err := d.transfer(term); err != nil {
		return nil, fmt.Errorf("bmlite: send term ack: %w", err)
	}

	// S8: reject multi-frame responses.
	seqNum := readU16(body[2:])
	seqLen := readU16(body[4:])
	if seqNum != seqLen {
		return nil, fmt.Errorf("%w: multi-frame response (seq %d/%d)", ErrUnexpectedResponse, seqNum, seqLen)
	}

	// S9: the application payload starts after the 6-byte header.
	return body[6:], nil
}

// transfer wraps one CS-low/transfer/CS-high cycle.
func (d *Device) transfer(buf []byte) error {
	d.cs.SetLow()
	err := d.bus.Transfer(buf)
	d.cs.SetHigh()
	return err
}

// waitReady spin-polls the ready line until it goes non-low. maxPolls
// <= 0 means no bound. Returns false if the bound was exceeded.
func (d *Device) waitReady(maxPolls int) bool {
	for i := 0; maxPolls <= 0 || i < maxPolls; i++ {
		if !d.rdy.IsLow() {
			return true
		}
	}
	return false
}

// waitReadyContext polls the ready line exactly as waitReady does, but
// also observes ctx's cancellation each iteration.
func (d *Device) waitReadyContext(ctx context.Context) error {
	for {
		if !d.rdy.IsLow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

const s1MaxPolls = 500_000

const (
	ackMagic0 = 0x7F
	ackMagic1 = 0xFF
	ackMagic2 = 0x01
	ackMagic3 = 0x7F
)

func isAckMagic(b []byte) bool {
	return len(b) == 4 && b[0] == ackMagic0 && b[1] == ackMagic1 && b[2] == ackMagic2 && b[3] == ackMagic3
}
