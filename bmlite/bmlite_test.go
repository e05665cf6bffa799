package bmlite

import (
	"bytes"
	"errors"
	"testing"
)

// fakeBus replays a scripted sequence of (expected tx, reply rx)
// pairs, modeled after the reference driver's SPI transaction mock:
// each call to Transfer must send exactly the next expected bytes,
// and is answered with the next scripted reply of the same length.
type fakeBus struct {
	t     *testing.T
	steps [][2][]byte
	i     int
}

func (f *fakeBus) Transfer(buf []byte) error {
	if f.i >= len(f.steps) {
		f.t.Fatalf("unexpected transfer #%d: % x", f.i, buf)
	}
	step := f.steps[f.i]
	f.i++
	if !bytes.Equal(buf, step[0]) {
		f.t.Fatalf("transfer #%d: got % x, want % x", f.i-1, buf, step[0])
	}
	if len(step[1]) != len(buf) {
		f.t.Fatalf("transfer #%d: scripted reply length %d does not match buffer length %d", f.i-1, len(step[1]), len(buf))
	}
	copy(buf, step[1])
	return nil
}

func (f *fakeBus) done() {
	if f.i != len(f.steps) {
		f.t.Fatalf("only %d of %d scripted transfers were performed", f.i, len(f.steps))
	}
}

type fakePin struct{ low bool }

func (p *fakePin) SetLow()  { p.low = true }
func (p *fakePin) SetHigh() { p.low = false }
func (p *fakePin) IsLow() bool  { return p.low }
func (p *fakePin) IsHigh() bool { return !p.low }

// alwaysReady never reports low, so Device.waitReady returns
// immediately; the timing choreography of the ready line is not
// represented by the byte-vector scenarios below, only the bus
// traffic is.
type alwaysReady struct{}

func (alwaysReady) IsLow() bool  { return false }
func (alwaysReady) IsHigh() bool { return true }

func zeros(n int) []byte { return make([]byte, n) }

var ackMagic = []byte{0x7F, 0xFF, 0x01, 0x7F}

// genRequest builds the exact bytes Device.exchange would send for
// cmd, using the package's own Frame encoder, so scripted test
// transactions stay in lock-step with the production encoder instead
// of hand-computed CRCs.
func genRequest(t *testing.T, cmd uint16, build func(f *Frame)) []byte {
	f := NewFrame()
	f.SetCommand(cmd)
	if build != nil {
		build(f)
	}
	req, err := f.Finish()
	if err != nil {
		t.Fatalf("genRequest: %v", err)
	}
	return req
}

// tlv is one argument to encode into a scripted response body.
type tlv struct {
	tag   uint16
	value []byte
}

// genBody builds a well-formed response body (header + application
// payload + CRC) echoing cmd, for use as a scripted bus reply.
func genBody(cmd uint16, args ...tlv) []byte {
	body := []byte{0, 0, 1, 0, 1, 0} // seqnum=1, seqlen=1 (reserved bytes left zero)
	body = putU16(body, cmd)
	body = putU16(body, uint16(len(args)))
	for _, a := range args {
		body = putU16(body, a.tag)
		body = putU16(body, uint16(len(a.value)))
		body = append(body, a.value...)
	}
	crc := crc32IEEE(body)
	body = putU32(body, crc)
	return body
}

// genHeader builds the 4-byte transport header preceding a body of
// the given total length.
func genHeader(bodyLen int) []byte {
	return []byte{0, 0, byte(bodyLen - 4), 0}
}

func newTestDevice(t *testing.T, steps [][2][]byte) (*Device, *fakeBus) {
	bus := &fakeBus{t: t, steps: steps}
	dev := New(bus, &fakePin{}, &fakePin{}, alwaysReady{})
	return dev, bus
}

// captureExchange is the scripted transaction list for a single
// capture(0) call, taken verbatim from the reference implementation's
// test vectors.
func captureExchange() [][2][]byte {
	return [][2][]byte{
		{
			[]byte{0x01, 0x00, 0x0a, 0x00, 0x04, 0x00, 0x01, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x52, 0x7c, 0x2b, 0x55},
			zeros(18),
		},
		{zeros(4), ackMagic},
		{zeros(4), []byte{0x00, 0x00, 0x0F, 0x00}},
		{
			zeros(19),
			[]byte{0x09, 0x00, 0x01, 0x00, 0x01, 0x00, 0x01, 0x00, 0x01, 0x00, 0x01, 0x20, 0x01, 0x00, 0x00, 0x83, 0xe1, 0x25, 0x90},
		},
		{ackMagic, zeros(4)},
	}
}

func extractExchange(t *testing.T) [][2][]byte {
	req := genRequest(t, cmdExtract, func(f *Frame) { f.Arg(tagExtractMarker) })
	body := genBody(cmdExtract, tlv{ArgResult, []byte{0}})
	return [][2][]byte{
		{req, zeros(len(req))},
		{zeros(4), ackMagic},
		{zeros(4), genHeader(len(body))},
		{zeros(len(body)), body},
		{ackMagic, zeros(4)},
	}
}

func identifyExchange(t *testing.T, match byte, id uint16) [][2][]byte {
	idBytes := []byte{byte(id), byte(id >> 8)}
	body := genBody(cmdIdentify,
		tlv{ArgMatch, []byte{match}},
		tlv{ArgID, idBytes},
		tlv{ArgResult, []byte{0}},
	)
	req := genRequest(t, cmdIdentify, nil)
	return [][2][]byte{
		{req, zeros(len(req))},
		{zeros(4), ackMagic},
		{zeros(4), genHeader(len(body))},
		{zeros(len(body)), body},
		{ackMagic, zeros(4)},
	}
}

func deleteAllExchange(t *testing.T) [][2][]byte {
	req := genRequest(t, cmdTemplateStore, func(f *Frame) {
		f.Arg(tagDeleteAllStart)
		f.Arg(tagDeleteAllConfirm)
	})
	body := genBody(cmdTemplateStore, tlv{ArgResult, []byte{0}})
	return [][2][]byte{
		{req, zeros(len(req))},
		{zeros(4), ackMagic},
		{zeros(4), genHeader(len(body))},
		{zeros(len(body)), body},
		{ackMagic, zeros(4)},
	}
}

func TestCaptureSuccess(t *testing.T) {
	dev, bus := newTestDevice(t, captureExchange())
	got, err := dev.Capture(0)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if got != 0 {
		t.Fatalf("Capture returned %d, want 0", got)
	}
	bus.done()
}

func TestIdentifyMatched(t *testing.T) {
	steps := captureExchange()
	steps = append(steps, extractExchange(t)...)
	steps = append(steps, identifyExchange(t, 1, 1)...)
	dev, bus := newTestDevice(t, steps)
	id, err := dev.Identify()
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if id != 1 {
		t.Fatalf("Identify returned id %d, want 1", id)
	}
	bus.done()
}

func TestIdentifyNoMatch(t *testing.T) {
	steps := captureExchange()
	steps = append(steps, extractExchange(t)...)
	steps = append(steps, identifyExchange(t, 0, 1)...)
	dev, bus := newTestDevice(t, steps)
	_, err := dev.Identify()
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("Identify error = %v, want ErrNoMatch", err)
	}
	bus.done()
}

func TestDeleteAllSuccess(t *testing.T) {
	dev, bus := newTestDevice(t, deleteAllExchange(t))
	got, err := dev.DeleteAll()
	if err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if got != 0 {
		t.Fatalf("DeleteAll returned %d, want 0", got)
	}
	bus.done()
}

func TestCRCMismatch(t *testing.T) {
	steps := captureExchange()
	body := append([]byte(nil), steps[3][1]...)
	body[len(body)-1] ^= 0xFF
	steps[3][1] = body
	dev, _ := newTestDevice(t, steps)
	_, err := dev.Capture(0)
	if !errors.Is(err, ErrCRC) {
		t.Fatalf("Capture error = %v, want ErrCRC", err)
	}
}

func TestBadAckMagic(t *testing.T) {
	steps := captureExchange()
	steps[1][1] = []byte{0, 0, 0, 0}
	dev, _ := newTestDevice(t, steps)
	_, err := dev.Capture(0)
	if !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("Capture error = %v, want ErrUnexpectedResponse", err)
	}
}

func TestMultiFrameRejected(t *testing.T) {
	steps := captureExchange()
	body := append([]byte(nil), steps[3][1]...)
	// Declare a seq length of 2; a single-frame driver must reject it.
	body[4] = 0x02
	crc := crc32IEEE(body[:len(body)-4])
	body = putU32(body[:len(body)-4], crc)
	steps[3][1] = body
	dev, _ := newTestDevice(t, steps)
	_, err := dev.Capture(0)
	if !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("Capture error = %v, want ErrUnexpectedResponse", err)
	}
}

func TestReadyTimeout(t *testing.T) {
	bus := &fakeBus{t: t, steps: [][2][]byte{
		{
			[]byte{0x01, 0x00, 0x0a, 0x00, 0x04, 0x00, 0x01, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x52, 0x7c, 0x2b, 0x55},
			zeros(18),
		},
	}}
	dev := New(bus, &fakePin{}, &fakePin{}, &fakePin{low: true}) // ready line stuck low
	_, err := dev.Capture(0)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Capture error = %v, want ErrTimeout", err)
	}
}

func TestResetPulsesLine(t *testing.T) {
	bus := &fakeBus{t: t}
	rst := &fakePin{}
	dev := New(bus, &fakePin{}, rst, alwaysReady{})
	var calls int
	dev.Reset(func() { calls++ })
	if calls != 1 {
		t.Fatalf("delay invoked %d times, want 1", calls)
	}
	if rst.IsLow() {
		t.Fatalf("reset line left low after Reset")
	}
}

func TestEnrollProgress(t *testing.T) {
	var steps [][2][]byte

	addExchange := func(cmd uint16, build func(f *Frame), args ...tlv) {
		req := genRequest(t, cmd, build)
		body := genBody(cmd, args...)
		steps = append(steps,
			[2][]byte{req, zeros(len(req))},
			[2][]byte{zeros(4), ackMagic},
			[2][]byte{zeros(4), genHeader(len(body))},
			[2][]byte{zeros(len(body)), body},
			[2][]byte{ackMagic, zeros(4)},
		)
	}

	// GetTemplateCount: 0 templates stored.
	addExchange(cmdTemplateStore, func(f *Frame) { f.Arg(ArgCount) },
		tlv{ArgResult, []byte{0}}, tlv{ArgCount, []byte{0}})
	// DoEnroll(EnrollBegin)
	addExchange(cmdEnroll, func(f *Frame) { f.Arg(EnrollBegin) }, tlv{ArgResult, []byte{0}})

	remainings := []uint32{3, 2, 1, 0}
	for _, r := range remainings {
		addExchange(cmdWaitFingerUp, func(f *Frame) { f.Arg(tagWaitFingerUpEnrol) }, tlv{ArgResult, []byte{0}})
		addExchange(cmdCapture, nil, tlv{ArgResult, []byte{0}})
		addExchange(cmdEnroll, func(f *Frame) { f.Arg(EnrollAddImage) },
			tlv{ArgResult, []byte{0}}, tlv{ArgCount, []byte{byte(r)}})
	}
	// DoEnroll(EnrollFinish)
	addExchange(cmdEnroll, func(f *Frame) { f.Arg(EnrollFinish) }, tlv{ArgResult, []byte{0}})
	// DoSaveTemplate(1)
	addExchange(cmdSaveTemplate, func(f *Frame) {
		f.Arg(tagSaveTemplateStart)
		f.ArgU16(ArgID, 1)
	}, tlv{ArgResult, []byte{0}})

	dev, bus := newTestDevice(t, steps)
	var seen []uint32
	if err := dev.Enroll(func(remaining uint32) { seen = append(seen, remaining) }); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if len(seen) != 4 {
		t.Fatalf("progress invoked %d times, want 4", len(seen))
	}
	for i, want := range remainings {
		if seen[i] != want {
			t.Fatalf("progress[%d] = %d, want %d", i, seen[i], want)
		}
	}
	bus.done()
}

func TestFrameRoundTrip(t *testing.T) {
	f := NewFrame()
	f.SetCommand(0x1234)
	f.Arg(ArgCount)
	f.Arg(ArgGet)
	f.ArgU16(ArgID, 42)
	req, err := f.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	payloadLen := int(req[4]) | int(req[5])<<8
	if got := int(req[2]) | int(req[3])<<8; got != payloadLen+6 {
		t.Fatalf("outer length %d != inner length %d + 6", got, payloadLen)
	}
	crc := crc32IEEE(req[4 : len(req)-4])
	want := readU32(req[len(req)-4:])
	if crc != want {
		t.Fatalf("CRC %x != trailing CRC %x", crc, want)
	}

	var tags []uint16
	var recoveredID uint16
	err = walkArgs(req[10:], 0x1234, func(tag uint16, value []byte) {
		tags = append(tags, tag)
		if tag == ArgID {
			recoveredID = readU16(value)
		}
	})
	if err != nil {
		t.Fatalf("walkArgs: %v", err)
	}
	want3 := []uint16{ArgCount, ArgGet, ArgID}
	if len(tags) != len(want3) {
		t.Fatalf("got %d tags, want %d", len(tags), len(want3))
	}
	for i, tag := range want3 {
		if tags[i] != tag {
			t.Fatalf("tag[%d] = %#04x, want %#04x", i, tags[i], tag)
		}
	}
	if recoveredID != 42 {
		t.Fatalf("recovered ArgID = %d, want 42", recoveredID)
	}
}
