// Package bmliteserial bridges the bmlite package's Bus, OutPin and
// InPin contracts to a USB-serial-to-SPI adapter, for exercising the
// driver on a development host with no native SPI bus. It is a bench
// convenience, not a production transport.
//
// The adapter firmware is expected to speak a small fixed-prefix
// command protocol over the serial line: a transfer command carrying
// a 16-bit little-endian length followed by that many bytes to send,
// answered byte-for-byte with the bytes received; a command byte
// followed by a level byte to drive the chip-select or reset output;
// and a single-byte command to sample the ready input, answered with
// one level byte.
package bmliteserial

import (
	"bufio"
	"fmt"
	"io"

	"github.com/tarm/serial"

	"bmlite.dev/bmlite"
)

const (
	cmdTransfer  = 'X'
	cmdSetCS     = 'C'
	cmdSetReset  = 'R'
	cmdReadReady = 'Y'

	lineLow  = 0x00
	lineHigh = 0x01
)

// Bridge owns the open serial connection to the adapter.
type Bridge struct {
	port io.ReadWriteCloser
	r    *bufio.Reader
	werr error
}

const defaultBaud = 115200

// Open opens the serial device at dev (e.g. "/dev/ttyUSB0") and
// returns a Bridge ready to drive an adapter. baud of 0 selects
// defaultBaud.
func Open(dev string, baud int) (*Bridge, error) {
	if baud == 0 {
		baud = defaultBaud
	}
	s, err := serial.OpenPort(&serial.Config{Name: dev, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("bmliteserial: %w", err)
	}
	return &Bridge{port: s, r: bufio.NewReaderSize(s, 256)}, nil
}

// Close closes the underlying serial port.
func (b *Bridge) Close() error {
	return b.port.Close()
}

// Device builds a bmlite.Device around this bridge's multiplexed bus
// and pins.
func (b *Bridge) Device() *bmlite.Device {
	return bmlite.New(b, outPin{b, cmdSetCS}, outPin{b, cmdSetReset}, inPin{b})
}

func (b *Bridge) write(p []byte) {
	if b.werr != nil {
		return
	}
	_, b.werr = b.port.Write(p)
}

func (b *Bridge) read(n int) []byte {
	if b.werr != nil {
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(b.r, buf); err != nil {
		b.werr = err
		return nil
	}
	return buf
}

// Transfer implements bmlite.Bus: it sends a transfer command framing
// buf's length and contents, then reads back exactly len(buf) bytes
// of reply into buf.
func (b *Bridge) Transfer(buf []byte) error {
	b.werr = nil
	header := []byte{cmdTransfer, byte(len(buf)), byte(len(buf) >> 8)}
	b.write(header)
	b.write(buf)
	reply := b.read(len(buf))
	if b.werr != nil {
		return fmt.Errorf("bmliteserial: transfer: %w", b.werr)
	}
	copy(buf, reply)
	return nil
}

func (b *Bridge) setLine(cmd byte, high bool) {
	v := byte(lineLow)
	if high {
		v = lineHigh
	}
	b.write([]byte{cmd, v})
}

func (b *Bridge) readReady() bool {
	b.write([]byte{cmdReadReady})
	reply := b.read(1)
	return len(reply) == 1 && reply[0] == lineLow
}

type outPin struct {
	b   *Bridge
	cmd byte
}

func (p outPin) SetLow()  { p.b.setLine(p.cmd, false) }
func (p outPin) SetHigh() { p.b.setLine(p.cmd, true) }

type inPin struct{ b *Bridge }

func (p inPin) IsLow() bool  { return p.b.readReady() }
func (p inPin) IsHigh() bool { return !p.b.readReady() }
