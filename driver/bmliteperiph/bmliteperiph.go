// Package bmliteperiph adapts a periph.io SPI port and three GPIO
// lines to the bmlite package's Bus, OutPin and InPin contracts, for
// running the driver against real BM Lite hardware.
package bmliteperiph

import (
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"bmlite.dev/bmlite"
)

// Config names the SPI port and GPIO lines the sensor is wired to.
// The pin names are periph.io gpioreg names (e.g. "GPIO27"), not tied
// to any particular SoC's pin package: the BM Lite family is wired to
// whatever host board it's integrated with.
type Config struct {
	SPIPort  string // empty selects the first available port
	ClockMHz int    // SPI clock speed; 0 selects a conservative default
	CS       string // chip-select GPIO name
	Reset    string // reset GPIO name
	Ready    string // ready/interrupt GPIO name
}

const defaultClockMHz = 4

func lookupPin(name string) (gpio.PinIO, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("bmliteperiph: no such GPIO pin %q", name)
	}
	return pin, nil
}

// Handle owns the opened SPI port and GPIO lines backing a bmlite.Device.
type Handle struct {
	port spi.PortCloser
	conn spi.Conn
	cs   gpio.PinIO
	rst  gpio.PinIO
	rdy  gpio.PinIO
}

// Open initializes periph.io's host drivers, opens the configured SPI
// port and GPIO lines, and returns a Handle exposing the bmlite.Bus,
// bmlite.OutPin and bmlite.InPin views of it.
func Open(cfg Config) (*Handle, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("bmliteperiph: %w", err)
	}
	p, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("bmliteperiph: %w", err)
	}
	mhz := cfg.ClockMHz
	if mhz == 0 {
		mhz = defaultClockMHz
	}
	c, err := p.Connect(physic.Frequency(mhz)*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("bmliteperiph: %w", err)
	}

	h := &Handle{port: p, conn: c}
	cs, err := lookupPin(cfg.CS)
	if err != nil {
		h.Close()
		return nil, err
	}
	rst, err := lookupPin(cfg.Reset)
	if err != nil {
		h.Close()
		return nil, err
	}
	rdy, err := lookupPin(cfg.Ready)
	if err != nil {
		h.Close()
		return nil, err
	}
	h.cs, h.rst, h.rdy = cs, rst, rdy

	if err := h.cs.Out(gpio.High); err != nil {
		h.Close()
		return nil, fmt.Errorf("bmliteperiph: %w", err)
	}
	if err := h.rst.Out(gpio.High); err != nil {
		h.Close()
		return nil, fmt.Errorf("bmliteperiph: %w", err)
	}
	if err := h.rdy.In(gpio.PullUp, gpio.NoEdge); err != nil {
		h.Close()
		return nil, fmt.Errorf("bmliteperiph: %w", err)
	}
	return h, nil
}

// Close releases the SPI port. The GPIO lines are process-wide
// resources and periph.io does not offer a way to release them
// individually.
func (h *Handle) Close() error {
	if h.port == nil {
		return nil
	}
	err := h.port.Close()
	h.port = nil
	h.conn = nil
	return err
}

// Device builds a bmlite.Device around this handle's bus and pins.
func (h *Handle) Device() *bmlite.Device {
	return bmlite.New(h, outPin{h.cs}, outPin{h.rst}, inPin{h.rdy})
}

// Transfer implements bmlite.Bus over the SPI connection. When the
// connection reports a maximum transfer size, a larger buf is rejected
// with an error rather than split into several transfers.
func (h *Handle) Transfer(buf []byte) error {
	if lim, ok := h.conn.(conn.Limits); ok {
		if max := lim.MaxTxSize(); max > 0 && len(buf) > max {
			return fmt.Errorf("bmliteperiph: transfer of %d bytes exceeds bus limit of %d", len(buf), max)
		}
	}
	return h.conn.Tx(buf, buf)
}

type outPin struct{ p gpio.PinIO }

func (o outPin) SetLow()  { o.p.Out(gpio.Low) }
func (o outPin) SetHigh() { o.p.Out(gpio.High) }

type inPin struct{ p gpio.PinIO }

func (i inPin) IsLow() bool  { return i.p.Read() == gpio.Low }
func (i inPin) IsHigh() bool { return i.p.Read() == gpio.High }
