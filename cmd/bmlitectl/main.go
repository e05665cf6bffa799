// Command bmlitectl is the internal tool for exercising a BM Lite
// fingerprint sensor from a host machine, either over a native SPI bus
// or through a serial-bridge adapter for bench development.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"bmlite.dev/bmlite"
	"bmlite.dev/driver/bmliteperiph"
	"bmlite.dev/driver/bmliteserial"
)

// backendFlags are the connection flags shared by every subcommand.
type backendFlags struct {
	serialDev  *string
	serialBaud *int
	spiPort    *string
	spiCS      *string
	spiReset   *string
	spiReady   *string
	timeout    *time.Duration
	report     *string
}

func addBackendFlags(fs *flag.FlagSet) *backendFlags {
	return &backendFlags{
		serialDev:  fs.String("serial", "", "serial-bridge device (e.g. /dev/ttyUSB0); selects the serial backend"),
		serialBaud: fs.Int("baud", 0, "serial-bridge baud rate (0 selects the default)"),
		spiPort:    fs.String("spi", "", "periph.io SPI port name (empty selects the first available)"),
		spiCS:      fs.String("cs-pin", "GPIO8", "chip-select GPIO name"),
		spiReset:   fs.String("reset-pin", "GPIO27", "reset GPIO name"),
		spiReady:   fs.String("ready-pin", "GPIO25", "ready/interrupt GPIO name"),
		timeout:    fs.Duration("timeout", 0, "bound the wait for a sensor response (0 waits forever)"),
		report:     fs.String("report", "", "write a CBOR diagnostic report to this path"),
	}
}

// closer is satisfied by both backend handles.
type closer interface{ Close() error }

func (b *backendFlags) open() (*bmlite.Device, closer, error) {
	if *b.serialDev != "" {
		bridge, err := bmliteserial.Open(*b.serialDev, *b.serialBaud)
		if err != nil {
			return nil, nil, err
		}
		return bridge.Device(), bridge, nil
	}
	h, err := bmliteperiph.Open(bmliteperiph.Config{
		SPIPort: *b.spiPort,
		CS:      *b.spiCS,
		Reset:   *b.spiReset,
		Ready:   *b.spiReady,
	})
	if err != nil {
		return nil, nil, err
	}
	return h.Device(), h, nil
}

func (b *backendFlags) context() (context.Context, context.CancelFunc) {
	if *b.timeout <= 0 {
		return context.Background(), func() {}
	}
	return context.WithTimeout(context.Background(), *b.timeout)
}

// report is the structure written to -report, CBOR-encoded.
type report struct {
	Command   string `cbor:"command"`
	Version   string `cbor:"version,omitempty"`
	Templates uint32 `cbor:"templates,omitempty"`
	Result    string `cbor:"result,omitempty"`
	Error     string `cbor:"error,omitempty"`
}

func (b *backendFlags) writeReport(r report) error {
	if *b.report == "" {
		return nil
	}
	data, err := cbor.Marshal(r)
	if err != nil {
		return fmt.Errorf("bmlitectl: encoding report: %w", err)
	}
	return os.WriteFile(*b.report, data, 0o644)
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "bmlitectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errors.New("missing command (version, capture, enroll, identify, templates, delete-all, reset)")
	}
	cmd := args[0]
	args = args[1:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	bf := addBackendFlags(fs)
	timeoutMs := fs.Uint("sensor-timeout", 0, "sensor-side timeout in milliseconds, for capture (0 waits forever)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dev, h, err := bf.open()
	if err != nil {
		return fmt.Errorf("bmlitectl: %w", err)
	}
	defer h.Close()

	ctx, cancel := bf.context()
	defer cancel()
	dev = dev.WithContext(ctx)

	switch cmd {
	case "version":
		return runVersion(dev, bf)
	case "capture":
		return runCapture(dev, bf, uint32(*timeoutMs))
	case "enroll":
		return runEnroll(dev, bf)
	case "identify":
		return runIdentify(dev, bf)
	case "templates":
		return runTemplates(dev, bf)
	case "delete-all":
		return runDeleteAll(dev, bf)
	case "reset":
		return runReset(dev, bf)
	default:
		return fmt.Errorf("unknown command: %q", cmd)
	}
}

func runVersion(dev *bmlite.Device, bf *backendFlags) error {
	version, err := dev.GetVersion()
	if err != nil {
		return bf.fail("version", err)
	}
	log.Printf("sensor version: %s", version)
	return bf.writeReport(report{Command: "version", Version: string(version)})
}

func runCapture(dev *bmlite.Device, bf *backendFlags, timeoutMs uint32) error {
	result, err := dev.Capture(timeoutMs)
	if err != nil {
		return bf.fail("capture", err)
	}
	log.Printf("capture result: %d", result)
	return bf.writeReport(report{Command: "capture", Result: fmt.Sprint(result)})
}

func runEnroll(dev *bmlite.Device, bf *backendFlags) error {
	err := dev.Enroll(func(remaining uint32) {
		log.Printf("enroll: %d more images needed", remaining)
	})
	if err != nil {
		return bf.fail("enroll", err)
	}
	log.Printf("enroll: template saved")
	return bf.writeReport(report{Command: "enroll", Result: "saved"})
}

func runIdentify(dev *bmlite.Device, bf *backendFlags) error {
	id, err := dev.Identify()
	if errors.Is(err, bmlite.ErrNoMatch) {
		log.Printf("identify: no match")
		return bf.writeReport(report{Command: "identify", Result: "no match"})
	}
	if err != nil {
		return bf.fail("identify", err)
	}
	log.Printf("identify: matched template %d", id)
	return bf.writeReport(report{Command: "identify", Result: fmt.Sprintf("matched %d", id)})
}

func runTemplates(dev *bmlite.Device, bf *backendFlags) error {
	count, err := dev.GetTemplateCount()
	if err != nil {
		return bf.fail("templates", err)
	}
	log.Printf("templates stored: %d", count)
	return bf.writeReport(report{Command: "templates", Templates: count})
}

func runDeleteAll(dev *bmlite.Device, bf *backendFlags) error {
	result, err := dev.DeleteAll()
	if err != nil {
		return bf.fail("delete-all", err)
	}
	log.Printf("delete-all result: %d", result)
	return bf.writeReport(report{Command: "delete-all", Result: fmt.Sprint(result)})
}

func runReset(dev *bmlite.Device, bf *backendFlags) error {
	dev.Reset(func() { time.Sleep(100 * time.Millisecond) })
	log.Printf("reset: done")
	return bf.writeReport(report{Command: "reset", Result: "done"})
}

// fail logs the error, makes a best-effort attempt to write an error
// report (a failure to write it is ignored), and returns the error
// wrapped with the command name.
func (b *backendFlags) fail(cmd string, err error) error {
	log.Printf("%s: %v", cmd, err)
	b.writeReport(report{Command: cmd, Error: err.Error()})
	return fmt.Errorf("%s: %w", cmd, err)
}
