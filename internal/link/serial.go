package link

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.bug.st/serial"
)

// SerialConfig holds connection settings for a USB/RS-232 ELM327 adapter.
type SerialConfig struct {
	PortPath string        `yaml:"port_path" json:"portPath"`
	BaudRate int           `yaml:"baud_rate" json:"baudRate"`
	Timeout  time.Duration `yaml:"-" json:"-"`
}

// pollInterval is the serial read timeout; reads return (0, nil) after it.
const pollInterval = 100 * time.Millisecond

// OpenSerial opens the port, waits for the adapter to settle and runs the
// ELM327 init sequence.
func OpenSerial(ctx context.Context, cfg SerialConfig) (*ELM327, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 38400
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.PortPath, mode)
	if err != nil {
		return nil, fmt.Errorf("elm327: failed to open %s: %w", cfg.PortPath, err)
	}
	if err := port.SetReadTimeout(pollInterval); err != nil {
		port.Close()
		return nil, fmt.Errorf("elm327: failed to set timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		log.Printf("[link] %s: reset input buffer: %v", cfg.PortPath, err)
	}
	log.Printf("[link] opened %s at %d baud", cfg.PortPath, cfg.BaudRate)

	// adapters print their banner after power-up; give them a moment
	select {
	case <-ctx.Done():
		port.Close()
		return nil, ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}

	e := newELM327("ELM327 "+cfg.PortPath, port, cfg.Timeout)
	if err := e.initialize(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}
