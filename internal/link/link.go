// Package link is the hardware side of the dashboard: an OBD-II adapter
// reached over serial or Bluetooth LE, or a simulated stand-in when no
// adapter is present.
package link

import (
	"context"
	"errors"
)

// Status tells the UI whether commands reach real hardware.
type Status string

const (
	StatusSimulated Status = "simulated"
	StatusPhysical  Status = "physical"
)

// FaultCode is one stored diagnostic trouble code.
type FaultCode struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Link is a command channel to the vehicle.
type Link interface {
	// Name returns a human-readable identifier (e.g. "ELM327 /dev/ttyUSB0").
	Name() string

	// SendCommand writes one command line and returns the adapter's reply.
	SendCommand(ctx context.Context, text string) (string, error)

	// Status reports whether this link is physical or simulated.
	Status() Status

	// ReadFaultCodes returns the stored trouble codes (OBD mode 03).
	ReadFaultCodes(ctx context.Context) ([]FaultCode, error)

	// ClearFaultCodes erases stored codes (OBD mode 04) and reports success.
	ClearFaultCodes(ctx context.Context) (bool, error)

	// Close releases the underlying transport.
	Close() error
}

var (
	// ErrClosed is returned by links used after Close.
	ErrClosed = errors.New("link closed")
	// ErrRejected is returned when the adapter answers "?" to a command.
	ErrRejected = errors.New("adapter rejected command")
)

// isRejection reports errors that do not mean the transport is gone.
func isRejection(err error) bool {
	return errors.Is(err, ErrRejected) || errors.Is(err, context.Canceled)
}
