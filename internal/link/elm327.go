package link

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
)

// initSequence brings a freshly powered ELM327 into a known state.
var initSequence = []string{
	"AT Z",    // warm reset
	"AT E0",   // echo off
	"AT L1",   // linefeeds on
	"AT SP 0", // automatic protocol search
	"01 00",   // supported PIDs 01-20, also triggers the protocol search
}

const (
	defaultCommandTimeout = 5 * time.Second
	drainSilence          = 100 * time.Millisecond
	drainTimeout          = 1500 * time.Millisecond
)

// ELM327 speaks the ELM327 AT/OBD command protocol over a byte stream.
//
// The stream's Read must return (0, nil) when no data arrives within a short
// poll interval, as go.bug.st/serial ports do with a read timeout set. The
// BLE transport follows the same convention.
type ELM327 struct {
	name    string
	rw      io.ReadWriteCloser
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newELM327(name string, rw io.ReadWriteCloser, timeout time.Duration) *ELM327 {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &ELM327{name: name, rw: rw, timeout: timeout}
}

func (e *ELM327) Name() string   { return e.name }
func (e *ELM327) Status() Status { return StatusPhysical }

// initialize drains boot output and runs the init sequence.
func (e *ELM327) initialize(ctx context.Context) error {
	e.drain("boot")
	for _, cmd := range initSequence {
		resp, err := e.SendCommand(ctx, cmd)
		if err != nil {
			return fmt.Errorf("init %q: %w", cmd, err)
		}
		log.Printf("[link] %s: %s -> %s", e.name, cmd, strings.ReplaceAll(resp, "\n", " | "))
	}
	return nil
}

// SendCommand writes text followed by CR and collects the reply up to the
// '>' prompt. Commands are serialized.
func (e *ELM327) SendCommand(ctx context.Context, text string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrClosed
	}

	if _, err := e.rw.Write([]byte(text + "\r")); err != nil {
		return "", fmt.Errorf("%s: write %q: %w", e.name, text, err)
	}

	deadline := time.Now().Add(e.timeout)
	var acc []byte
	buf := make([]byte, 128)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%s: timeout waiting for prompt after %q (got %q)", e.name, text, acc)
		}
		n, err := e.rw.Read(buf)
		if err != nil {
			return "", fmt.Errorf("%s: read: %w", e.name, err)
		}
		acc = append(acc, buf[:n]...)
		if i := bytes.IndexByte(acc, '>'); i >= 0 {
			acc = acc[:i]
			break
		}
	}

	resp := cleanResponse(string(acc), text)
	if resp == "?" {
		return resp, fmt.Errorf("%s: %w: %q", e.name, ErrRejected, text)
	}
	return resp, nil
}

// ReadFaultCodes issues mode 03 and decodes the reply.
func (e *ELM327) ReadFaultCodes(ctx context.Context) ([]FaultCode, error) {
	resp, err := e.SendCommand(ctx, "03")
	if err != nil {
		return nil, err
	}
	return faultCodes(resp)
}

// ClearFaultCodes issues mode 04. The adapter answers "44" on success.
func (e *ELM327) ClearFaultCodes(ctx context.Context) (bool, error) {
	resp, err := e.SendCommand(ctx, "04")
	if err != nil {
		return false, err
	}
	return strings.Contains(resp, "44"), nil
}

func (e *ELM327) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.rw.Close()
}

// drain discards pending output until the line stays silent.
func (e *ELM327) drain(label string) {
	total := 0
	deadline := time.Now().Add(drainTimeout)
	buf := make([]byte, 256)
	silentSince := time.Now()
	for time.Now().Before(deadline) {
		n, _ := e.rw.Read(buf)
		if n == 0 {
			if time.Since(silentSince) >= drainSilence {
				break
			}
			continue
		}
		silentSince = time.Now()
		total += n
	}
	if total > 0 {
		log.Printf("[link] %s drain(%s) cleared %d bytes", e.name, label, total)
	}
}

// cleanResponse strips the echoed command, blank lines and surrounding
// whitespace, joining the remaining lines with "\n".
func cleanResponse(raw, cmd string) string {
	echo := normalize(cmd)
	var lines []string
	for _, line := range strings.FieldsFunc(raw, func(r rune) bool { return r == '\r' || r == '\n' }) {
		line = strings.TrimSpace(line)
		if line == "" || normalize(line) == echo {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
