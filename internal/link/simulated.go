package link

import (
	"context"
	"strings"
	"sync"

	"github.com/shaunagostinho/unimix-dash/internal/history"
)

// DefaultSimulatedCodes are the codes a fresh simulated link reports.
var DefaultSimulatedCodes = []string{"P0171", "P0300"}

// Simulated answers like an ELM327 adapter attached to a car with a lean
// condition and a misfire stored. It keeps the most recent commands for the
// live terminal.
type Simulated struct {
	mu       sync.Mutex
	codes    []string
	closed   bool
	commands *history.Buffer[string]
}

// NewSimulated creates a simulated link with the default stored codes.
func NewSimulated() *Simulated {
	return &Simulated{
		codes:    append([]string(nil), DefaultSimulatedCodes...),
		commands: history.New[string](200),
	}
}

func (s *Simulated) Name() string   { return "Simulated ELM327" }
func (s *Simulated) Status() Status { return StatusSimulated }

// SendCommand records the command and returns a canned adapter reply.
func (s *Simulated) SendCommand(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	s.commands.Push(text)

	switch normalize(text) {
	case "ATZ":
		return "ELM327 v1.5", nil
	case "0100":
		return "41 00 BE 3F A8 13", nil
	case "03":
		if len(s.codes) == 0 {
			return "NO DATA", nil
		}
		return EncodeDTCResponse(s.codes), nil
	case "04":
		s.codes = nil
		return "44", nil
	}
	return "OK", nil
}

// ReadFaultCodes returns the stored codes.
func (s *Simulated) ReadFaultCodes(ctx context.Context) ([]FaultCode, error) {
	resp, err := s.SendCommand(ctx, "03")
	if err != nil {
		return nil, err
	}
	return faultCodes(resp)
}

// ClearFaultCodes erases the stored codes.
func (s *Simulated) ClearFaultCodes(ctx context.Context) (bool, error) {
	resp, err := s.SendCommand(ctx, "04")
	if err != nil {
		return false, err
	}
	return strings.Contains(resp, "44"), nil
}

// Commands returns the recent commands, oldest first.
func (s *Simulated) Commands() []string {
	return s.commands.Snapshot()
}

func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Reopen makes a closed simulated link usable again.
func (s *Simulated) Reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
}

// normalize upper-cases a command and strips spaces, so "at z" == "ATZ".
func normalize(cmd string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(cmd), " ", ""))
}

func faultCodes(resp string) ([]FaultCode, error) {
	codes, err := ParseDTCResponse(resp)
	if err != nil {
		return nil, err
	}
	out := make([]FaultCode, 0, len(codes))
	for _, c := range codes {
		out = append(out, FaultCode{Code: c, Description: Describe(c)})
	}
	return out, nil
}
