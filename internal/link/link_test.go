package link

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
)

func TestParseDTCResponse(t *testing.T) {
	tests := []struct {
		name string
		resp string
		want []string
	}{
		{"legacy", "43 01 71 03 00 00 00", []string{"P0171", "P0300"}},
		{"legacy padding only", "43 00 00 00 00 00 00", nil},
		{"can single frame", "43 02 01 71 03 00", []string{"P0171", "P0300"}},
		{"can no codes", "43 00", nil},
		{"no data", "NO DATA", nil},
		{"searching first", "SEARCHING...\r43 01 71 00 00 00 00", []string{"P0171"}},
		{"all systems", "43 41 23 81 45 C1 00", []string{"C0123", "B0145", "U0100"}},
		{"lowercase", "43 01 a1 00 00 00 00", []string{"P01A1"}},
		{"multi frame", "00A\r0: 43 04 01 71 03\r1: 00 01 33 04 20 00 00", []string{"P0171", "P0300", "P0133", "P0420"}},
		{"two ecus", "43 01 71 00 00 00 00\r43 03 00 00 00 00 00", []string{"P0171", "P0300"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDTCResponse(tt.resp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseDTCResponse("43 ZZ")
	assert.Error(t, err)
	_, err = ParseDTCResponse("01 71")
	assert.Error(t, err)
}

func TestEncodeDTCResponse_RoundTrip(t *testing.T) {
	codes := []string{"P0171", "P0300", "C0123", "B0145", "U0100", "P1290"}
	got, err := ParseDTCResponse(EncodeDTCResponse(codes))
	require.NoError(t, err)
	assert.Equal(t, codes, got)

	assert.Equal(t, "43 01 71", EncodeDTCResponse([]string{"P0171", "X0000", "P9999", "P01"}))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "System Too Lean (Bank 1)", Describe("P0171"))
	assert.Contains(t, Describe("P1234"), "P1234")
}

func TestSimulated(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated()
	assert.Equal(t, StatusSimulated, s.Status())

	resp, err := s.SendCommand(ctx, "at z")
	require.NoError(t, err)
	assert.Contains(t, resp, "ELM327")

	codes, err := s.ReadFaultCodes(ctx)
	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.Equal(t, "P0171", codes[0].Code)
	assert.Equal(t, "System Too Lean (Bank 1)", codes[0].Description)
	assert.Equal(t, "P0300", codes[1].Code)

	ok, err := s.ClearFaultCodes(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	codes, err = s.ReadFaultCodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, codes)

	resp, err = s.SendCommand(ctx, "TORQUE_CUT SPD=160")
	require.NoError(t, err)
	assert.Equal(t, "OK", resp)
	assert.Equal(t, "TORQUE_CUT SPD=160", s.Commands()[len(s.Commands())-1])

	require.NoError(t, s.Close())
	_, err = s.SendCommand(ctx, "01 00")
	assert.ErrorIs(t, err, ErrClosed)
	s.Reopen()
	_, err = s.SendCommand(ctx, "01 00")
	assert.NoError(t, err)
}

// fakePort answers like an ELM327 on a serial line. Reads return (0, nil)
// when nothing is pending.
type fakePort struct {
	mu       sync.Mutex
	replies  map[string]string
	noPrompt bool
	readErr  error
	out      []byte
	writes   []string
	closed   bool
}

func newFakePort(replies map[string]string) *fakePort {
	return &fakePort{replies: replies}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd := strings.TrimRight(string(b), "\r")
	p.writes = append(p.writes, cmd)
	reply, ok := p.replies[normalize(cmd)]
	if !ok {
		reply = "?"
	}
	p.out = append(p.out, []byte(reply+"\r\r")...)
	if !p.noPrompt {
		p.out = append(p.out, '>')
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
	if len(p.out) == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(b, p.out)
	p.out = p.out[n:]
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) setReadErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

func (p *fakePort) written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

var elmReplies = map[string]string{
	"ATZ":   "\r\rELM327 v1.5",
	"ATE0":  "AT E0\rOK",
	"ATL1":  "OK",
	"ATSP0": "OK",
	"0100":  "SEARCHING...\r41 00 BE 3F A8 13",
	"010C":  "010C\r41 0C 1A F8",
	"03":    "43 01 71 03 00 00 00",
	"04":    "44",
}

func openFake(t *testing.T, port *fakePort) *ELM327 {
	t.Helper()
	e := newELM327("ELM327 fake", port, 500*time.Millisecond)
	require.NoError(t, e.initialize(context.Background()))
	return e
}

func TestELM327_Initialize(t *testing.T) {
	port := newFakePort(elmReplies)
	e := openFake(t, port)
	assert.Equal(t, initSequence, port.written())
	assert.Equal(t, StatusPhysical, e.Status())
	assert.Equal(t, "ELM327 fake", e.Name())
}

func TestELM327_SendCommand(t *testing.T) {
	ctx := context.Background()
	port := newFakePort(elmReplies)
	e := openFake(t, port)

	resp, err := e.SendCommand(ctx, "01 0C")
	require.NoError(t, err)
	assert.Equal(t, "41 0C 1A F8", resp)

	resp, err = e.SendCommand(ctx, "TORQUE_CUT SPD=160")
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, "?", resp)

	codes, err := e.ReadFaultCodes(ctx)
	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.Equal(t, "P0300", codes[1].Code)

	ok, err := e.ClearFaultCodes(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, e.Close())
	assert.True(t, port.closed)
	_, err = e.SendCommand(ctx, "03")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestELM327_Timeout(t *testing.T) {
	port := newFakePort(elmReplies)
	port.noPrompt = true
	e := newELM327("ELM327 fake", port, 50*time.Millisecond)

	_, err := e.SendCommand(context.Background(), "03")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestELM327_ContextCancelled(t *testing.T) {
	port := newFakePort(elmReplies)
	port.noPrompt = true
	e := newELM327("ELM327 fake", port, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := e.SendCommand(ctx, "03")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_SimulatedOnly(t *testing.T) {
	m := NewManager(nil, nil)
	assert.Equal(t, StatusSimulated, m.Status())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManager_ConnectsAndFallsBack(t *testing.T) {
	var dials atomic.Int32
	var mu sync.Mutex
	var ports []*fakePort

	m := NewManager(NewSimulated(), func(ctx context.Context) (Link, error) {
		if dials.Add(1) == 1 {
			return nil, errors.New("no adapter on /dev/ttyUSB0")
		}
		port := newFakePort(elmReplies)
		mu.Lock()
		ports = append(ports, port)
		mu.Unlock()
		e := newELM327("ELM327 fake", port, 200*time.Millisecond)
		return e, e.initialize(ctx)
	})
	m.SetBackoff(time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool { return m.Status() == StatusPhysical }, 3*time.Second, 5*time.Millisecond)

	resp, err := m.SendCommand(ctx, "01 0C")
	require.NoError(t, err)
	assert.Equal(t, "41 0C 1A F8", resp)

	// a rejected command keeps the physical link
	_, err = m.SendCommand(ctx, "BOGUS")
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, StatusPhysical, m.Status())

	// a transport failure drops to the simulated link and triggers a redial
	mu.Lock()
	ports[0].setReadErr(errors.New("device unplugged"))
	mu.Unlock()
	_, err = m.SendCommand(ctx, "03")
	require.Error(t, err)

	codes, err := m.ReadFaultCodes(ctx)
	if m.Status() == StatusSimulated {
		require.NoError(t, err)
		assert.Len(t, codes, 2)
	}
	require.Eventually(t, func() bool { return dials.Load() >= 3 && m.Status() == StatusPhysical }, 3*time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return m.Status() == StatusSimulated }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_Forwards(t *testing.T) {
	sim := NewSimulated()
	var sent atomic.Int32
	d := NewDispatcher(sim, OnSent(func(ecu.Intent, error) { sent.Add(1) }))

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	assert.True(t, d.Dispatch(
		ecu.Intent{Kind: ecu.IntentTorqueCut, Command: "TORQUE_CUT SPD=160"},
		ecu.Intent{Kind: ecu.IntentRAMWrite, Command: "RAM_WRITE AFR=11.80"},
	))
	require.Eventually(t, func() bool { return sent.Load() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"TORQUE_CUT SPD=160", "RAM_WRITE AFR=11.80"}, sim.Commands())

	cancel()
	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	var dropped []ecu.Intent
	d := NewDispatcher(NewSimulated(), Buffered(2), OnDrop(func(in ecu.Intent) { dropped = append(dropped, in) }))

	in := ecu.Intent{Kind: ecu.IntentIgnitionRetard, Command: "IGN_RETARD CRACKLE=50"}
	assert.True(t, d.Dispatch(in, in))
	assert.False(t, d.Dispatch(in))
	assert.Equal(t, int64(1), d.Dropped())
	assert.Equal(t, 2, d.Pending())
	assert.Len(t, dropped, 1)
}
