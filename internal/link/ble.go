package link

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// Most BLE OBD dongles expose a transparent UART on these 16-bit UUIDs.
var (
	uuidServiceUART = bluetooth.New16BitUUID(0xFFE0)
	uuidCharUART    = bluetooth.New16BitUUID(0xFFE1)
)

// BLEConfig selects the dongle to connect to.
type BLEConfig struct {
	DeviceName  string        `yaml:"device_name" json:"deviceName"`
	ScanTimeout time.Duration `yaml:"-" json:"-"`
	Timeout     time.Duration `yaml:"-" json:"-"`
}

var adapterOnce struct {
	sync.Once
	err error
}

// OpenBLE scans for a dongle whose advertised name contains DeviceName,
// connects to its UART service and runs the ELM327 init sequence.
func OpenBLE(ctx context.Context, cfg BLEConfig) (*ELM327, error) {
	if cfg.DeviceName == "" {
		cfg.DeviceName = "OBD"
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 10 * time.Second
	}

	adapter := bluetooth.DefaultAdapter
	adapterOnce.Do(func() { adapterOnce.err = adapter.Enable() })
	if adapterOnce.err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", adapterOnce.err)
	}

	addr, err := scanFor(ctx, adapter, cfg.DeviceName, cfg.ScanTimeout)
	if err != nil {
		return nil, err
	}

	device, err := adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("ble: connect %s: %w", addr.String(), err)
	}

	conn, err := newBLEConn(device)
	if err != nil {
		device.Disconnect()
		return nil, err
	}
	log.Printf("[link] connected to BLE dongle %q (%s)", cfg.DeviceName, addr.String())

	e := newELM327("ELM327 BLE "+cfg.DeviceName, conn, cfg.Timeout)
	if err := e.initialize(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func scanFor(ctx context.Context, adapter *bluetooth.Adapter, name string, timeout time.Duration) (bluetooth.Address, error) {
	var (
		found bluetooth.Address
		ok    bool
	)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(timeout):
		case <-done:
			return
		}
		adapter.StopScan()
	}()

	err := adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ok || !strings.Contains(result.LocalName(), name) {
			return
		}
		found, ok = result.Address, true
		log.Printf("[link] found BLE dongle %q", result.LocalName())
		a.StopScan()
	})
	close(done)
	if err != nil {
		return found, fmt.Errorf("ble: scan: %w", err)
	}
	if !ok {
		return found, fmt.Errorf("ble: no device named %q found", name)
	}
	return found, nil
}

// bleConn adapts the UART characteristic to io.ReadWriteCloser. Notified
// chunks are queued and handed out by Read, which returns (0, nil) after
// pollInterval without data.
type bleConn struct {
	device bluetooth.Device
	char   bluetooth.DeviceCharacteristic
	rx     chan []byte
	buf    []byte
}

func newBLEConn(device bluetooth.Device) (*bleConn, error) {
	srvs, err := device.DiscoverServices([]bluetooth.UUID{uuidServiceUART})
	if err != nil || len(srvs) == 0 {
		return nil, fmt.Errorf("ble: UART service not found: %v", err)
	}
	chars, err := srvs[0].DiscoverCharacteristics([]bluetooth.UUID{uuidCharUART})
	if err != nil || len(chars) == 0 {
		return nil, fmt.Errorf("ble: UART characteristic not found: %v", err)
	}

	c := &bleConn{device: device, char: chars[0], rx: make(chan []byte, 64)}
	err = c.char.EnableNotifications(func(b []byte) {
		chunk := append([]byte(nil), b...)
		select {
		case c.rx <- chunk:
		default:
			log.Printf("[link] BLE rx queue full, dropping %d bytes", len(chunk))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("ble: enable notifications: %w", err)
	}
	return c, nil
}

func (c *bleConn) Read(p []byte) (int, error) {
	if len(c.buf) == 0 {
		select {
		case chunk := <-c.rx:
			c.buf = chunk
		case <-time.After(pollInterval):
			return 0, nil
		}
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

// Write splits p into 20 byte writes, the default ATT payload size.
func (c *bleConn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		end := written + 20
		if end > len(p) {
			end = len(p)
		}
		if _, err := c.char.WriteWithoutResponse(p[written:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

func (c *bleConn) Close() error {
	return c.device.Disconnect()
}
