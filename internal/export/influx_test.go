package export

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
)

func sample() ecu.Telemetry {
	t := ecu.InitialTelemetry(time.UnixMilli(1_700_000_000_123))
	t.RPM = 6200
	t.Boost = 9.5
	t.AFR = 11.9
	return t
}

func TestPoint(t *testing.T) {
	tel := sample()
	line := influxdb2_write.PointToLineProtocol(Point(tel, "universal", "abc"), time.Millisecond)

	assert.True(t, strings.HasPrefix(line, "telemetry,profile=universal,session=abc "), line)
	assert.Contains(t, line, "rpm=6200")
	assert.Contains(t, line, "boost=9.5")
	assert.Contains(t, line, "afr=11.9")
	assert.NotContains(t, line, "zero_to_sixty")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(line), " 1700000000123"), line)

	v := 4.2
	tel.ZeroToSixty = &v
	line = influxdb2_write.PointToLineProtocol(Point(tel, "universal", "abc"), time.Millisecond)
	assert.Contains(t, line, "zero_to_sixty=4.2")
}

func TestNewInfluxRequiresTarget(t *testing.T) {
	_, err := NewInflux(Config{Enabled: true})
	assert.Error(t, err)
}

func TestInfluxWrites(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
		query  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		query = r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	x, err := NewInflux(Config{Enabled: true, URL: srv.URL, Token: "t", Org: "garage", Bucket: "dyno"})
	require.NoError(t, err)

	x.Write(sample(), "hellcat", "s1")
	x.Flush()
	x.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bodies) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, bodies[0], "telemetry,profile=hellcat,session=s1")
	assert.Contains(t, query, "bucket=dyno")
	assert.Contains(t, query, "org=garage")
}
