// Package export streams telemetry to InfluxDB.
package export

import (
	"errors"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
)

// Measurement is the InfluxDB measurement telemetry is written to.
const Measurement = "telemetry"

// Config holds InfluxDB connection settings.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	URL     string `yaml:"url" json:"url"`
	Token   string `yaml:"token" json:"-"`
	Org     string `yaml:"org" json:"org"`
	Bucket  string `yaml:"bucket" json:"bucket"`
}

// Influx writes telemetry points through the client's batching write API.
type Influx struct {
	client influxdb2.Client
	writer influxdb2_api.WriteAPI
}

// NewInflux creates an exporter. Writes are asynchronous; failures are
// logged and never reach the caller.
func NewInflux(cfg Config) (*Influx, error) {
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, errors.New("influx: url and bucket are required")
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000).
			SetPrecision(time.Millisecond),
	)
	x := &Influx{
		client: client,
		writer: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go func() {
		for err := range x.writer.Errors() {
			log.Printf("[influx] write failed: %v", err)
		}
	}()
	log.Printf("[influx] exporting to %s (org=%s bucket=%s)", cfg.URL, cfg.Org, cfg.Bucket)
	return x, nil
}

// Write queues one telemetry snapshot.
func (x *Influx) Write(t ecu.Telemetry, profileID, session string) {
	x.writer.WritePoint(Point(t, profileID, session))
}

// Flush sends everything queued so far.
func (x *Influx) Flush() { x.writer.Flush() }

// Close flushes and releases the client.
func (x *Influx) Close() {
	x.writer.Flush()
	x.client.Close()
}

// Point converts a snapshot into an InfluxDB point.
func Point(t ecu.Telemetry, profileID, session string) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(Measurement).
		AddTag("profile", profileID).
		AddTag("session", session).
		AddField("rpm", t.RPM).
		AddField("boost", t.Boost).
		AddField("afr", t.AFR).
		AddField("throttle", t.Throttle).
		AddField("knock", t.Knock).
		AddField("coolant_temp", t.CoolantTemp).
		AddField("iat", t.IAT).
		AddField("speed", t.Speed).
		AddField("g_force", t.GForce).
		AddField("map_voltage", t.MAPVoltage).
		AddField("fuel_pressure", t.FuelPressure).
		AddField("oil_pressure", t.OilPressure).
		AddField("inj_duty_cycle", t.InjDutyCycle).
		AddField("stft", t.STFT).
		AddField("ltft", t.LTFT).
		SetTime(t.Time())
	if t.ZeroToSixty != nil {
		p.AddField("zero_to_sixty", *t.ZeroToSixty)
	}
	return p
}
