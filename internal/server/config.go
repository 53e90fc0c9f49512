package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
	"github.com/shaunagostinho/unimix-dash/internal/export"
	"github.com/shaunagostinho/unimix-dash/internal/piggyback"
	"github.com/shaunagostinho/unimix-dash/internal/tune"
)

// Config holds all dashboard configuration.
type Config struct {
	mu sync.RWMutex

	// Simulator loop
	Sim SimConfig `yaml:"sim" json:"sim"`

	// Selected vehicle and any extra profiles
	Vehicle VehicleConfig `yaml:"vehicle" json:"vehicle"`

	// Calibration loaded at startup when nothing is saved for the profile
	Tune ecu.TuneSettings `yaml:"tune" json:"tune"`

	// Hardware adapter
	Link LinkConfig `yaml:"link" json:"link"`

	// Remote advisor
	Advisor AdvisorConfig `yaml:"advisor" json:"advisor"`

	// Warning thresholds
	Thresholds ThresholdConfig `yaml:"thresholds" json:"thresholds"`

	// Logging
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Saved tunes
	Store StoreConfig `yaml:"store" json:"store"`

	// Telemetry export
	Influx export.Config `yaml:"influx" json:"influx"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load

	// Secrets as read from the YAML file. Save writes these back so values
	// supplied through the environment never land on disk.
	fileAPIKey      string
	fileInfluxToken string
}

type SimConfig struct {
	TickMs            int     `yaml:"tick_ms" json:"tickMs"`
	Seed              int64   `yaml:"seed" json:"seed"` // 0 picks a time based seed
	LogCapacity       int     `yaml:"log_capacity" json:"logCapacity"`
	PSIMax            float64 `yaml:"psi_max" json:"psiMax"` // MAP sensor full scale
	Recording         bool    `yaml:"recording" json:"recording"`
	AutoOptimize      bool    `yaml:"auto_optimize" json:"autoOptimize"`
	OptimizeIntervalS int     `yaml:"optimize_interval_s" json:"optimizeIntervalS"`
}

type VehicleConfig struct {
	ProfileID string               `yaml:"profile_id" json:"profileId"`
	Profiles  []ecu.VehicleProfile `yaml:"profiles" json:"profiles"` // appended to the built-in catalog
}

type LinkConfig struct {
	Type      string `yaml:"type" json:"type"`          // "simulated", "serial" or "ble"
	PortPath  string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyUSB0
	BaudRate  int    `yaml:"baud_rate" json:"baudRate"`
	BLEName   string `yaml:"ble_name" json:"bleName"`
	TimeoutMs int    `yaml:"timeout_ms" json:"timeoutMs"` // per command
}

type AdvisorConfig struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"` // empty disables the advisor
	APIKey   string `yaml:"api_key" json:"-"`
	TimeoutS int    `yaml:"timeout_s" json:"timeoutS"`
}

type ThresholdConfig struct {
	CLTWarn     float64 `yaml:"clt_warn" json:"cltWarn"` // °C
	IATWarn     float64 `yaml:"iat_warn" json:"iatWarn"` // °C
	AFRLeanWarn float64 `yaml:"afr_lean_warn" json:"afrLeanWarn"`
	KnockWarn   float64 `yaml:"knock_warn" json:"knockWarn"`
	OilPWarn    float64 `yaml:"oil_p_warn" json:"oilPWarn"` // PSI
}

type LoggingConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval_ms" json:"intervalMs"` // ms between log entries
}

type StoreConfig struct {
	Path string `yaml:"path" json:"path"` // empty keeps saved tunes in memory
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Sim: SimConfig{
			TickMs:            100,
			LogCapacity:       2000,
			PSIMax:            piggyback.DefaultPSIMax,
			Recording:         true,
			AutoOptimize:      false,
			OptimizeIntervalS: 15,
		},
		Vehicle: VehicleConfig{
			ProfileID: tune.DefaultProfileID,
		},
		Tune: ecu.DefaultTune(),
		Link: LinkConfig{
			Type:      "simulated",
			PortPath:  "/dev/ttyUSB0",
			BaudRate:  38400,
			BLEName:   "OBD",
			TimeoutMs: 2000,
		},
		Advisor: AdvisorConfig{
			TimeoutS: 60,
		},
		Thresholds: ThresholdConfig{
			CLTWarn:     105,
			IATWarn:     60,
			AFRLeanWarn: 15.5,
			KnockWarn:   1.5,
			OilPWarn:    15,
		},
		Logging: LoggingConfig{
			Enabled:  false,
			Path:     "/var/log/unimix",
			Interval: 100,
		},
		Store: StoreConfig{
			Path: "/var/lib/unimix/tunes.db",
		},
		Influx: export.Config{
			Enabled: false,
			URL:     "http://localhost:8086",
			Org:     "unimix",
			Bucket:  "telemetry",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}
	cfg.fileAPIKey, cfg.fileInfluxToken = cfg.Advisor.APIKey, cfg.Influx.Token

	// Load .env file from the same directory as the config, or from CWD.
	// Variables already in the real environment take precedence.
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		if _, err := os.Stat(ep); err != nil {
			continue
		}
		if err := godotenv.Load(ep); err != nil {
			log.Printf("[config] error loading %s: %v", ep, err)
			continue
		}
		log.Printf("[config] loaded .env from %s", ep)
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()
	return cfg
}

// applyEnvOverrides reads environment variables and overrides config values.
func (c *Config) applyEnvOverrides() {
	envInt("SIM_TICK_MS", &c.Sim.TickMs)
	if v := os.Getenv("SIM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Sim.Seed = n
		}
	}
	envInt("SIM_LOG_CAPACITY", &c.Sim.LogCapacity)
	envFloat("SIM_PSI_MAX", &c.Sim.PSIMax)
	envBool("SIM_AUTO_OPTIMIZE", &c.Sim.AutoOptimize)
	envString("PROFILE_ID", &c.Vehicle.ProfileID)

	// Link
	envString("LINK_TYPE", &c.Link.Type)
	envString("LINK_PORT", &c.Link.PortPath)
	envInt("LINK_BAUD", &c.Link.BaudRate)
	envString("LINK_BLE_NAME", &c.Link.BLEName)

	// Advisor
	envString("ADVISOR_ENDPOINT", &c.Advisor.Endpoint)
	envString("ADVISOR_API_KEY", &c.Advisor.APIKey)
	envInt("ADVISOR_TIMEOUT_S", &c.Advisor.TimeoutS)

	envString("LISTEN_ADDR", &c.Server.ListenAddr)

	// Logging
	envBool("LOG_ENABLED", &c.Logging.Enabled)
	envString("LOG_PATH", &c.Logging.Path)
	envInt("LOG_INTERVAL_MS", &c.Logging.Interval)

	envString("STORE_PATH", &c.Store.Path)

	// Influx
	envBool("INFLUX_ENABLED", &c.Influx.Enabled)
	envString("INFLUX_URL", &c.Influx.URL)
	envString("INFLUX_TOKEN", &c.Influx.Token)
	envString("INFLUX_ORG", &c.Influx.Org)
	envString("INFLUX_BUCKET", &c.Influx.Bucket)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "1" || v == "true" || v == "yes"
	}
}

// TickPeriod returns the simulator period, at least 10ms.
func (c *Config) TickPeriod() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := time.Duration(c.Sim.TickMs) * time.Millisecond
	if d < 10*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

// Snapshot returns a copy of the thresholds and simulator settings that the
// tick loop reads.
func (c *Config) Snapshot() (SimConfig, ThresholdConfig) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Sim, c.Thresholds
}

// Save writes the config to its YAML file. Secrets keep the values the file
// already had.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		c.path = "/etc/unimix/config.yaml"
	}

	apiKey, token := c.Advisor.APIKey, c.Influx.Token
	c.Advisor.APIKey, c.Influx.Token = c.fileAPIKey, c.fileInfluxToken
	data, err := yaml.Marshal(c)
	c.Advisor.APIKey, c.Influx.Token = apiKey, token
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved (e.g. port paths, secrets, logging).
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Marshal current config to a generic map
	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	// Unmarshal incoming partial update to a map
	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	// Deep merge patch into base
	deepMerge(base, patch)

	// Marshal merged result and unmarshal back into the config struct
	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
