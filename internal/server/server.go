package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math/rand"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/shaunagostinho/unimix-dash/internal/advisor"
	"github.com/shaunagostinho/unimix-dash/internal/ecu"
	"github.com/shaunagostinho/unimix-dash/internal/history"
	"github.com/shaunagostinho/unimix-dash/internal/link"
	"github.com/shaunagostinho/unimix-dash/internal/logger"
	"github.com/shaunagostinho/unimix-dash/internal/metrics"
	"github.com/shaunagostinho/unimix-dash/internal/store"
	"github.com/shaunagostinho/unimix-dash/internal/tune"
)

// Exporter receives every simulated snapshot.
type Exporter interface {
	Write(t ecu.Telemetry, profileID, session string)
	Close()
}

// Option configures optional collaborators of the Server.
type Option func(*Server)

// WithAdvisor enables POST /api/advise.
func WithAdvisor(a advisor.Advisor) Option {
	return func(s *Server) { s.advisor = a }
}

// WithStore enables saved tunes.
func WithStore(st *store.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithExporter streams telemetry to an external time series store.
func WithExporter(e Exporter) Option {
	return func(s *Server) { s.exporter = e }
}

// WithWebFS serves the dashboard UI from fsys.
func WithWebFS(fsys fs.FS) Option {
	return func(s *Server) { s.webFS = fsys }
}

// Server owns the simulator tick loop and broadcasts its frames to
// WebSocket clients.
type Server struct {
	cfg      *Config
	link     link.Link
	disp     *link.Dispatcher
	advisor  advisor.Advisor
	coord    *advisor.Coordinator
	store    *store.Store
	exporter Exporter
	webFS    fs.FS
	logger   *logger.Logger
	session  string

	// Owned by the tick goroutine
	sim  *ecu.Simulator
	rng  *rand.Rand
	prev ecu.Telemetry

	history  *history.Buffer[ecu.Telemetry]
	profiles []ecu.VehicleProfile
	optimize singleflight.Group

	// Guards the live calibration and what the tick loop publishes
	mu          sync.RWMutex
	tune        ecu.TuneSettings
	profile     ecu.VehicleProfile
	latest      ecu.Telemetry
	envelope    *advisor.Envelope
	recording   bool
	resetLaunch bool

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	// Odometer, persisted distance tracking
	odoMu    sync.Mutex
	odoTotal float64 // Total miles
	odoTrip  float64 // Trip miles (resettable)
	odoPath  string  // File path for persistence
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Telemetry *ecu.Telemetry      `json:"telemetry,omitempty"`
	Tune      *ecu.TuneSettings   `json:"tune,omitempty"`
	Profile   *ecu.VehicleProfile `json:"profile,omitempty"`
	Link      *LinkData           `json:"link,omitempty"`
	Warnings  []string            `json:"warnings,omitempty"`
	Odo       *OdoData            `json:"odo,omitempty"`
	Recording bool                `json:"recording"`
	Session   string              `json:"session"`
	Stamp     int64               `json:"stamp"` // Unix ms
}

// LinkData describes the hardware link.
type LinkData struct {
	Name    string      `json:"name"`
	Status  link.Status `json:"status"`
	Dropped int64       `json:"dropped"` // intents lost on a full queue
}

// OdoData is the odometer info sent to clients.
type OdoData struct {
	Total float64 `json:"total"` // miles
	Trip  float64 `json:"trip"`  // miles
}

// New creates a new Server. A nil link runs against a simulated adapter.
func New(cfg *Config, l link.Link, opts ...Option) *Server {
	odoPath := filepath.Join(filepath.Dir(cfg.path), "odometer.dat")
	if cfg.path == "" {
		odoPath = "/var/lib/unimix/odometer.dat"
	}
	if l == nil {
		l = link.NewSimulated()
	}

	params := ecu.DefaultParams()
	params.TickPeriod = cfg.TickPeriod()
	if cfg.Sim.PSIMax > 0 {
		params.PSIMax = cfg.Sim.PSIMax
	}
	seed := cfg.Sim.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Server{
		cfg:  cfg,
		link: l,
		logger: logger.New(logger.Config{
			Enabled:    cfg.Logging.Enabled,
			Path:       cfg.Logging.Path,
			IntervalMs: cfg.Logging.Interval,
		}),
		sim:       ecu.NewSimulator(params),
		rng:       rand.New(rand.NewSource(seed)),
		prev:      ecu.InitialTelemetry(time.Now()),
		history:   history.New[ecu.Telemetry](cfg.Sim.LogCapacity),
		profiles:  append(append([]ecu.VehicleProfile(nil), tune.Profiles...), cfg.Vehicle.Profiles...),
		tune:      cfg.Tune.Sanitized(),
		recording: cfg.Sim.Recording,
		clients:   make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		odoPath: odoPath,
	}
	s.session = s.logger.Session()
	for _, opt := range opts {
		opt(s)
	}

	s.disp = link.NewDispatcher(l, link.OnDrop(func(in ecu.Intent) {
		metrics.IntentsDroppedTotal.Inc()
		log.Printf("[link] queue full, dropped %s", in.Kind)
	}))
	if s.advisor != nil {
		timeout := time.Duration(cfg.Advisor.TimeoutS) * time.Second
		s.coord = advisor.NewCoordinator(s.advisor, timeout, s.onAdvice)
		s.coord.OnStale = func(uint64) {
			metrics.AdvisorResultsTotal.WithLabelValues("stale").Inc()
		}
	}

	profile, err := s.lookupProfile(cfg.Vehicle.ProfileID)
	if err != nil {
		log.Printf("[server] %v, using %s", err, tune.DefaultProfileID)
		profile, _ = s.lookupProfile(tune.DefaultProfileID)
	}
	s.profile = profile
	s.loadSavedTune(context.Background())
	s.latest = s.prev

	s.loadOdometer()
	return s
}

// Run starts the HTTP server, the tick loop and the background workers.
// It returns when ctx is cancelled or a worker fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.disp.Run(ctx) })

	g.Go(func() error {
		s.tickLoop(ctx)
		return nil
	})

	if sim, _ := s.cfg.Snapshot(); sim.AutoOptimize {
		g.Go(func() error {
			s.optimizeLoop(ctx, time.Duration(sim.OptimizeIntervalS)*time.Second)
			return nil
		})
	}

	// Persist odometer every 30 seconds
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s.saveOdometer()
			}
		}
	})

	g.Go(func() error {
		log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", s.cfg.Server.ListenAddr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	err := g.Wait()
	s.shutdown()
	return err
}

func (s *Server) shutdown() {
	if s.coord != nil {
		s.coord.Close()
	}
	s.logger.Close()
	if s.exporter != nil {
		s.exporter.Close()
	}
	s.saveOdometer()
	s.clientsMu.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.clientsMu.Unlock()
}

func (s *Server) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.broadcast(s.tick(now))
		}
	}
}

// tick advances the simulator once and returns the frame to broadcast. Only
// the tick goroutine calls it.
func (s *Server) tick(now time.Time) Frame {
	s.mu.Lock()
	reset := s.resetLaunch
	s.resetLaunch = false
	current, profile, recording := s.tune, s.profile, s.recording
	s.mu.Unlock()

	if reset {
		s.sim.Reset()
		s.prev.ZeroToSixty = nil
	}

	prev := s.prev
	next, intents := s.sim.Step(prev, current, profile, now, s.rng.Float64)
	s.prev = next

	if recording {
		s.history.Push(next)
		s.logger.Record(next)
	}
	if len(intents) > 0 {
		s.disp.Dispatch(intents...)
	}
	metrics.ObserveTick(next, intents, s.history.Len())
	if s.exporter != nil {
		s.exporter.Write(next, profile.ID, s.session)
	}
	s.updateOdometer(prev, next)

	_, th := s.cfg.Snapshot()
	s.mu.Lock()
	s.latest = next
	warnings := checkWarnings(next, current, th, s.envelope)
	s.mu.Unlock()

	return s.frame(&next, warnings)
}

// frame builds a full frame around t.
func (s *Server) frame(t *ecu.Telemetry, warnings []string) Frame {
	s.mu.RLock()
	current, profile, recording := s.tune, s.profile, s.recording
	s.mu.RUnlock()

	status := s.link.Status()
	if status == link.StatusPhysical {
		metrics.LinkPhysical.Set(1)
	} else {
		metrics.LinkPhysical.Set(0)
	}

	s.odoMu.Lock()
	odo := &OdoData{Total: roundTo(s.odoTotal, 1), Trip: roundTo(s.odoTrip, 1)}
	s.odoMu.Unlock()

	return Frame{
		Telemetry: t,
		Tune:      &current,
		Profile:   &profile,
		Link:      &LinkData{Name: s.link.Name(), Status: status, Dropped: s.disp.Dropped()},
		Warnings:  warnings,
		Odo:       odo,
		Recording: recording,
		Session:   s.session,
		Stamp:     time.Now().UnixMilli(),
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Send the latest state right away
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if data, err := json.Marshal(s.frame(&latest, nil)); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (handle incoming messages / keep-alive)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

// lookupProfile finds a profile in the built-in catalog or the configured
// extras. Configured profiles win on id clashes.
func (s *Server) lookupProfile(id string) (ecu.VehicleProfile, error) {
	for i := len(s.profiles) - 1; i >= 0; i-- {
		if s.profiles[i].ID == id {
			return s.profiles[i], nil
		}
	}
	return ecu.VehicleProfile{}, fmt.Errorf("unknown vehicle profile %q", id)
}

// loadSavedTune replaces the live tune with the newest one saved for the
// current profile, if any.
func (s *Server) loadSavedTune(ctx context.Context) {
	if s.store == nil {
		return
	}
	s.mu.RLock()
	id := s.profile.ID
	s.mu.RUnlock()

	rec, err := s.store.Latest(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[store] %v", err)
		}
		return
	}
	s.mu.Lock()
	s.tune = rec.Tune.Sanitized()
	s.mu.Unlock()
	log.Printf("[store] restored %q for %s", rec.Name, id)
}
