package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaunagostinho/unimix-dash/internal/advisor"
	"github.com/shaunagostinho/unimix-dash/internal/ecu"
	"github.com/shaunagostinho/unimix-dash/internal/logger"
	"github.com/shaunagostinho/unimix-dash/internal/metrics"
	"github.com/shaunagostinho/unimix-dash/internal/store"
	"github.com/shaunagostinho/unimix-dash/internal/tune"
)

const (
	maxBodyBytes = 1 << 20
	linkTimeout  = 5 * time.Second
)

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.webFS != nil {
		mux.Handle("GET /", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Config API
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config", s.handlePostConfig)

	// Tune
	mux.HandleFunc("GET /api/tune", s.handleGetTune)
	mux.HandleFunc("POST /api/tune", s.handlePostTune)
	mux.HandleFunc("POST /api/tune/preset/{name}", s.handlePreset)
	mux.HandleFunc("POST /api/tune/save", s.handleSaveTune)
	mux.HandleFunc("GET /api/tune/saved", s.handleSavedTunes)
	mux.HandleFunc("POST /api/optimize", s.handleOptimize)
	mux.HandleFunc("POST /api/advise", s.handleAdvise)

	// Vehicle
	mux.HandleFunc("GET /api/profiles", s.handleProfiles)
	mux.HandleFunc("POST /api/profile/{id}", s.handleSelectProfile)

	// Recording
	mux.HandleFunc("POST /api/recording", s.handleRecording)
	mux.HandleFunc("GET /api/logs", s.handleGetLogs)
	mux.HandleFunc("DELETE /api/logs", s.handleClearLogs)
	mux.HandleFunc("POST /api/launch/reset", s.handleLaunchReset)

	// Diagnostics
	mux.HandleFunc("GET /api/dtc", s.handleReadDTC)
	mux.HandleFunc("POST /api/dtc/clear", s.handleClearDTC)

	// Odometer API
	mux.HandleFunc("POST /api/odo/reset-trip", s.handleResetTrip)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	data, err := s.cfg.ToJSON()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "bad request", 400)
		return
	}
	if err := s.cfg.UpdateFromJSON(body); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if err := s.cfg.Save(); err != nil {
		log.Printf("[config] save failed: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetTune(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Tune())
}

// handlePostTune merges a partial tune into the live calibration.
func (s *Server) handlePostTune(w http.ResponseWriter, r *http.Request) {
	var adj tune.Adjustment
	if err := decodeBody(r, &adj); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ApplyAdjustment(adj, "api"))
}

func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	adj, err := tune.Preset(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ApplyAdjustment(adj, "preset "+r.PathValue("name")))
}

func (s *Server) handleSaveTune(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("tune storage disabled"))
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	s.mu.RLock()
	current, profileID := s.tune, s.profile.ID
	s.mu.RUnlock()

	rec, err := s.store.Save(r.Context(), profileID, req.Name, current)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	log.Printf("[store] saved %q for %s", rec.Name, profileID)
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleSavedTunes(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []store.SavedTune{})
		return
	}
	s.mu.RLock()
	profileID := s.profile.ID
	s.mu.RUnlock()
	if q := r.URL.Query().Get("profile"); q != "" {
		profileID = q
	}
	list, err := s.store.List(r.Context(), profileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []store.SavedTune{}
	}
	writeJSON(w, http.StatusOK, list)
}

type optimizeResponse struct {
	Adjustment tune.Adjustment  `json:"adjustment"`
	Applied    bool             `json:"applied"`
	Tune       ecu.TuneSettings `json:"tune"`
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	adj, current := s.Optimize()
	writeJSON(w, http.StatusOK, optimizeResponse{Adjustment: adj, Applied: !adj.IsEmpty(), Tune: current})
}

func (s *Server) handleAdvise(w http.ResponseWriter, r *http.Request) {
	id, ok := s.RequestAdvice(context.Background())
	if !ok {
		writeError(w, http.StatusServiceUnavailable, errors.New("advisor not configured"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uint64{"id": id})
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.profiles)
}

func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.lookupProfile(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	s.mu.Lock()
	s.profile = profile
	s.envelope = nil
	s.mu.Unlock()
	log.Printf("[server] vehicle profile %s (%s)", profile.ID, profile.Name)

	s.loadSavedTune(r.Context())
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.mu.Lock()
	s.recording = req.Enabled
	s.mu.Unlock()
	log.Printf("[server] recording %v", req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"recording": req.Enabled})
}

// handleGetLogs exports the recorded history as CSV, or JSON with
// ?format=json.
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	rows := s.history.Snapshot()
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, rows)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="unimix_`+s.session[:8]+`.csv"`)
	if err := logger.WriteCSV(w, rows); err != nil {
		log.Printf("[api] csv export: %v", err)
	}
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	s.history.Clear()
	metrics.HistoryLength.Set(0)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLaunchReset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.resetLaunch = true
	s.latest.ZeroToSixty = nil
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadDTC(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), linkTimeout)
	defer cancel()
	codes, err := s.link.ReadFaultCodes(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": s.link.Status(),
		"codes":  codes,
	})
}

func (s *Server) handleClearDTC(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), linkTimeout)
	defer cancel()
	ok, err := s.link.ClearFaultCodes(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": ok})
}

func (s *Server) handleResetTrip(w http.ResponseWriter, r *http.Request) {
	s.resetTrip()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Tune returns the live calibration.
func (s *Server) Tune() ecu.TuneSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tune
}

// ApplyAdjustment merges adj into the live tune and projects the change onto
// the hardware link as a RAM_WRITE intent.
func (s *Server) ApplyAdjustment(adj tune.Adjustment, source string) ecu.TuneSettings {
	s.mu.Lock()
	if adj.IsEmpty() {
		current := s.tune
		s.mu.Unlock()
		return current
	}
	s.tune = adj.Apply(s.tune).Sanitized()
	current := s.tune
	s.mu.Unlock()

	in := ecu.Intent{Kind: ecu.IntentRAMWrite, Command: "RAM_WRITE " + adj.String()}
	s.disp.Dispatch(in)
	metrics.IntentsTotal.WithLabelValues(string(in.Kind)).Inc()
	log.Printf("[tune] %s: %s", source, adj)
	return current
}

// Optimize runs the local optimizer over a copy of the history and applies
// its adjustment. Concurrent callers share one run.
func (s *Server) Optimize() (tune.Adjustment, ecu.TuneSettings) {
	type result struct {
		adj  tune.Adjustment
		tune ecu.TuneSettings
	}
	v, _, _ := s.optimize.Do("optimize", func() (interface{}, error) {
		samples := s.history.Snapshot()
		s.mu.RLock()
		current, profile := s.tune, s.profile
		s.mu.RUnlock()

		adj := tune.Optimize(samples, current, profile)
		if adj.IsEmpty() {
			metrics.OptimizerRunsTotal.WithLabelValues("noop").Inc()
			return result{adj: adj, tune: current}, nil
		}
		metrics.OptimizerRunsTotal.WithLabelValues("applied").Inc()
		return result{adj: adj, tune: s.ApplyAdjustment(adj, "optimizer")}, nil
	})
	res := v.(result)
	return res.adj, res.tune
}

func (s *Server) optimizeLoop(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 15 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Optimize()
		}
	}
}

// RequestAdvice asks the remote advisor for a suggestion in the background.
// It reports false when no advisor is configured.
func (s *Server) RequestAdvice(ctx context.Context) (uint64, bool) {
	if s.coord == nil {
		return 0, false
	}
	s.mu.RLock()
	current, profile := s.tune, s.profile
	s.mu.RUnlock()
	return s.coord.Request(ctx, profile, current, s.history.Last(advisor.HistorySamples)), true
}

// onAdvice applies the newest advisor result. Failures only cost the
// suggestion.
func (s *Server) onAdvice(res advisor.Result) {
	switch {
	case res.Err != nil:
		metrics.AdvisorResultsTotal.WithLabelValues("error").Inc()
		log.Printf("[advisor] no suggestion: %v", res.Err)
		return
	case res.Suggestion == nil:
		metrics.AdvisorResultsTotal.WithLabelValues("empty").Inc()
		log.Printf("[advisor] no suggestion for request %d", res.ID)
		return
	}
	metrics.AdvisorResultsTotal.WithLabelValues("suggestion").Inc()

	s.mu.Lock()
	profile := s.profile
	s.envelope = res.Suggestion.SafeEnvelope
	s.mu.Unlock()

	if res.Suggestion.Reasoning != "" {
		log.Printf("[advisor] %s", res.Suggestion.Reasoning)
	}
	s.ApplyAdjustment(res.Suggestion.Adjustment(profile), "advisor")
}
