package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
	"github.com/shaunagostinho/unimix-dash/internal/tune"
)

var testProfile = ecu.VehicleProfile{ID: "hellcat", MaxBoost: 22, SafeAFR: 11.5, Induction: ecu.InductionSupercharged}

func history(n int) []ecu.Telemetry {
	out := make([]ecu.Telemetry, n)
	for i := range out {
		out[i] = ecu.Telemetry{RPM: float64(1000 + i), Timestamp: int64(i)}
	}
	return out
}

func TestNewHTTP_TrimsTrailingSlash(t *testing.T) {
	a := NewHTTP("http://localhost:8090/", "k", 0)
	assert.Equal(t, "http://localhost:8090", a.baseURL)
	assert.Equal(t, 30*time.Second, a.httpClient.Timeout)
}

func TestHTTPAdvisor_Suggest(t *testing.T) {
	var got suggestRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/suggest", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"afrTarget": 11.9,
			"boostLimit": 30,
			"reasoning": "intake temps are stable",
			"safeEnvelope": {"boost": [-5, 20], "afr": [11.0, 13.0]}
		}`))
	}))
	defer srv.Close()

	a := NewHTTP(srv.URL, "secret", time.Second)
	s, err := a.Suggest(context.Background(), testProfile, ecu.DefaultTune(), history(50))
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Len(t, got.History, HistorySamples)
	assert.Equal(t, 1049.0, got.History[HistorySamples-1].RPM)
	assert.Equal(t, "hellcat", got.Profile.ID)

	assert.Equal(t, 11.9, *s.AFRTarget)
	assert.Nil(t, s.IgnitionOffset)
	assert.Equal(t, "intake temps are stable", s.Reasoning)
	require.NotNil(t, s.SafeEnvelope)
	assert.Equal(t, Range{-5, 20}, *s.SafeEnvelope.Boost)
	assert.Nil(t, s.SafeEnvelope.Ignition)
}

func TestHTTPAdvisor_NoSuggestion(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"no content": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) },
		"empty body": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
		"null":       func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("null")) },
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()
			s, err := NewHTTP(srv.URL, "", time.Second).Suggest(context.Background(), testProfile, ecu.DefaultTune(), nil)
			assert.NoError(t, err)
			assert.Nil(t, s)
		})
	}
}

func TestHTTPAdvisor_Errors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		_, err := NewHTTP(srv.URL, "", time.Second).Suggest(context.Background(), testProfile, ecu.DefaultTune(), nil)
		assert.Error(t, err)
	})

	t.Run("bad json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		}))
		defer srv.Close()
		_, err := NewHTTP(srv.URL, "", time.Second).Suggest(context.Background(), testProfile, ecu.DefaultTune(), nil)
		assert.Error(t, err)
	})

	t.Run("unreachable", func(t *testing.T) {
		_, err := NewHTTP("http://127.0.0.1:1", "", time.Second).Suggest(context.Background(), testProfile, ecu.DefaultTune(), nil)
		assert.Error(t, err)
	})
}

func TestSuggestion_Adjustment(t *testing.T) {
	s := &Suggestion{
		AFRTarget:      tune.Float(11.8),
		BoostLimit:     tune.Float(30),
		IgnitionOffset: tune.Float(math.NaN()),
	}
	adj := s.Adjustment(testProfile)
	assert.Equal(t, 11.8, *adj.AFRTarget)
	assert.Equal(t, 22.0, *adj.BoostLimit)
	assert.Nil(t, adj.IgnitionOffset)
	assert.Nil(t, adj.FuelCorrection)

	var none *Suggestion
	assert.True(t, none.Adjustment(testProfile).IsEmpty())
}

func TestEnvelope_Check(t *testing.T) {
	env := &Envelope{
		Boost:    &Range{-5, 15},
		AFR:      &Range{11, 13},
		Ignition: &Range{-4, 2},
	}
	cur := ecu.DefaultTune()

	assert.Empty(t, env.Check(ecu.Telemetry{Boost: 10, AFR: 12}, cur))

	cur.IgnitionOffset = 3
	devs := env.Check(ecu.Telemetry{Boost: 17, AFR: 12}, cur)
	require.Len(t, devs, 2)
	assert.Equal(t, "boost", devs[0].Channel)
	assert.Equal(t, "ignition", devs[1].Channel)
	assert.Contains(t, devs[0].String(), "boost 17.00 outside safe range")

	var nilEnv *Envelope
	assert.Nil(t, nilEnv.Check(ecu.Telemetry{Boost: 99}, cur))
	assert.True(t, Range{13, 11}.Contains(12))
}

// gatedAdvisor blocks every call until released or cancelled.
type gatedAdvisor struct {
	release chan struct{}
	err     error
	result  *Suggestion
}

func (g *gatedAdvisor) Suggest(ctx context.Context, _ ecu.VehicleProfile, _ ecu.TuneSettings, _ []ecu.Telemetry) (*Suggestion, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.release:
		return g.result, g.err
	}
}

type collector struct {
	mu      sync.Mutex
	results []Result
}

func (c *collector) add(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *collector) all() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Result(nil), c.results...)
}

func TestCoordinator_LastResultWins(t *testing.T) {
	adv := &gatedAdvisor{release: make(chan struct{}), result: &Suggestion{Reasoning: "newest"}}
	var got collector
	c := NewCoordinator(adv, time.Second, got.add)
	stale := make(chan uint64, 4)
	c.OnStale = func(id uint64) { stale <- id }

	first := c.Request(context.Background(), testProfile, ecu.DefaultTune(), nil)
	second := c.Request(context.Background(), testProfile, ecu.DefaultTune(), nil)
	assert.Greater(t, second, first)
	assert.True(t, c.Pending())

	close(adv.release)
	c.Wait()

	results := got.all()
	require.Len(t, results, 1)
	assert.Equal(t, second, results[0].ID)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "newest", results[0].Suggestion.Reasoning)
	assert.False(t, c.Pending())

	require.Len(t, stale, 1)
	assert.Equal(t, first, <-stale)
}

func TestCoordinator_SlowDeliveryDoesNotOverwriteNewer(t *testing.T) {
	adv := &gatedAdvisor{release: make(chan struct{}), result: &Suggestion{Reasoning: "ok"}}
	close(adv.release)

	entered := make(chan struct{})
	gate := make(chan struct{})
	var got collector
	c := NewCoordinator(adv, time.Second, func(r Result) {
		if r.ID == 1 {
			close(entered)
			<-gate
		}
		got.add(r)
	})

	first := c.Request(context.Background(), testProfile, ecu.DefaultTune(), nil)
	<-entered
	second := c.Request(context.Background(), testProfile, ecu.DefaultTune(), nil)

	// the newer result must wait for the slow delivery to finish
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, got.all())

	close(gate)
	c.Wait()

	results := got.all()
	require.Len(t, results, 2)
	assert.Equal(t, first, results[0].ID)
	assert.Equal(t, second, results[1].ID)
}

func TestCoordinator_FailureIsDelivered(t *testing.T) {
	adv := &gatedAdvisor{release: make(chan struct{}), err: errors.New("model offline")}
	close(adv.release)
	var got collector
	c := NewCoordinator(adv, time.Second, got.add)

	c.Request(context.Background(), testProfile, ecu.DefaultTune(), nil)
	c.Wait()

	results := got.all()
	require.Len(t, results, 1)
	assert.EqualError(t, results[0].Err, "model offline")
	assert.Nil(t, results[0].Suggestion)
}

func TestCoordinator_CloseCancels(t *testing.T) {
	adv := &gatedAdvisor{release: make(chan struct{})}
	var got collector
	c := NewCoordinator(adv, time.Minute, got.add)

	c.Request(context.Background(), testProfile, ecu.DefaultTune(), nil)
	c.Close()

	assert.Empty(t, got.all())
	assert.False(t, c.Pending())
}

func TestCoordinator_Timeout(t *testing.T) {
	adv := &gatedAdvisor{release: make(chan struct{})}
	var got collector
	c := NewCoordinator(adv, 20*time.Millisecond, got.add)

	c.Request(context.Background(), testProfile, ecu.DefaultTune(), nil)
	c.Wait()

	results := got.all()
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
}
