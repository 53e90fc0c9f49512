package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaunagostinho/unimix-dash/internal/advisor"
	"github.com/shaunagostinho/unimix-dash/internal/export"
	"github.com/shaunagostinho/unimix-dash/internal/link"
	"github.com/shaunagostinho/unimix-dash/internal/server"
	"github.com/shaunagostinho/unimix-dash/internal/store"
	"github.com/shaunagostinho/unimix-dash/web"
)

func main() {
	configPath := flag.String("config", "/etc/unimix/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with the simulated OBD adapter only")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	seed := flag.Int64("seed", 0, "Simulator seed (0 = time based)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] unimix starting")

	// Load config
	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.Link.Type = "simulated"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *seed != 0 {
		cfg.Sim.Seed = *seed
	}

	// Create context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Hardware link: simulated until a physical adapter answers
	mgr := link.NewManager(link.NewSimulated(), dialer(cfg.Link))
	defer mgr.Close()

	var opts []server.Option
	opts = append(opts, server.WithWebFS(web.FS))

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Printf("[main] tune storage unavailable: %v (using memory)", err)
		st, err = store.Open("")
	}
	if err == nil {
		defer st.Close()
		opts = append(opts, server.WithStore(st))
	}

	if cfg.Advisor.Endpoint != "" {
		timeout := time.Duration(cfg.Advisor.TimeoutS) * time.Second
		opts = append(opts, server.WithAdvisor(advisor.NewHTTP(cfg.Advisor.Endpoint, cfg.Advisor.APIKey, timeout)))
		log.Printf("[main] advisor at %s", cfg.Advisor.Endpoint)
	}

	if cfg.Influx.Enabled {
		x, err := export.NewInflux(cfg.Influx)
		if err != nil {
			log.Printf("[main] influx export disabled: %v", err)
		} else {
			opts = append(opts, server.WithExporter(x))
		}
	}

	srv := server.New(cfg, mgr, opts...)

	// Server works immediately even while the adapter is still connecting
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
	if err := g.Wait(); err != nil {
		log.Printf("[main] server exited: %v", err)
		return
	}
	log.Println("[main] stopped")
}

// dialer opens the configured physical adapter. It returns nil for the
// simulated link so the manager never tries to connect.
func dialer(cfg server.LinkConfig) link.Dialer {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	switch cfg.Type {
	case "serial":
		return func(ctx context.Context) (link.Link, error) {
			e, err := link.OpenSerial(ctx, link.SerialConfig{
				PortPath: cfg.PortPath,
				BaudRate: cfg.BaudRate,
				Timeout:  timeout,
			})
			if err != nil {
				return nil, err
			}
			return e, nil
		}
	case "ble":
		return func(ctx context.Context) (link.Link, error) {
			e, err := link.OpenBLE(ctx, link.BLEConfig{
				DeviceName: cfg.BLEName,
				Timeout:    timeout,
			})
			if err != nil {
				return nil, err
			}
			return e, nil
		}
	default:
		return nil
	}
}
