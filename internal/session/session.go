// Package session assembles the pieces the commands run together: a
// simulated object graph, the engine over it, its metrics, and a backend
// connection publishing it.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/CrimsonAS/signalgraph/backend"
	"github.com/CrimsonAS/signalgraph/config"
	"github.com/CrimsonAS/signalgraph/counter"
	"github.com/CrimsonAS/signalgraph/engine"
	"github.com/CrimsonAS/signalgraph/registry"
)

var log = commonlog.GetLogger("signalgraph.session")

type Session struct {
	Config    config.Config
	Registry  *registry.MemRegistry
	Simulator *registry.Simulator
	Engine    *engine.Engine
	Metrics   *prometheus.Registry
}

// New builds a session from cfg. The simulated graph is populated with the
// configured number of objects before New returns.
func New(cfg config.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := engine.OptionsFromConfig(cfg.Engine)
	if err != nil {
		return nil, err
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector())
	opts.Metrics = engine.NewMetrics(metrics)

	classes := make([]registry.Class, len(cfg.Simulator.Classes))
	for i, c := range cfg.Simulator.Classes {
		classes[i] = registry.Class(c)
	}
	reg := registry.NewMemRegistry()
	sim := registry.NewSimulator(reg, cfg.Simulator.Seed, cfg.Simulator.Threads, classes)
	sim.MaxObjects = cfg.Simulator.MaxObjects
	sim.Populate(cfg.Simulator.Objects)

	return &Session{
		Config:    cfg,
		Registry:  reg,
		Simulator: sim,
		Engine:    engine.New(reg, opts),
		Metrics:   metrics,
	}, nil
}

// ServeOptions control Serve.
type ServeOptions struct {
	// ConfigPath is watched for changes when set.
	ConfigPath string
	// Start starts the engine as soon as the connection is up.
	Start bool
	// Simulate keeps mutating the simulated graph while serving.
	Simulate bool
}

// Serve publishes the engine on conn until the client goes away or ctx is
// done. Alongside the connection it runs the engine loop, and depending on
// opts and the configuration the simulator, the config watcher and the
// metrics endpoint.
//
// The connection, the config watcher and the engine's passes all run under
// the engine's lock, so objects published on conn are only touched by one
// goroutine at a time.
func (s *Session) Serve(ctx context.Context, conn *backend.Connection, opts ServeOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	lock, engineDone := s.Engine.RunLockable(ctx)
	g.Go(func() error {
		<-engineDone
		return nil
	})

	inspector := backend.NewInspector(s.Engine)
	lock.Lock()
	conn.RootObject = inspector
	err := conn.Start()
	if err == nil && opts.Start {
		inspector.Start()
	}
	lock.Unlock()
	if err != nil {
		return err
	}

	g.Go(func() error {
		// The session ends with the client
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-conn.ProcessSignal():
				lock.Lock()
				err := conn.Process()
				lock.Unlock()
				if errors.Is(err, backend.ErrClosed) {
					return nil
				} else if err != nil {
					return err
				}
			}
		}
	})

	if opts.Simulate {
		g.Go(func() error {
			return ignoreCancel(s.Simulator.Run(ctx, s.Config.Simulator.Interval))
		})
	}

	if opts.ConfigPath != "" {
		g.Go(func() error {
			return ignoreCancel(config.Watch(ctx, opts.ConfigPath, func(cfg config.Config) {
				lock.Lock()
				defer lock.Unlock()
				s.apply(cfg, inspector)
			}))
		})
	}

	if addr := s.Config.Metrics.Listen; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           s.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Infof("serving metrics on %s", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	lock.Lock()
	s.Engine.Stop()
	lock.Unlock()
	return err
}

// MetricsHandler serves the session's metrics in the Prometheus format.
func (s *Session) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.Metrics, promhttp.HandlerOpts{}))
	return mux
}

// apply takes over the settings of a reloaded configuration that can
// change while running. Mode and live policy only apply to new sessions.
func (s *Session) apply(cfg config.Config, inspector *backend.Inspector) {
	if cfg.Engine.Mode != s.Config.Engine.Mode || cfg.Engine.LivePolicy != s.Config.Engine.LivePolicy {
		log.Warning("engine mode and live policy changes apply on restart")
	}
	inspector.SetSamplingRate(cfg.Engine.SamplingRate)
	inspector.SetBufferSize(cfg.Engine.BufferSize)
	s.Engine.SetDefaults(counter.Defaults{
		Recording: cfg.Engine.DefaultRecording,
		Visible:   cfg.Engine.DefaultVisible,
	})
	s.Config.Engine.SamplingRate = cfg.Engine.SamplingRate
	s.Config.Engine.BufferSize = cfg.Engine.BufferSize
	s.Config.Engine.DefaultRecording = cfg.Engine.DefaultRecording
	s.Config.Engine.DefaultVisible = cfg.Engine.DefaultVisible
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
