package cmd

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"syscall"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ardnew/softhub/device"
	"github.com/ardnew/softhub/device/hal/fifo"
)

// Serve runs a virtual hub until interrupted.
type Serve struct {
	Profile   string        `help:"Hub profile (json, yaml or toml); the built-in four-port hub when empty" type:"path"`
	BusDir    string        `help:"Directory of the FIFO bus" default:"/tmp/softhub/bus0"`
	Endpoints int           `help:"Data endpoints published on the bus" default:"1"`
	Listen    string        `help:"Address serving /metrics and /health; empty disables" default:":9101"`
	Shutdown  time.Duration `help:"Grace period for the HTTP server on exit" default:"5s"`
	Pprof     bool          `help:"Also serve /debug/pprof on the listen address"`
}

// Run is called by kong when the serve command is executed.
func (s *Serve) Run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := loadProfile(s.Profile)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	vh, err := newVirtualHub(ctx, p, reg)
	if err != nil {
		return err
	}

	bus := fifo.New(s.BusDir, s.Endpoints)
	stack := device.NewStack(vh.device, bus)
	vh.hub.SetStack(stack)
	stack.SetOnConfigured(func(config uint8) {
		logger.Info("hub configured by host", "configuration", config)
		vh.configured(ctx)
	})

	var g run.Group
	{
		// Serve the hub on the bus.
		stackCtx, stackCancel := context.WithCancel(ctx)
		g.Add(func() error {
			if err := stack.Start(stackCtx); err != nil {
				return errors.Wrapf(err, "start hub on %s", s.BusDir)
			}
			logger.Info("virtual hub attached",
				"bus", s.BusDir,
				"device", bus.DeviceDir(),
				"ports", p.Ports)
			if err := stack.WaitConnect(stackCtx); err == nil {
				logger.Info("host connected")
			}
			<-stackCtx.Done()
			return nil
		}, func(error) {
			stackCancel()
			if err := stack.Stop(); err != nil {
				logger.Warn("error stopping hub", "error", err)
			}
		})
	}

	if s.Listen != "" {
		// Serve health and metrics.
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if s.Pprof {
			mux.HandleFunc("/debug/pprof/", pprof.Index)
			mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
			mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
			mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
			mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		}
		l, err := net.Listen("tcp", s.Listen)
		if err != nil {
			return errors.Wrapf(err, "listen on %s", s.Listen)
		}
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		g.Add(func() error {
			logger.Info("serving metrics", "addr", l.Addr().String())
			if err := srv.Serve(l); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server exited unexpectedly")
			}
			return nil
		}, func(error) {
			shutdownCtx, done := context.WithTimeout(context.Background(), s.Shutdown)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	// Exit gracefully on SIGINT and SIGTERM.
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sig run.SignalError
	if stderrors.As(err, &sig) {
		logger.Info("caught signal; detaching hub", "signal", sig.Signal.String())
		return nil
	}
	return err
}
