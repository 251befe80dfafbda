// Command fds is the fall-detection daemon. It opens the configured
// sensors, runs every room of every domain, and serves the HTTP and gRPC
// control surfaces until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tailscale.com/tsweb"

	"github.com/rania-fds/fds/internal/api"
	"github.com/rania-fds/fds/internal/config"
	"github.com/rania-fds/fds/internal/events"
	"github.com/rania-fds/fds/internal/metrics"
	"github.com/rania-fds/fds/internal/monitoring"
	"github.com/rania-fds/fds/internal/room"
	"github.com/rania-fds/fds/internal/rpc"
	"github.com/rania-fds/fds/internal/sensor"
	"github.com/rania-fds/fds/internal/timeutil"
	"github.com/rania-fds/fds/internal/version"
)

var (
	configPath  = flag.String("config", "fds.yaml", "Path to the YAML configuration")
	envPath     = flag.String("env", ".env", "Optional dotenv file applied before the configuration")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

// returnWaitTimeout bounds how long shutdown waits for room goroutines.
const returnWaitTimeout = 10 * time.Second

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println("fds", version.String())
		return
	}

	if err := config.LoadDotEnv(*envPath); err != nil {
		monitoring.Default().Errorf("%v", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		monitoring.Default().Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	level, err := monitoring.ParseLevel(cfg.GetLogLevel())
	if err != nil {
		monitoring.Default().Errorf("%v", err)
		os.Exit(1)
	}
	log := monitoring.New(os.Stderr, level)
	log.Infof("fds %s starting", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
	log.Infof("Graceful shutdown complete")
}

// run wires the daemon from cfg and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log *monitoring.Logger) error {
	var cl closers
	defer cl.run()

	met := metrics.New()

	classifier, err := loadClassifier(cfg)
	if err != nil {
		return fmt.Errorf("failed to load classifier: %w", err)
	}
	log.Infof("classifier ready: %d keypoints, k=%d", classifier.Keypoints(), cfg.Tuning.GetKNNNeighbors())

	out, err := buildOutputs(ctx, cfg, met, log, &cl)
	if err != nil {
		return err
	}

	sensors, err := openSensors(cfg, sensor.DefaultRegistry(nil, timeutil.RealClock{}), log, &cl)
	if err != nil {
		return err
	}

	var commands func(int) (events.CommandSource, error)
	var subs []interface{ Close() error }
	if out.bus != nil {
		commands = func(dom int) (events.CommandSource, error) {
			sub, err := out.bus.Commands(ctx, dom)
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
			return sub, nil
		}
	}
	// Subscriptions do not observe ctx, so they are closed once the rooms
	// have stopped to release the command loops.
	defer func() {
		for _, s := range subs {
			if err := s.Close(); err != nil {
				log.Warnf("close command subscription: %v", err)
			}
		}
	}()

	rt := room.Runtime{Log: log, Clock: timeutil.RealClock{}, Metrics: met}
	set, err := buildDomains(cfg, sensors, classifier, out.sink, commands, rt)
	if err != nil {
		return err
	}
	if err := set.Start(ctx); err != nil {
		return fmt.Errorf("failed to start domains: %w", err)
	}

	apiOpts := api.Options{
		Controller: set,
		Hub:        out.hub,
		Metrics:    met,
		Log:        log,
		Debug: func(debug *tsweb.DebugHandler) error {
			debug.KV("Version", version.String())
			if out.store != nil {
				return out.store.AttachAdminRoutes(debug)
			}
			return nil
		},
	}
	if out.store != nil {
		apiOpts.History = out.store
	}
	handler, err := api.NewServer(apiOpts).Handler()
	if err != nil {
		set.Stop()
		return err
	}
	httpServer := &http.Server{Addr: cfg.GetListen(), Handler: handler}
	go func() {
		log.Infof("HTTP API listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	grpcServer := rpc.NewGRPCServer(rpc.NewServer(set, out.hub, log), log)
	lis, err := net.Listen("tcp", cfg.GetGRPCListen())
	if err != nil {
		httpServer.Close()
		set.Stop()
		return fmt.Errorf("failed to listen for gRPC: %w", err)
	}
	go func() {
		log.Infof("gRPC control listening on %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorf("gRPC server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Infof("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP server forced to shutdown: %v", err)
		httpServer.Close()
	}
	grpcServer.GracefulStop()

	set.Stop()
	for _, s := range subs {
		if err := s.Close(); err != nil {
			log.Warnf("close command subscription: %v", err)
		}
	}
	subs = nil

	done := make(chan struct{})
	go func() {
		set.ReturnWait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(returnWaitTimeout):
		log.Warnf("rooms still running after %s; exiting anyway", returnWaitTimeout)
	}
	return nil
}
