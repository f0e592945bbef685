// Command rpmad is the rpma daemon: it opens a local RDMA device, creates a
// Peer against it, registers a memory region for remote read, accepts
// incoming Connection Requests on a listening Endpoint, and serves an admin
// HTTP surface (health, metrics, introspection) until signaled to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/openrdma/gorpma/internal/cmverbs"
	"github.com/openrdma/gorpma/internal/config"
	rpmametrics "github.com/openrdma/gorpma/internal/metrics"
	"github.com/openrdma/gorpma/internal/rdmadev"
	"github.com/openrdma/gorpma/internal/rpma"
	"github.com/openrdma/gorpma/internal/server"
	appversion "github.com/openrdma/gorpma/internal/version"
)

// shutdownTimeout is the maximum time to wait for the admin HTTP server to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// regionLength is the size of the buffer this daemon registers and
// advertises to every accepted connection. A future revision could make
// this (and the backing file for persistent placement) configurable; today
// it is a single fixed region, matching the loopback scenario §8 describes.
const regionLength = 4096

// flightRecorderMinAge is the minimum window age for the flight recorder.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("rpmad starting",
		slog.String("version", appversion.Version),
		slog.String("device", cfg.Device.Name),
		slog.Int("port", cfg.Device.Port),
		slog.String("endpoint_addr", cfg.Endpoint.Addr),
		slog.String("endpoint_service", cfg.Endpoint.Service),
		slog.String("admin_addr", cfg.Admin.Addr),
	)

	fr := startFlightRecorder(logger)

	reg := prometheus.NewRegistry()
	collector := rpmametrics.NewCollector(reg)
	registry := server.NewRegistry()

	dev, err := rdmadev.Resolve(cfg.Device.Name, cfg.Device.Port)
	if err != nil {
		logger.Error("failed to resolve local RDMA device", slog.String("error", err.Error()))
		return 1
	}

	provider := cmverbs.New()

	peer, err := rpma.NewPeer(provider, dev)
	if err != nil {
		logger.Error("failed to create peer", slog.String("error", err.Error()))
		return 1
	}
	peerID := fmt.Sprintf("%s/%d", dev.Name, dev.Port)
	registry.AddPeer(server.PeerInfo{ID: peerID, Device: dev.Name, Port: dev.Port})

	buf := make([]byte, regionLength)
	region, err := rpma.RegisterRegion(peer, buf, rpma.UsageReadSrc|rpma.UsageReadDst, rpma.PlacementVolatile)
	if err != nil {
		logger.Error("failed to register memory region", slog.String("error", err.Error()))
		registry.RemovePeer(peerID)
		return 1
	}
	regionID := peerID + "/0"
	registry.AddRegion(server.RegionInfo{ID: regionID, PeerID: peerID, Usage: fmt.Sprintf("%v", region.Usage()), Length: region.Len()})
	collector.RegisterRegion(peerID)

	if err := runServers(cfg, peer, region, collector, registry, reg, logger, logLevel, fr); err != nil {
		logger.Error("rpmad exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("rpmad stopped")
	return 0
}

// runServers accepts incoming Connection Requests on a listening Endpoint
// and serves the admin HTTP surface using an errgroup with a signal-aware
// context, tearing everything down bottom-up on cancellation.
func runServers(
	cfg *config.Config,
	peer *rpma.Peer,
	region *rpma.LocalRegion,
	collector *rpmametrics.Collector,
	registry *server.Registry,
	reg *prometheus.Registry,
	logger *slog.Logger,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	adminHandler := server.NewAdminHandler(registry, reg, cfg.Admin.MetricsPath, logger,
		server.LoggingInterceptorOption(logger),
		server.RecoveryInterceptorOption(logger),
	)
	adminSrv := server.NewAdminServer(cfg.Admin.Addr, adminHandler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	endpoint, err := rpma.NewEndpoint(peer, cfg.Endpoint.Addr, cfg.Endpoint.Service)
	if err != nil {
		return fmt.Errorf("create endpoint: %w", err)
	}
	registry.AddEndpoint()
	endpointID := cfg.Endpoint.Addr + ":" + cfg.Endpoint.Service

	var connsMu sync.Mutex
	conns := make(map[string]*rpma.Connection)

	g.Go(func() error {
		return acceptLoop(gCtx, endpoint, region, cfg.Limits.ConnectTimeout, collector, registry, peerID(peer), &connsMu, conns, logger)
	})

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		return listenAndServe(gCtx, &lc, adminSrv, cfg.Admin.Addr)
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, cfg.Log, logLevel, logger)
		return nil
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, peer, region, endpoint, endpointID, &connsMu, conns, registry, logger, fr, adminSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

func peerID(peer *rpma.Peer) string {
	dev := peer.Device()
	return fmt.Sprintf("%s/%d", dev.Name, dev.Port)
}

// acceptLoop repeatedly accepts incoming Connection Requests, advertises
// the daemon's registered region as accept private data, and registers the
// resulting Connection in registry for introspection and metrics. Each
// accepted connection gets its own event-draining goroutine so a slow or
// idle peer cannot stall acceptance of the next one.
func acceptLoop(
	ctx context.Context,
	endpoint *rpma.Endpoint,
	region *rpma.LocalRegion,
	connectTimeout time.Duration,
	collector *rpmametrics.Collector,
	registry *server.Registry,
	peerLabel string,
	connsMu *sync.Mutex,
	conns map[string]*rpma.Connection,
	logger *slog.Logger,
) error {
	descriptor := region.Descriptor()

	for {
		req, err := endpoint.NextConnRequest(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("failed to accept connection request", slog.String("error", err.Error()))
			continue
		}

		acceptCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		conn, err := req.Connect(acceptCtx, rpma.ConnConfig{}, descriptor)
		cancel()
		if err != nil {
			logger.Warn("failed to accept connection", slog.String("error", err.Error()))
			continue
		}

		connID := fmt.Sprintf("%s-%d", peerLabel, time.Now().UnixNano())
		connsMu.Lock()
		conns[connID] = conn
		connsMu.Unlock()

		registry.AddConnection(server.ConnectionInfo{
			ID:             connID,
			PeerID:         peerLabel,
			State:          conn.State().String(),
			PrivateDataLen: len(conn.GetPrivateData()),
		})
		collector.RegisterConnection(peerLabel)
		logger.Info("connection established", slog.String("connection_id", connID))

		go drainConnectionEvents(ctx, connID, conn, collector, registry, peerLabel, connsMu, conns, logger)
	}
}

// drainConnectionEvents watches a single Connection for lifecycle events,
// keeping registry and collector in sync until the connection closes, is
// lost, or the daemon shuts down.
func drainConnectionEvents(
	ctx context.Context,
	connID string,
	conn *rpma.Connection,
	collector *rpmametrics.Collector,
	registry *server.Registry,
	peerLabel string,
	connsMu *sync.Mutex,
	conns map[string]*rpma.Connection,
	logger *slog.Logger,
) {
	from := conn.State().String()
	for {
		ev, err := conn.NextEvent(ctx)
		if err != nil {
			return
		}
		to := conn.State().String()
		registry.UpdateConnectionState(connID, to)
		collector.RecordConnectionTransition(peerLabel, from, to)
		logger.Info("connection transition",
			slog.String("connection_id", connID),
			slog.String("event", ev.String()),
			slog.String("state", to),
		)
		from = to

		if ev == rpma.EventClosed || ev == rpma.EventLost {
			connsMu.Lock()
			delete(conns, connID)
			connsMu.Unlock()
			registry.RemoveConnection(connID)
			collector.UnregisterConnection(peerLabel)
			return
		}
	}
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured WatchdogSec. If watchdog is not configured, it exits
// immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level only
// -------------------------------------------------------------------------

// handleSIGHUP re-applies the log level from the log section loaded at
// startup on each SIGHUP; the configuration file is not re-read. There is
// no reconcilable declarative state in this daemon's configuration
// (device/endpoint/admin bindings are fixed at startup), so nothing besides
// the log level is touched. Blocks until ctx is cancelled.
func handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal, logCfg config.LogConfig, logLevel *slog.LevelVar, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logLevel.Set(config.ParseLogLevel(logCfg.Level))
			logger.Info("received SIGHUP, log level re-applied", slog.String("level", logCfg.Level))
		}
	}
}

// -------------------------------------------------------------------------
// Graceful Shutdown — bottom-up teardown
// -------------------------------------------------------------------------

// gracefulShutdown tears down every live object in the strictly bottom-up
// order the library requires: disconnect every live Connection, deregister
// every Memory Region, destroy every Endpoint, then delete the Peer.
func gracefulShutdown(
	ctx context.Context,
	peer *rpma.Peer,
	region *rpma.LocalRegion,
	endpoint *rpma.Endpoint,
	endpointID string,
	connsMu *sync.Mutex,
	conns map[string]*rpma.Connection,
	registry *server.Registry,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	connsMu.Lock()
	for id, conn := range conns {
		if err := conn.Disconnect(); err != nil {
			logger.Warn("failed to disconnect connection", slog.String("connection_id", id), slog.String("error", err.Error()))
		}
		if err := conn.Delete(); err != nil {
			logger.Warn("failed to delete connection", slog.String("connection_id", id), slog.String("error", err.Error()))
		}
		registry.RemoveConnection(id)
	}
	connsMu.Unlock()

	if err := region.Deregister(); err != nil {
		logger.Warn("failed to deregister memory region", slog.String("error", err.Error()))
	}

	if err := endpoint.Shutdown(); err != nil {
		logger.Warn("failed to shut down endpoint", slog.String("error", err.Error()))
	}
	registry.RemoveEndpoint()

	if err := peer.Delete(); err != nil {
		logger.Warn("failed to delete peer", slog.String("error", err.Error()))
	}

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder — Go 1.26 runtime/trace
// -------------------------------------------------------------------------

func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder", slog.String("error", err.Error()))
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)
	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
