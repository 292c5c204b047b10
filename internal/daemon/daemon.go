// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/zt-overlay/ztpipe/internal/command"
	"github.com/zt-overlay/ztpipe/internal/config"
	"github.com/zt-overlay/ztpipe/internal/log"
	"github.com/zt-overlay/ztpipe/internal/metrics"
	"github.com/zt-overlay/ztpipe/internal/scheduler"
	"github.com/zt-overlay/ztpipe/internal/zt"
)

// NewOverlayFunc constructs the concrete overlay library binding a
// Node registers its six callbacks with. Supplied by the caller of
// New so the daemon package itself stays free of any concrete overlay
// implementation dependency.
type NewOverlayFunc func(cb zt.OverlayCallbacks) (zt.Overlay, error)

// Daemon manages the ztpipe daemon process lifecycle.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	newOverlay NewOverlayFunc

	sched         *scheduler.Scheduler
	defaultJobID  int
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	metricsServer *metrics.Server // nil if metrics disabled

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
}

// New creates a new Daemon instance.
func New(configPath, socketPath, pidFile string, newOverlay NewOverlayFunc) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		newOverlay:   newOverlay,
		sched:        scheduler.GetScheduler(),
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	d.initLogging()
	logger := log.GetLogger()

	logger.Info("starting ztpipe daemon")

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// Open the default Node for this daemon's home directory and track
	// it as the scheduler's one standing job.
	pipeCfg := zt.PipeConfig{
		FragmentSize: d.config.Pipe.FragmentSize,
		RecvQ:        d.config.Pipe.RecvQ,
		RecvMaxSize:  d.config.Pipe.RecvMaxSize,
	}
	jobID, err := d.sched.AddJob("default", d.config.Node.Home, d.config.Node.ListenPort, pipeCfg, d.newOverlay)
	if err != nil {
		return fmt.Errorf("failed to open node: %w", err)
	}
	d.defaultJobID = jobID
	metrics.NodesOpen.Inc()

	if d.config.Node.DefaultNetwork != "" {
		nwid, err := strconv.ParseUint(d.config.Node.DefaultNetwork, 16, 64)
		if err != nil {
			return fmt.Errorf("bad node.default_network %q: %w", d.config.Node.DefaultNetwork, err)
		}
		job, _ := d.sched.GetJob(jobID)
		if err := job.Node().JoinNetwork(d.ctx, nwid); err != nil {
			return fmt.Errorf("failed to join default network: %w", err)
		}
		logger.WithField("nwid", d.config.Node.DefaultNetwork).Info("joined default network")
	}

	d.cmdHandler = command.NewCommandHandler(d.sched, d)
	d.cmdHandler.SetShutdownFunc(func() {
		logger.Info("shutdown triggered via daemon_shutdown command")
		close(d.shutdownChan)
	})

	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("uds server failed")
		}
	}()

	logger.Info("daemon started successfully")
	return nil
}

// Stop performs graceful shutdown of all daemon components.
func (d *Daemon) Stop() {
	logger := log.GetLogger()
	logger.Info("initiating graceful shutdown")

	if d.sched != nil {
		d.sched.RemoveJob(d.defaultJobID)
		metrics.NodesOpen.Dec()
	}

	if d.udsServer != nil {
		logger.Info("stopping uds server")
		d.udsServer.Stop()
	}

	if d.metricsServer != nil {
		logger.Info("stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Error("error stopping metrics server")
		}
	}

	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		logger.WithError(err).Error("error removing PID file")
	}

	logger.Info("daemon stopped gracefully")
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon_shutdown command via the UDS control channel
//  3. SIGHUP triggers config reload
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	logger := log.GetLogger()
	logger.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				logger.WithField("signal", sig.String()).Info("received shutdown signal")
				d.Stop()
				return nil
			case syscall.SIGHUP:
				logger.Info("received reload signal")
				if err := d.Reload(); err != nil {
					logger.WithError(err).Error("failed to reload config")
				} else {
					logger.Info("configuration reloaded successfully")
				}
			}

		case <-d.shutdownChan:
			logger.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			logger.WithError(d.ctx.Err()).Info("context cancelled")
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the configuration file and replaces the stored config.
// The running logger and metrics server keep their startup settings:
// log.Init takes effect once per process, and the metrics server is not
// restarted. The summary log line lists "log" under hot_reloaded when
// log.level or log.format changed, and node.home / node.listen_port
// under requires_restart when those changed.
// Implements command.ConfigReloader.
func (d *Daemon) Reload() error {
	logger := log.GetLogger()
	logger.WithField("path", d.configPath).Info("reloading configuration")

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}

	oldLevel := d.config.Log.Level
	oldFormat := d.config.Log.Format
	oldHome := d.config.Node.Home
	oldPort := d.config.Node.ListenPort
	d.config = newConfig
	d.initLogging()
	if newConfig.Log.Level != oldLevel || newConfig.Log.Format != oldFormat {
		hotReloaded = append(hotReloaded, "log")
	}

	requiresRestart := []string{}
	if newConfig.Node.Home != oldHome {
		requiresRestart = append(requiresRestart, "node.home")
	}
	if newConfig.Node.ListenPort != oldPort {
		requiresRestart = append(requiresRestart, "node.listen_port")
	}

	logger.WithField("hot_reloaded", hotReloaded).
		WithField("requires_restart", requiresRestart).
		Info("configuration reloaded")

	return nil
}

// TriggerShutdown asks a running Run loop to shut down gracefully; the
// signal is dropped if Run is not waiting for it. The daemon_shutdown
// command does not use this: its shutdown func closes shutdownChan.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// initLogging initializes the logging system at log.level, writing
// log.DefaultPattern lines; log.format is not applied. log.Init takes
// effect once per process, so later calls leave the logger unchanged.
func (d *Daemon) initLogging() {
	log.Init(&log.LoggerConfig{
		Level:   d.config.Log.Level,
		Pattern: log.DefaultPattern,
		Time:    log.DefaultTimeLayout,
		Appenders: []log.AppenderConfig{
			{Type: "console", Level: d.config.Log.Level},
		},
	})
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	logger := log.GetLogger()
	if !d.config.Metrics.Enabled {
		logger.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.WithField("addr", d.config.Metrics.Listen).
		WithField("path", d.config.Metrics.Path).
		Info("metrics server started")

	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	log.GetLogger().WithField("path", d.pidFile).WithField("pid", pid).Debug("PID file written")
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	log.GetLogger().WithField("path", d.pidFile).Debug("PID file removed")
	return nil
}
