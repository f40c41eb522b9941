// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/hostguard/internal/blocklist"
	"firestige.xyz/hostguard/internal/classifier"
	"firestige.xyz/hostguard/internal/command"
	"firestige.xyz/hostguard/internal/config"
	"firestige.xyz/hostguard/internal/dnsquery"
	"firestige.xyz/hostguard/internal/engine"
	"firestige.xyz/hostguard/internal/flowcache"
	logpkg "firestige.xyz/hostguard/internal/log"
	"firestige.xyz/hostguard/internal/metrics"
	"firestige.xyz/hostguard/internal/tun"
	"firestige.xyz/hostguard/internal/tunnel"
)

// Daemon manages the hostguard process lifecycle.
type Daemon struct {
	// Configuration
	mu         sync.Mutex // guards config during Reload
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string
	openDevice engine.DeviceOpener

	// Core components
	store         *blocklist.Store
	loader        *blocklist.Loader
	engine        *engine.Engine
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	kafkaConsumer *command.KafkaCommandConsumer // nil if command channel disabled
	metricsServer *metrics.Server               // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	group        errgroup.Group
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	sigChan      chan os.Signal
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithDeviceOpener replaces the TUN device with another transport.
func WithDeviceOpener(open engine.DeviceOpener) Option {
	return func(d *Daemon) { d.openDevice = open }
}

// New loads the configuration and creates a Daemon. Empty socketPath or pidFile fall
// back to the configured control settings.
func New(configPath, socketPath, pidFile string, opts ...Option) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if socketPath == "" {
		socketPath = globalConfig.Control.Socket
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.openDevice == nil {
		tc := tun.Config{Name: globalConfig.Tun.Name, MTU: globalConfig.Tun.MTU}
		d.openDevice = func() (io.ReadWriteCloser, error) {
			dev, err := tun.Open(tc)
			if err != nil {
				return nil, err
			}
			return dev, nil
		}
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Engine returns the packet engine. It is nil before Start.
func (d *Daemon) Engine() *engine.Engine { return d.engine }

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting hostguard daemon",
		"version", command.Version,
		"hostname", d.config.Node.Hostname,
		"config", d.configPath,
		"socket", d.socketPath,
	)

	if err := writePIDFile(d.pidFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	if err := d.buildEngine(); err != nil {
		return err
	}

	d.cmdHandler = command.NewCommandHandler(d.engine, d)
	d.cmdHandler.SetBlocklistReloader(d)
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		d.TriggerShutdown()
	})

	if err := d.startUDS(); err != nil {
		return err
	}

	d.group.Go(func() error { return d.loader.Run(d.ctx) })

	if d.config.CommandChannel.Enabled && d.config.CommandChannel.Type == "kafka" {
		if err := d.startKafkaConsumer(); err != nil {
			// UDS control keeps working without the remote channel.
			slog.Error("failed to start kafka consumer", "error", err)
		}
	}

	if d.config.Engine.AutoStart {
		if err := d.engine.Start(); err != nil {
			slog.Error("engine auto-start failed, start it with 'hostguard engine start'", "error", err)
		}
	}

	slog.Info("daemon started successfully")
	return nil
}

// buildEngine creates the blocklist, loads its sources and assembles the engine.
func (d *Daemon) buildEngine() error {
	cfg := d.config

	d.store = blocklist.NewStore()
	d.loader = blocklist.NewLoader(d.store, loaderConfig(cfg.Blocklist))
	if _, err := d.loader.Load(d.ctx); err != nil {
		metrics.BlocklistReloadsTotal.WithLabelValues("error").Inc()
		// Start with the static entries rather than nothing.
		slog.Error("initial blocklist load failed, using static domains only", "error", err)
		if _, err := d.store.Replace(cfg.Blocklist.Domains); err != nil {
			slog.Warn("skipped invalid static domains", "error", err)
		}
	} else {
		metrics.BlocklistReloadsTotal.WithLabelValues("ok").Inc()
	}

	responder, err := newResponder(cfg.Engine.DNS)
	if err != nil {
		return err
	}
	flows := flowcache.New(cfg.Engine.FlowTTL, cfg.Engine.FlowCleanupInterval)
	cls := classifier.New(d.store,
		classifier.WithFlowCache(flows),
		classifier.WithResponder(responder),
		classifier.WithTCPEnforcement(cfg.Engine.EnforceTCP),
	)

	loopOpts := []tunnel.Option{tunnel.WithMTU(cfg.Tun.MTU)}
	if cfg.Engine.PanicLogInterval > 0 {
		loopOpts = append(loopOpts, tunnel.WithPanicLogInterval(cfg.Engine.PanicLogInterval))
	}
	d.engine = engine.New(d.store, d.openDevice,
		engine.WithClassifier(cls),
		engine.WithFlowCache(flows),
		engine.WithLoopOptions(loopOpts...),
	)
	d.engine.BlocklistChanged()

	d.loader.OnLoad(func(_ int, err error) {
		if err != nil {
			metrics.BlocklistReloadsTotal.WithLabelValues("error").Inc()
			return
		}
		metrics.BlocklistReloadsTotal.WithLabelValues("ok").Inc()
		d.engine.BlocklistChanged()
	})
	return nil
}

func newResponder(cfg config.DNSConfig) (*dnsquery.Responder, error) {
	mode, err := dnsquery.ParseMode(cfg.Response)
	if err != nil {
		return nil, err
	}
	opts := []dnsquery.ResponderOption{dnsquery.WithTTL(cfg.TTL)}
	if mode == dnsquery.ModeSinkhole {
		// Both addresses were validated when the config was loaded.
		v4, _ := netip.ParseAddr(cfg.SinkholeIPv4)
		v6, _ := netip.ParseAddr(cfg.SinkholeIPv6)
		opts = append(opts, dnsquery.WithSinkhole(v4, v6))
	}
	return dnsquery.NewResponder(opts...), nil
}

func loaderConfig(cfg config.BlocklistConfig) blocklist.LoaderConfig {
	sources := make([]blocklist.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		sources = append(sources, blocklist.Source{Path: s.Path, URL: s.URL})
	}
	return blocklist.LoaderConfig{
		Domains:      cfg.Domains,
		Sources:      sources,
		Interval:     cfg.ReloadInterval,
		FetchTimeout: cfg.FetchTimeout,
	}
}

// startUDS serves the control socket and waits until it accepts connections.
func (d *Daemon) startUDS() error {
	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	errCh := make(chan error, 1)
	d.group.Go(func() error {
		err := d.udsServer.Start(d.ctx)
		errCh <- err
		return err
	})

	select {
	case <-d.udsServer.Ready():
		return nil
	case err := <-errCh:
		return fmt.Errorf("failed to start uds server: %w", err)
	}
}

// ReloadBlocklist refetches every configured source and swaps the blocklist.
// Domains added over the control API since the last load are dropped.
func (d *Daemon) ReloadBlocklist(ctx context.Context) (int, error) {
	return d.loader.Load(ctx)
}

// LastLoad reports when the blocklist was last loaded from its sources.
func (d *Daemon) LastLoad() (time.Time, int) {
	return d.loader.LastLoad()
}

// Stop performs graceful shutdown of all daemon components. It is safe to call more
// than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// No new remote commands.
	if d.kafkaConsumer != nil {
		if err := d.kafkaConsumer.Stop(); err != nil {
			slog.Error("error stopping kafka consumer", "error", err)
		}
	}

	// Engine shutdown also clears the blocklist.
	if d.engine != nil {
		if err := d.engine.Close(); err != nil {
			slog.Error("error stopping engine", "error", err)
		}
	}

	d.cancel()
	if err := d.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("background task failed", "error", err)
	}

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
		cancel()
	}

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := removePIDFile(d.pidFile); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
	_ = logpkg.Flush()
}

// Run blocks until shutdown is triggered by SIGTERM/SIGINT or the daemon_shutdown
// command. SIGHUP reloads the configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil
			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload rereads the configuration file.
// Hot-reloadable: log settings, blocklist domains and sources.
// Cold (requires restart): tun, engine, control, metrics, command channel.
// Implements command.ConfigReloader.
func (d *Daemon) Reload() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}
	old := d.config

	var hotReloaded, requiresRestart []string

	if !reflect.DeepEqual(old.Log, newConfig.Log) {
		if err := logpkg.Init(newConfig.Log); err != nil {
			return fmt.Errorf("failed to reinitialize logging: %w", err)
		}
		hotReloaded = append(hotReloaded, "log")
	}

	if !reflect.DeepEqual(old.Blocklist, newConfig.Blocklist) {
		d.loader.SetConfig(loaderConfig(newConfig.Blocklist))
		if _, err := d.ReloadBlocklist(d.ctx); err != nil {
			return fmt.Errorf("failed to reload blocklist: %w", err)
		}
		hotReloaded = append(hotReloaded, "blocklist")
		if old.Blocklist.ReloadInterval != newConfig.Blocklist.ReloadInterval {
			requiresRestart = append(requiresRestart, "blocklist.reload_interval")
		}
	}

	for name, changed := range map[string]bool{
		"tun":             !reflect.DeepEqual(old.Tun, newConfig.Tun),
		"engine":          !reflect.DeepEqual(old.Engine, newConfig.Engine),
		"control":         !reflect.DeepEqual(old.Control, newConfig.Control),
		"metrics":         !reflect.DeepEqual(old.Metrics, newConfig.Metrics),
		"command_channel": !reflect.DeepEqual(old.CommandChannel, newConfig.CommandChannel),
	} {
		if changed {
			requiresRestart = append(requiresRestart, name)
		}
	}

	d.config = newConfig
	slog.Info("configuration reloaded",
		"hot_reloaded", strings.Join(hotReloaded, ","),
		"requires_restart", strings.Join(requiresRestart, ","),
	)
	return nil
}

// TriggerShutdown makes Run return after a graceful stop.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownChan) })
}

// startKafkaConsumer starts the Kafka command consumer in background.
func (d *Daemon) startKafkaConsumer() error {
	consumer, err := command.NewKafkaCommandConsumer(
		d.config.CommandChannel,
		d.config.Node.Hostname,
		d.cmdHandler,
	)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	d.kafkaConsumer = consumer

	d.group.Go(func() error { return consumer.Start(d.ctx) })
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}
	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	return d.metricsServer.Start(d.ctx)
}

// writePIDFile writes the current process ID to path.
func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", path, err)
	}
	slog.Debug("PID file written", "path", path, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func removePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", path, err)
	}
	return nil
}

// ReadPIDFile returns the PID recorded in path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s: %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}
