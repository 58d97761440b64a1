// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/netcore/internal/command"
	"firestige.xyz/netcore/internal/config"
	"firestige.xyz/netcore/internal/log"
	"firestige.xyz/netcore/internal/metrics"
	"firestige.xyz/netcore/internal/stack"
)

// Daemon manages the netcore daemon process lifecycle.
type Daemon struct {
	// Configuration
	mu         sync.Mutex
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	// Core components
	stack         *stack.Stack
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	kafkaConsumer *command.KafkaCommandConsumer // nil if command channel disabled
	metricsServer *metrics.Server               // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	group        *errgroup.Group
	groupCtx     context.Context
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	sigChan      chan os.Signal
}

// New creates a new Daemon instance. Empty socketPath and pidFile fall back
// to the control section of the configuration.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
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
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := log.Init(d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"version": command.Version,
		"config":  d.configPath,
		"socket":  d.socketPath,
	}).Info("starting netcore daemon")

	// 2. Write PID file
	if err := writePIDFile(d.pidFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Build the stack: devices, static routes, static ARP entries
	st, err := stack.Build(d.config)
	if err != nil {
		return fmt.Errorf("failed to build stack: %w", err)
	}
	d.stack = st
	if err := d.stack.StartAging(); err != nil {
		return fmt.Errorf("failed to start arp aging: %w", err)
	}

	// 5. Create command handler; daemon_shutdown triggers a graceful stop
	d.cmdHandler = command.NewCommandHandler(d.stack, d)
	d.cmdHandler.SetShutdownFunc(func() {
		log.GetLogger().Info("shutdown triggered via daemon_shutdown command")
		d.TriggerShutdown()
	})

	d.group, d.groupCtx = errgroup.WithContext(d.ctx)

	// 6. Drain the in-memory links of ethernet devices
	d.startLinks()

	// 7. Start UDS server for CLI control
	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	d.group.Go(func() error {
		return d.udsServer.Start(d.groupCtx)
	})
	select {
	case <-d.udsServer.Ready():
	case <-d.groupCtx.Done():
		return fmt.Errorf("uds server failed: %w", d.group.Wait())
	case <-time.After(5 * time.Second):
		return fmt.Errorf("uds server not ready on %s", d.socketPath)
	}

	// 8. Start Kafka command consumer (if enabled)
	if d.config.Control.Kafka.Enabled {
		if err := d.startKafkaConsumer(); err != nil {
			// Non-fatal: daemon can still run with UDS-only control
			log.GetLogger().WithError(err).Error("failed to start kafka consumer")
		}
	}

	log.GetLogger().Info("daemon started successfully")
	return nil
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	logger := log.GetLogger()
	logger.Info("initiating graceful shutdown")

	// 1. Cancel context: UDS server, kafka consumer and link drains return
	d.cancel()
	if d.group != nil {
		if err := d.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("component stopped with error")
		}
	}

	// 2. Close kafka reader and writer once the consumer loop has returned
	if d.kafkaConsumer != nil {
		if err := d.kafkaConsumer.Stop(); err != nil {
			logger.WithError(err).Error("error stopping kafka consumer")
		}
	}

	// 3. Stop the stack: event queue, receive queues
	if d.stack != nil {
		if err := d.stack.Shutdown(); err != nil {
			logger.WithError(err).Error("error stopping stack")
		}
	}

	// 4. Stop metrics server
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Error("error stopping metrics server")
		}
	}

	// 5. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 6. Remove PID file
	if err := removePIDFile(d.pidFile); err != nil {
		logger.WithError(err).Error("error removing PID file")
	}

	logger.Info("daemon stopped gracefully")
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon_shutdown command via UDS/Kafka
//  3. a failing component
//
// SIGHUP triggers a config reload.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	log.GetLogger().Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				log.GetLogger().WithField("signal", sig.String()).Info("received shutdown signal")
				d.Stop()
				return nil

			case syscall.SIGHUP:
				log.GetLogger().Info("received reload signal")
				if err := d.Reload(); err != nil {
					log.GetLogger().WithError(err).Error("failed to reload config")
				}
			}

		case <-d.shutdownChan:
			log.GetLogger().Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.groupCtx.Done():
			err := d.groupCtx.Err()
			if d.ctx.Err() == nil {
				err = d.group.Wait()
			}
			log.GetLogger().WithError(err).Error("daemon component stopped")
			d.Stop()
			return err
		}
	}
}

// Reload reloads the global configuration.
// Hot-reloadable: log level/format/outputs.
// Cold (requires restart): stack sizing, devices, routes, static ARP,
// control plane and metrics listen address.
// Implements ConfigReloader interface for CommandHandler.
func (d *Daemon) Reload() error {
	log.GetLogger().WithField("path", d.configPath).Info("reloading configuration")

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	hotReloaded := []string{}
	if !reflect.DeepEqual(newConfig.Log, d.config.Log) {
		if err := log.Init(newConfig.Log); err != nil {
			return fmt.Errorf("failed to reinitialize logging: %w", err)
		}
		hotReloaded = append(hotReloaded, "log")
	}

	requiresRestart := []string{}
	cold := []struct {
		name     string
		old, new interface{}
	}{
		{"stack", d.config.Stack, newConfig.Stack},
		{"devices", d.config.Devices, newConfig.Devices},
		{"routes", d.config.Routes, newConfig.Routes},
		{"arp", d.config.ARP, newConfig.ARP},
		{"control", d.config.Control, newConfig.Control},
		{"metrics", d.config.Metrics, newConfig.Metrics},
	}
	for _, c := range cold {
		if !reflect.DeepEqual(c.old, c.new) {
			requiresRestart = append(requiresRestart, c.name)
		}
	}

	// Cold sections keep describing the running process.
	newConfig.Stack = d.config.Stack
	newConfig.Devices = d.config.Devices
	newConfig.Routes = d.config.Routes
	newConfig.ARP = d.config.ARP
	newConfig.Control = d.config.Control
	newConfig.Metrics = d.config.Metrics
	d.config = newConfig

	log.GetLogger().WithFields(map[string]interface{}{
		"hot_reloaded":     hotReloaded,
		"requires_restart": requiresRestart,
	}).Info("configuration reloaded")
	return nil
}

// TriggerShutdown triggers graceful shutdown from an external caller.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownChan) })
}

// Config returns the configuration currently in effect.
func (d *Daemon) Config() *config.GlobalConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// startLinks drains the transmit queue of every ethernet device. Nothing is
// attached to the far end of the link, so frames are only logged.
func (d *Daemon) startLinks() {
	for _, dc := range d.config.Devices {
		if dc.Type != "ethernet" {
			continue
		}
		link, err := d.stack.Link(dc.Name)
		if err != nil {
			log.GetLogger().WithError(err).WithField("dev", dc.Name).Warn("device has no link")
			continue
		}
		name := dc.Name
		d.group.Go(func() error {
			for {
				select {
				case <-d.groupCtx.Done():
					return nil
				case frame := <-link.Frames():
					log.GetLogger().WithFields(map[string]interface{}{
						"dev": name,
						"len": len(frame),
					}).Debug("frame transmitted")
				}
			}
		})
	}
}

// startKafkaConsumer starts the Kafka command consumer in background.
func (d *Daemon) startKafkaConsumer() error {
	consumer, err := command.NewKafkaCommandConsumer(d.config.Control.Kafka, d.cmdHandler)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	d.kafkaConsumer = consumer

	d.group.Go(func() error {
		if err := consumer.Start(d.groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		return nil
	})
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		log.GetLogger().Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	return d.metricsServer.Start(d.ctx)
}
