package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/admin"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/broker"
	c "github.com/life-stream-dev/life-stream-go-ws-broker/internal/config"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/database"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/event"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/metrics"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/server"
)

func main() {
	configPath := flag.String("config", "config.json", "configuration file, JSON or .toml")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config path] [hostname [port]]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	config, err := loadConfig(*configPath, flag.Args())
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		os.Exit(1)
	}

	cleaner := event.NewCleaner()
	cleaner.Add(logger.Init(config))
	logger.Debug("Application initializing...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, config, cleaner)
	stop()

	exitCode := 0
	if err != nil {
		logger.FatalF("Broker terminated, details: %v", err)
		exitCode = 1
	}
	if err := cleaner.Clean(); err != nil {
		exitCode = 1
	}
	os.Exit(exitCode)
}

// loadConfig reads path and applies the positional arguments. A freshly
// created config file only stops the process when no arguments were given.
func loadConfig(path string, args []string) (c.Config, error) {
	config, err := c.ReadConfig(path)
	if err != nil {
		if !errors.Is(err, c.ErrConfigCreated) || len(args) == 0 {
			return config, err
		}
		logger.WarnF("Configuration file %s created, running with defaults and command line arguments", path)
	}
	if err := applyArgs(&config, args); err != nil {
		return config, fmt.Errorf("invalid arguments: %w", err)
	}
	return config, nil
}

// applyArgs overrides the broker address with the positional hostname and
// port arguments.
func applyArgs(config *c.Config, args []string) error {
	if len(args) > 2 {
		return fmt.Errorf("expected at most 2 arguments, got %d", len(args))
	}
	if len(args) > 0 && args[0] != "" {
		config.Broker.Hostname = args[0]
	}
	if len(args) > 1 {
		port, err := strconv.Atoi(args[1])
		if err != nil || port < 0 || port > 65535 {
			return fmt.Errorf("invalid port %q", args[1])
		}
		config.Broker.Port = port
	}
	return nil
}

// run starts every component, registers its shutdown with cleaner and blocks
// until ctx is done or a component fails.
func run(ctx context.Context, config c.Config, cleaner *event.Cleaner) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts := []broker.Option{broker.WithMetrics(registry)}

	var history database.SessionReader
	if config.Database.Enabled() {
		db, err := database.Connect(ctx, config.Database, config.AppName)
		if err != nil {
			return fmt.Errorf("error occured while initializing database: %w", err)
		}
		cleaner.Add(db)
		store := db.Sessions()
		journal := database.NewJournal(store, database.DefaultJournalQueueSize)
		cleaner.Add(journal)
		opts = append(opts, broker.WithObserver(journal))
		history = store
	}

	b, err := broker.New(server.Config(config.Broker), opts...)
	if err != nil {
		return err
	}
	url, err := b.Start()
	if err != nil {
		var listenErr *server.ListenError
		if errors.As(err, &listenErr) {
			return fmt.Errorf("MQTT server start error: %w", err)
		}
		return err
	}
	cleaner.Add(event.CallableFunc(b.Stop))
	logger.InfoF("Broker ready at %s", url)

	g, gctx := errgroup.WithContext(ctx)
	if config.Admin.Address != "" {
		adminServer := admin.NewServer(admin.NewGRPCService(b, history))
		g.Go(func() error {
			return adminServer.Run(gctx, config.Admin.Address)
		})
	}
	if config.Metrics.Address != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, config.Metrics.Address, registry)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		return nil
	})
	return g.Wait()
}
