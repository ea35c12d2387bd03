package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gaziuzay/gcslink"
	"github.com/gaziuzay/gcslink/feed"
	"github.com/gaziuzay/gcslink/forwarder"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

const restartDelay = 5 * time.Second

var configFile = flag.String("config", "", "TOML or YAML config file")
var portName = flag.String("port", "", "serial port of the flight controller (overrides config)")
var baudRate = flag.Int("baud", 0, "baud rate (overrides config)")
var testMode = flag.Bool("testmode", false, "simulate a flight controller")
var printTelemetry = flag.Bool("print-telemetry", false, "print telemetry to stdout")
var logLevel = flag.String("log-level", "", "log level (overrides config)")

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatal("unable to load config: ", err)
	}
	if *portName != "" {
		cfg.Link.Port = *portName
	}
	if *baudRate != 0 {
		cfg.Link.Baud = *baudRate
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := setupLogging(cfg.Log); err != nil {
		log.Fatal("unable to set up logging: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(path string) (gcslink.Config, error) {
	if path == "" {
		return gcslink.DefaultConfig(), nil
	}
	return gcslink.LoadConfig(path)
}

func setupLogging(cfg gcslink.LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}
	log.SetLevel(level)
	if cfg.File != "" {
		log.SetFormatter(&log.JSONFormatter{})
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}))
	}
	return nil
}

func run(ctx context.Context, cfg gcslink.Config) error {
	station := gcslink.NewStation(cfg)
	station.SetTestMode(*testMode)
	defer func() {
		if err := station.Close(); err != nil {
			log.Warnf("unable to close station: %v", err)
		}
	}()

	fwds, err := forwarder.FromConfig(ctx, cfg.Forwarders, cfg.Link.Port)
	if err != nil {
		return errors.Wrap(err, "unable to set up forwarders")
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, fwd := range fwds {
		station.AddForwarder(fwd)
		if r, ok := fwd.(forwarder.Runner); ok {
			g.Go(func() error {
				return r.Start(ctx)
			})
		}
	}

	if cfg.Feed.Enable {
		f := feed.New(station)
		g.Go(func() error {
			return f.Run(ctx)
		})
		g.Go(func() error {
			return f.Serve(ctx, cfg.Feed.Addr)
		})
	}

	if *printTelemetry {
		sub := station.Subscribe()
		g.Go(func() error {
			for sample := range sub.Samples(ctx) {
				fmt.Printf("%T %+v\n", sample, sample)
			}
			return ctx.Err()
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(cfg.StatusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				log.Info(station.Status().String())
			}
		}
	})

	g.Go(func() error {
		return supervise(ctx, station, cfg.Link)
	})

	err = g.Wait()
	log.Info("shutting down: ", station.Status().String())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// supervise keeps the link running. The link gives up by itself only when
// the port cannot be opened at all; it is started again after a delay.
func supervise(ctx context.Context, station *gcslink.Station, cfg gcslink.LinkConfig) error {
	for {
		if err := station.Start(ctx, cfg.Port, cfg.Baud); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			station.Stop()
			return ctx.Err()
		case <-station.Done():
		}
		log.WithField("port", cfg.Port).Warnf("link stopped (%s), restarting in %v",
			station.Status().LastError, restartDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(restartDelay):
		}
	}
}
