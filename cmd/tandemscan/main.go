// Command tandemscan runs a tandem classifier sweep described by a YAML run
// file: it connects both classifiers, the particle counter, and optionally
// the bypass valve, walks the generated scan plan, and records each point to
// the configured sinks. SIGINT aborts the sweep at the next step boundary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/phsym/console-slog"

	"github.com/tandem-aerosol/tandemscan/internal/bypass"
	"github.com/tandem-aerosol/tandemscan/internal/config"
	"github.com/tandem-aerosol/tandemscan/internal/instrument"
	"github.com/tandem-aerosol/tandemscan/internal/recorder"
	"github.com/tandem-aerosol/tandemscan/internal/scan"
	"github.com/tandem-aerosol/tandemscan/internal/version"
)

var (
	configPath = flag.String("config", "run.yaml", "Run description file")
	verbose    = flag.Bool("v", false, "Enable debug logging")
	jsonLogs   = flag.Bool("json", false, "Log JSON instead of console format")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if *jsonLogs {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = console.NewHandler(os.Stderr, &console.HandlerOptions{Level: level})
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	log.Debug("tandemscan", "version", version.Version, "commit", version.GitSHA)

	if err := run(log); err != nil {
		log.Error("scan failed", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	plan, err := cfg.BuildPlan()
	if err != nil {
		return err
	}
	log.Info("plan generated", "run", cfg.RunName, "steps", plan.Len(), "settle", plan.SettleDelay)

	classifier1, err := buildClassifier(cfg.Classifier1)
	if err != nil {
		return fmt.Errorf("classifier1: %w", err)
	}
	classifier2, err := buildClassifier(cfg.Classifier2)
	if err != nil {
		return fmt.Errorf("classifier2: %w", err)
	}
	counter, err := buildCounter(cfg.Counter)
	if err != nil {
		return fmt.Errorf("counter: %w", err)
	}

	var valve *bypass.Controller
	if cfg.Bypass != nil {
		dialer, err := config.Endpoint{Device: cfg.Bypass.Device}.Dialer("")
		if err != nil {
			return fmt.Errorf("bypass: %w", err)
		}
		valve = bypass.New(dialer)
		if cfg.Bypass.SettleS > 0 {
			valve.SettleDelay = time.Duration(cfg.Bypass.SettleS * float64(time.Second))
		}
	}

	runID := uuid.NewString()
	sinks, err := buildSinks(cfg, runID)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Warn("closing recorders", "error", err)
		}
	}()

	ctrl := scan.New(log)
	ctx := context.Background()
	session, err := ctrl.Start(ctx, scan.Deps{
		Classifier1: classifier1,
		Classifier2: classifier2,
		Counter:     counter,
		Bypass:      valve,
		Recorder:    sinks,
		Plan:        plan,
		CounterCfg:  cfg.Counter.CounterConfig(),
	})
	if err != nil {
		return err
	}
	log.Info("scan running", "session", session.ID, "run_id", runID)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	for {
		select {
		case <-sigs:
			log.Info("interrupt received, aborting at next step boundary")
			ctrl.Abort()
		case <-session.Done():
			if err := session.Err(); err != nil {
				return fmt.Errorf("session %s faulted at index %d: %w",
					session.ID, session.LastIndex(), err)
			}
			log.Info("scan finished", "session", session.ID, "points", session.LastIndex()+1)
			return nil
		}
	}
}

func buildClassifier(sec config.ClassifierSection) (instrument.Classifier, error) {
	dialer, err := sec.Endpoint.Dialer(sec.Model)
	if err != nil {
		return nil, err
	}
	return instrument.NewClassifier(sec.Model, dialer, sec.Sweep.FlowSettings())
}

func buildCounter(sec config.CounterSection) (instrument.Counter, error) {
	if sec.Model == "cpc-dummy" {
		return instrument.NewCounter(sec.Model, nil)
	}
	dialer, err := sec.Endpoint.Dialer(sec.Model)
	if err != nil {
		return nil, err
	}
	return instrument.NewCounter(sec.Model, dialer)
}

func buildSinks(cfg *config.Config, runID string) (recorder.Multi, error) {
	var sinks recorder.Multi
	if cfg.Outputs.CSV != "" {
		csv, err := recorder.CreateCSV(cfg.Outputs.CSV)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, csv)
	}
	if cfg.Outputs.SQLite != "" {
		db, err := recorder.OpenDB(cfg.Outputs.SQLite)
		if err != nil {
			return nil, err
		}
		sink, err := db.NewSession(runID)
		if err != nil {
			db.Close()
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}
