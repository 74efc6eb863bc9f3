package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/hook-engine/internal/config"
	"github.com/compresr/hook-engine/internal/engine"
	"github.com/compresr/hook-engine/internal/event"
	"github.com/compresr/hook-engine/internal/monitoring"
	"github.com/compresr/hook-engine/internal/observe"
	"github.com/compresr/hook-engine/internal/registry"
	"github.com/compresr/hook-engine/internal/session"
)

const shutdownGrace = 15 * time.Second

// inputEvent is one line of host input.
type inputEvent struct {
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Context   json.RawMessage `json:"context"`
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	monitoring.Global(monitoring.LoggerConfig{
		Level:  cfg.Monitoring.LogLevel,
		Format: cfg.Monitoring.LogFormat,
		Output: cfg.Monitoring.LogOutput,
	})
	log.Info().Str("config", path).Str("version", version).Msg("hook engine starting")

	eng, writer, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, syscall.SIGHUP)
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			lines <- line
		}
		scanErr <- scanner.Err()
	}()

loop:
	for {
		select {
		case <-stopCh:
			log.Info().Msg("signal received, shutting down")
			break loop
		case <-reloadCh:
			if err := eng.Reload(); err != nil {
				log.Error().Err(err).Msg("hook config reload rejected")
			}
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					log.Error().Err(err).Msg("stdin read failed")
				}
				log.Info().Msg("stdin closed, shutting down")
				break loop
			}
			dispatchLine(eng, line)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := eng.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
	select {
	case <-writer.Done():
	case <-ctx.Done():
		log.Warn().Msg("observation log did not drain before deadline")
	}
	log.Info().Msg("hook engine stopped")
	return nil
}

func dispatchLine(eng *engine.Engine, line []byte) {
	var in inputEvent
	if err := json.Unmarshal(line, &in); err != nil {
		log.Error().Err(err).Msg("skipping malformed event line")
		return
	}
	kind, err := event.ParseKind(in.Event)
	if err != nil {
		log.Error().Err(err).Msg("skipping event")
		return
	}

	ev := &event.Event{Kind: kind, Timestamp: in.Timestamp, Context: in.Context}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	res, err := eng.Dispatch(context.Background(), ev)
	if err != nil {
		log.Error().Err(err).Msg("dispatch failed")
		return
	}
	if res.Failed {
		log.Warn().Str("event", in.Event).Uint64("seq", res.Seq).Msg("dispatch halted by blocking hook")
	}
}

// buildEngine wires the store, bus, observation log, registry and engine
// from config, and loads the hook set.
func buildEngine(cfg *config.Config) (*engine.Engine, *observe.Writer, error) {
	sessCfg := session.Config{
		Retention:        cfg.Sessions.Retention,
		CompactThreshold: cfg.Sessions.CompactThreshold,
	}
	var sessions session.Store
	var err error
	if cfg.Sessions.StoreType == "sqlite" {
		sessions, err = session.NewSQLiteStore(cfg.Sessions.DBPath, sessCfg)
		if err != nil {
			return nil, nil, err
		}
	} else {
		sessions = session.NewMemoryStore(sessCfg)
	}

	bus := observe.NewBus(cfg.Observations.BusBuffer)
	writer, err := observe.NewWriter(cfg.Observations.LogPath, cfg.Observations.FlushInterval)
	if err != nil {
		sessions.Close()
		return nil, nil, err
	}
	writer.Start(bus)

	eng := engine.New(nil, bus, sessions, engine.Config{
		CommandsEnabled:    cfg.Commands.Enabled,
		ScanPatterns:       cfg.Builtins.ScanPatterns,
		MinSessionMessages: cfg.Builtins.MinSessionMessages,
	})
	reg := registry.New(cfg.Hooks.Path, eng.BuiltinNames())
	eng.SetRegistry(reg)
	if err := reg.Load(); err != nil {
		return nil, nil, fmt.Errorf("load hooks: %w", err)
	}
	return eng, writer, nil
}
