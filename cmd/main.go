// Package main is the entry point for the hook engine.
//
// The engine reads newline-delimited event JSON from stdin and dispatches
// each event through the configured hooks. The host process owns the
// lifecycle: it writes events, and closes stdin (or sends SIGTERM) to shut
// the engine down.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const version = "1.2.0"

// loadEnvFiles loads .env from standard locations.
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}

	configEnv := filepath.Join(homeDir, ".config", "hook-engine", ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}

	// Local .env can override.
	_ = godotenv.Load()
}

func main() {
	loadEnvFiles()

	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "run":
		if err := runCommand(args); err != nil {
			fmt.Fprintf(os.Stderr, "hook-engine: %v\n", err)
			os.Exit(1)
		}
	case "validate":
		if err := validateCommand(args); err != nil {
			fmt.Fprintf(os.Stderr, "hook-engine: %v\n", err)
			os.Exit(1)
		}
	case "version", "-v", "--version":
		fmt.Printf("hook-engine %s\n", version)
	case "help", "-h", "--help":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "hook-engine: unknown command %q\n\n", cmd)
		printHelp()
		os.Exit(2)
	}
}

func printHelp() {
	fmt.Print(`hook-engine - event-driven hook automation core

Usage:
  hook-engine [run] [--config path]   read events from stdin and dispatch them
  hook-engine validate [--config path] check the hook configuration and exit
  hook-engine version
  hook-engine help

Events arrive on stdin as one JSON object per line:
  {"event": "PreToolUse", "context": {"tool": {"name": "bash"}}}

Environment:
  HOOK_ENGINE_CONFIG            config file (overrides standard locations)
  HOOK_ENGINE_HOOKS             hooks.json path override
  HOOK_ENGINE_OBSERVATION_LOG   observation log path override
  HOOK_ENGINE_DISABLE_COMMANDS  set to disable external command execution
`)
}

// resolveConfigPath finds the config file: flag, env, then standard
// locations.
func resolveConfigPath(flagPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	if p := os.Getenv("HOOK_ENGINE_CONFIG"); p != "" {
		return p, nil
	}

	searchPaths := []string{}
	if homeDir, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(homeDir, ".config", "hook-engine", "config.yaml"))
	}
	searchPaths = append(searchPaths, "configs/config.yaml", "config.yaml")

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no config file found; specify --config")
}
