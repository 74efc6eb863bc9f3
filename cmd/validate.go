package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/compresr/hook-engine/internal/config"
	"github.com/compresr/hook-engine/internal/engine"
	"github.com/compresr/hook-engine/internal/observe"
	"github.com/compresr/hook-engine/internal/registry"
	"github.com/compresr/hook-engine/internal/session"
)

// validateCommand checks the hook configuration without dispatching
// anything, printing every problem the load would reject.
func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	hooksPath := fs.String("hooks", "", "hooks.json path (skips config loading)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := *hooksPath
	if path == "" {
		cfgPath, err := resolveConfigPath(*configPath)
		if err != nil {
			return err
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		path = cfg.Hooks.Path
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// A throwaway engine supplies the builtin name set.
	eng := engine.New(nil, observe.NewBus(1), session.NewMemoryStore(session.Config{}), engine.Config{})
	known := make(map[string]struct{})
	for _, n := range eng.BuiltinNames() {
		known[n] = struct{}{}
	}

	hooks, err := registry.Parse(data, known)
	if err != nil {
		var loadErr *registry.LoadError
		if errors.As(err, &loadErr) {
			fmt.Printf("%s: invalid (%d problem(s))\n", path, len(loadErr.Problems))
			for _, p := range loadErr.Problems {
				id := p.HookID
				if id == "" {
					id = "(config)"
				}
				fmt.Printf("  %s: %v\n", id, p.Err)
			}
		}
		return err
	}

	fmt.Printf("%s: OK (%d hook(s))\n", path, len(hooks))
	return nil
}
