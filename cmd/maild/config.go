package main

import (
	"flag"
	"fmt"

	"github.com/infodancer/maild/internal/config"
)

// loadConfig parses args into fs, then loads and validates the
// configuration file named by -config with flag overrides applied.
func loadConfig(fs *flag.FlagSet, flags *config.Flags, args []string) (config.Config, error) {
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
