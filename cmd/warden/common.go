package main

import (
	"log/slog"
	"os"

	"github.com/pario-ai/warden/pkg/config"
	"github.com/pario-ai/warden/pkg/logging"
)

// loadConfig reads path when given, otherwise the defaults plus environment.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(os.Stderr, cfg.Log.Options())
}

func defaultStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
