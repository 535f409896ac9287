package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/lepinkainen/coverhub/internal/cache"
	"github.com/lepinkainen/coverhub/internal/config"
	"github.com/lepinkainen/humanlog"
	"github.com/spf13/viper"
)

// CLI represents the complete command structure for the coverhub application
type CLI struct {
	// Global flags
	Config   string `help:"Path to YAML config file" default:"config.yaml" type:"path"`
	JSONLogs bool   `help:"Log as JSON instead of human readable lines" env:"COVERHUB_JSON_LOGS"`
	LogLevel string `help:"Log level (debug, info, warn, error)" default:"info" env:"COVERHUB_LOG_LEVEL"`

	Worker  WorkerCmd  `cmd:"" help:"Consume the pipeline queues"`
	Import  ImportCmd  `cmd:"" help:"Import a vendor feed and queue its covers"`
	Delete  DeleteCmd  `cmd:"" help:"Delete identifiers for a vendor"`
	Reindex ReindexCmd `cmd:"" help:"Rebuild search rows for every source of a vendor"`
	Vendor  VendorCmd  `cmd:"" help:"Manage vendors"`
	Cover   CoverCmd   `cmd:"" help:"Inspect and manage stored covers"`
	Migrate MigrateCmd `cmd:"" help:"Create or upgrade the database schema"`
	Cache   CacheCmd   `cmd:"" help:"Manage the datawell cache"`
}

// CacheCmd groups the cache maintenance commands
type CacheCmd struct {
	Invalidate cache.InvalidateCacheCmd `cmd:"" help:"Drop cached datawell responses"`
}

var kongOptions = []kong.Option{
	kong.Name("coverhub"),
	kong.Description("Collects vendor book covers and keeps the cover search index current."),
	kong.UsageOnError(),
}

// Execute runs the Kong-based CLI
func Execute() {
	var cli CLI
	ctx := kong.Parse(&cli, kongOptions...)

	initLogging(os.Stdout, cli.JSONLogs, cli.LogLevel)
	if err := initConfig(cli.Config); err != nil {
		slog.Error("Fatal error config file", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := ctx.Run(&cfg); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// initConfig registers defaults and env bindings on the global viper and
// reads the config file when it exists.
func initConfig(path string) error {
	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())

	viper.SetConfigType("yaml")
	if path != "" {
		viper.SetConfigFile(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			slog.Info("Config file not found, using defaults and environment", "path", path)
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	slog.Debug("Loaded config file", "path", viper.ConfigFileUsed())
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func initLogging(w io.Writer, jsonLogs bool, level string) {
	var handler slog.Handler
	if jsonLogs {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	} else {
		// Create a human-readable handler for logging
		handler = humanlog.NewHandler(w, &humanlog.Options{
			Level: parseLevel(level),
		})
	}

	// Set the default logger
	slog.SetDefault(slog.New(handler))
}
