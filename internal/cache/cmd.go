package cache

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// InvalidateCacheCmd represents the cache invalidate subcommand
type InvalidateCacheCmd struct {
	Source  string `arg:"" help:"Cache to invalidate: datawell" required:""`
	Expired bool   `help:"Only remove expired entries"`
}

func (i *InvalidateCacheCmd) Run() error {
	tableName := strings.ToLower(i.Source) + "_cache"
	if err := validateTableName(tableName); err != nil {
		return fmt.Errorf("invalid cache source '%s'; valid sources are: datawell", i.Source)
	}

	cacheDB := viper.GetString("cache.dbfile")
	slog.Info("Invalidating cache", "source", i.Source, "database", cacheDB, "expired_only", i.Expired)

	c, err := NewCacheDB(cacheDB)
	if err != nil {
		return fmt.Errorf("failed to open cache database: %w", err)
	}
	defer func() { _ = c.Close() }()

	var rows int64
	if i.Expired {
		rows, err = c.ClearExpired(tableName)
	} else {
		rows, err = c.InvalidateSource(tableName)
	}
	if err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}

	slog.Info("Cache invalidated", "source", i.Source, "rows_deleted", rows)
	return nil
}
