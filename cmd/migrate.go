package cmd

import (
	"context"
	"log/slog"

	"github.com/lepinkainen/coverhub/internal/config"
)

// MigrateCmd creates the schema
type MigrateCmd struct{}

func (m *MigrateCmd) Run(cfg *config.Config) error {
	ctx := context.Background()
	a := newApp(*cfg)
	defer func() { _ = a.Close() }()

	store, err := a.Store(ctx)
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	slog.Info("Database migrated", "driver", store.Driver())
	return nil
}
