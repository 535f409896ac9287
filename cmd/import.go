package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lepinkainen/coverhub/internal/config"
	"github.com/lepinkainen/coverhub/internal/importer"
	"github.com/lepinkainen/coverhub/internal/model"
)

// ImportCmd imports a vendor's identifier,url feed
type ImportCmd struct {
	VendorID        int       `arg:"" name:"vendor" help:"Vendor id"`
	Input           string    `short:"f" help:"Path to identifier,url CSV file" required:"" type:"existingfile"`
	Type            string    `short:"t" help:"Identifier type for rows without a type column" default:"isbn" enum:"isbn,issn,ismn,isrc,pid,faust"`
	Header          bool      `help:"Skip the first CSV row"`
	Limit           int       `help:"Stop after this many records (0 = all)"`
	WithoutQueue    bool      `help:"Record sources without queuing cover processing"`
	WithUpdatesDate time.Time `help:"Only update existing sources dated on or after this day (YYYY-MM-DD)" format:"2006-01-02"`
	Force           bool      `help:"Take the vendor lock even if another import holds it"`
	BatchSize       int       `help:"Identifiers per database batch (overrides import.batch_size)"`
}

func (i *ImportCmd) importConfig(cfg *config.Config) importer.Config {
	batch := cfg.Import.BatchSize
	if i.BatchSize > 0 {
		batch = i.BatchSize
	}
	return importer.Config{
		Limit:           i.Limit,
		WithoutQueue:    i.WithoutQueue,
		WithUpdatesDate: i.WithUpdatesDate,
		Force:           i.Force,
		BatchSize:       batch,
	}
}

func (i *ImportCmd) Run(cfg *config.Config) error {
	ctx := context.Background()
	a := newApp(*cfg)
	defer func() { _ = a.Close() }()

	core, err := a.Core(ctx)
	if err != nil {
		return err
	}

	adapter := importer.NewCSVAdapter(i.VendorID, i.Input, model.IdentifierType(i.Type), i.Header)
	status, err := core.Import(ctx, adapter, i.importConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to import vendor %d: %w", i.VendorID, err)
	}

	slog.Info("Import finished",
		"vendor", i.VendorID,
		"records", status.Records,
		"inserted", status.Inserted,
		"updated", status.Updated,
	)
	return nil
}

// DeleteCmd removes identifiers for a vendor
type DeleteCmd struct {
	VendorID int    `arg:"" name:"vendor" help:"Vendor id"`
	Input    string `short:"f" help:"File with one identifier per row" required:"" type:"existingfile"`
	Type     string `short:"t" help:"Identifier type" default:"isbn" enum:"isbn,issn,ismn,isrc,pid,faust"`
	Header   bool   `help:"Skip the first row"`
}

func (d *DeleteCmd) Run(cfg *config.Config) error {
	ctx := context.Background()
	a := newApp(*cfg)
	defer func() { _ = a.Close() }()

	core, err := a.Core(ctx)
	if err != nil {
		return err
	}
	store, err := a.Store(ctx)
	if err != nil {
		return err
	}
	vendor, err := store.GetVendor(ctx, d.VendorID)
	if err != nil {
		return fmt.Errorf("failed to load vendor %d: %w", d.VendorID, err)
	}

	ids, err := importer.ReadIdentifiers(d.Input, d.Header)
	if err != nil {
		return err
	}
	status, err := core.DeleteIdentifiers(ctx, vendor, ids, model.IdentifierType(d.Type))
	if err != nil {
		return fmt.Errorf("failed to delete identifiers for vendor %d: %w", d.VendorID, err)
	}

	slog.Info("Delete queued", "vendor", d.VendorID, "identifiers", len(ids), "deleted", status.Deleted)
	return nil
}

// ReindexCmd queues delete-and-update searches for a vendor
type ReindexCmd struct {
	VendorID  int `arg:"" name:"vendor" help:"Vendor id"`
	BatchSize int `help:"Sources per database page (overrides import.batch_size)"`
}

func (r *ReindexCmd) Run(cfg *config.Config) error {
	ctx := context.Background()
	a := newApp(*cfg)
	defer func() { _ = a.Close() }()

	p, err := a.Pipeline(ctx)
	if err != nil {
		return err
	}

	batch := cfg.Import.BatchSize
	if r.BatchSize > 0 {
		batch = r.BatchSize
	}
	queued, err := p.Reindex(ctx, r.VendorID, batch)
	if err != nil {
		return fmt.Errorf("failed to reindex vendor %d: %w", r.VendorID, err)
	}
	slog.Info("Reindex queued", "vendor", r.VendorID, "messages", queued)
	return nil
}
