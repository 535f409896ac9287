package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/lepinkainen/coverhub/internal/config"
	"github.com/lepinkainen/coverhub/internal/model"
)

// VendorCmd groups the vendor commands
type VendorCmd struct {
	Sync   VendorSyncCmd   `cmd:"" help:"Provision vendors from the vendors file"`
	Status VendorStatusCmd `cmd:"" help:"Show vendors with source counts and import locks"`
}

// VendorSyncCmd upserts every vendor in the vendors file
type VendorSyncCmd struct {
	File string `short:"f" help:"Vendors file (defaults to vendors_file from config)" type:"path"`
}

func (v *VendorSyncCmd) Run(cfg *config.Config) error {
	ctx := context.Background()
	path := v.File
	if path == "" {
		path = cfg.VendorsFile
	}

	vf, err := config.LoadVendors(path)
	if err != nil {
		return err
	}

	a := newApp(*cfg)
	defer func() { _ = a.Close() }()
	store, err := a.Store(ctx)
	if err != nil {
		return err
	}

	for _, vendor := range vf.Vendors {
		if err := store.UpsertVendor(ctx, vendor); err != nil {
			return fmt.Errorf("failed to sync vendor %d: %w", vendor.ID, err)
		}
	}
	slog.Info("Vendors synced", "file", path, "vendors", len(vf.Vendors), "guessers", len(vf.Guessers))
	return nil
}

// VendorStatusCmd renders the vendor table
type VendorStatusCmd struct{}

type vendorStatus struct {
	Vendor  model.Vendor
	Sources int64
	Locked  bool
	LockTTL time.Duration
}

func (v *VendorStatusCmd) Run(cfg *config.Config) error {
	ctx := context.Background()
	a := newApp(*cfg)
	defer func() { _ = a.Close() }()

	store, err := a.Store(ctx)
	if err != nil {
		return err
	}
	locker, err := a.Locker(ctx)
	if err != nil {
		return err
	}

	vendors, err := store.ListVendors(ctx)
	if err != nil {
		return err
	}
	counts, err := store.CountSourcesByVendor(ctx)
	if err != nil {
		return err
	}

	rows := make([]vendorStatus, 0, len(vendors))
	for _, vendor := range vendors {
		held, ttl, err := locker.Held(ctx, vendor.ID)
		if err != nil {
			return fmt.Errorf("failed to check lock for vendor %d: %w", vendor.ID, err)
		}
		rows = append(rows, vendorStatus{Vendor: vendor, Sources: counts[vendor.ID], Locked: held, LockTTL: ttl})
	}

	renderVendorStatus(os.Stdout, rows)
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("110"))
	cellStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	lockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	idleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("247")).Faint(true)
)

var vendorColumns = []struct {
	title string
	width int
}{
	{"ID", 6},
	{"RANK", 6},
	{"NAME", 28},
	{"SOURCES", 10},
	{"IMPORT", 18},
}

func renderVendorStatus(w io.Writer, rows []vendorStatus) {
	var b strings.Builder

	for _, c := range vendorColumns {
		b.WriteString(headerStyle.Width(c.width).Render(c.title))
	}
	b.WriteString("\n")

	for _, r := range rows {
		cells := []string{
			strconv.Itoa(r.Vendor.ID),
			strconv.Itoa(r.Vendor.Rank),
			r.Vendor.Name,
			strconv.FormatInt(r.Sources, 10),
		}
		for i, cell := range cells {
			b.WriteString(cellStyle.Width(vendorColumns[i].width).Render(cell))
		}

		lockCol := vendorColumns[len(vendorColumns)-1].width
		switch {
		case r.Locked && r.LockTTL > 0:
			b.WriteString(lockedStyle.Width(lockCol).Render("locked " + r.LockTTL.Round(time.Second).String()))
		case r.Locked:
			b.WriteString(lockedStyle.Width(lockCol).Render("locked"))
		default:
			b.WriteString(idleStyle.Width(lockCol).Render("idle"))
		}
		b.WriteString("\n")
	}

	_, _ = io.WriteString(w, b.String())
}
