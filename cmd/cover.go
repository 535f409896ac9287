package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/lepinkainen/coverhub/internal/config"
	"github.com/lepinkainen/coverhub/internal/coverstore"
)

// CoverCmd groups the cover store commands
type CoverCmd struct {
	Search CoverSearchCmd `cmd:"" help:"List stored covers"`
	Move   CoverMoveCmd   `cmd:"" help:"Rename a stored cover"`
	Remove CoverRemoveCmd `cmd:"" help:"Remove a stored cover"`
}

// CoverSearchCmd lists stored covers
type CoverSearchCmd struct {
	Query  string `arg:"" optional:"" help:"Identifier prefix to match"`
	Folder string `help:"Vendor folder to search"`
	Max    int    `help:"Maximum number of results" default:"50"`
}

func (c *CoverSearchCmd) Run(cfg *config.Config) error {
	ctx := context.Background()
	a := newApp(*cfg)
	defer func() { _ = a.Close() }()

	covers, err := a.CoverStore(ctx)
	if err != nil {
		return err
	}
	items, err := covers.Search(ctx, c.Query, c.Folder, c.Max)
	if err != nil {
		return err
	}

	for _, item := range items {
		fmt.Fprintln(os.Stdout, formatItem(item))
	}
	return nil
}

var urlStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("247"))

func formatItem(item coverstore.Item) string {
	dims := strconv.Itoa(item.Width) + "x" + strconv.Itoa(item.Height)
	return headerStyle.Render(item.ID) + "  " +
		cellStyle.Render(item.Format+" "+dims+" "+strconv.FormatInt(item.Size, 10)+"B") + "  " +
		urlStyle.Render(item.URL)
}

// CoverMoveCmd renames a stored cover
type CoverMoveCmd struct {
	Source      string `arg:"" help:"Current key (folder/identifier)"`
	Destination string `arg:"" help:"New key (folder/identifier)"`
	Overwrite   bool   `help:"Replace an existing destination"`
}

func (c *CoverMoveCmd) Run(cfg *config.Config) error {
	ctx := context.Background()
	a := newApp(*cfg)
	defer func() { _ = a.Close() }()

	covers, err := a.CoverStore(ctx)
	if err != nil {
		return err
	}
	item, err := covers.Move(ctx, c.Source, c.Destination, c.Overwrite)
	if err != nil {
		return fmt.Errorf("failed to move %s: %w", c.Source, err)
	}
	fmt.Fprintln(os.Stdout, formatItem(item))
	return nil
}

// CoverRemoveCmd deletes a stored cover
type CoverRemoveCmd struct {
	Folder     string `arg:"" help:"Vendor folder"`
	Identifier string `arg:"" help:"Identifier"`
}

func (c *CoverRemoveCmd) Run(cfg *config.Config) error {
	ctx := context.Background()
	a := newApp(*cfg)
	defer func() { _ = a.Close() }()

	covers, err := a.CoverStore(ctx)
	if err != nil {
		return err
	}
	if err := covers.Remove(ctx, c.Folder, c.Identifier); err != nil {
		return fmt.Errorf("failed to remove %s: %w", coverstore.ObjectKey(c.Folder, c.Identifier), err)
	}
	return nil
}
