package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/lepinkainen/coverhub/internal/csvutil"
	"github.com/lepinkainen/coverhub/internal/model"
)

// CSVAdapter reads "identifier,url" rows from a file. A third column, when
// present, overrides the identifier type for that row.
type CSVAdapter struct {
	vendorID    int
	path        string
	defaultType model.IdentifierType
	header      bool
}

// NewCSVAdapter creates an adapter for vendorID reading path.
func NewCSVAdapter(vendorID int, path string, defaultType model.IdentifierType, header bool) *CSVAdapter {
	return &CSVAdapter{vendorID: vendorID, path: path, defaultType: defaultType, header: header}
}

func (a *CSVAdapter) VendorID() int {
	return a.vendorID
}

func (a *CSVAdapter) Open(_ context.Context, _ Config) (Feed, error) {
	r, err := csvutil.Open(a.path, a.parse, csvutil.ProcessorOptions{
		FieldsPerRecord: -1,
		SkipInvalid:     true,
		Header:          a.header,
	})
	if err != nil {
		return nil, err
	}
	return &csvFeed{reader: r}, nil
}

func (a *CSVAdapter) parse(record []string) (Item, error) {
	if len(record) < 2 {
		return Item{}, fmt.Errorf("expected at least 2 fields, got %d", len(record))
	}
	item := Item{
		Identifier: strings.TrimSpace(record[0]),
		URL:        strings.TrimSpace(record[1]),
		Type:       a.defaultType,
	}
	if len(record) > 2 && strings.TrimSpace(record[2]) != "" {
		t, err := model.ParseIdentifierType(record[2])
		if err != nil {
			return Item{}, err
		}
		item.Type = t
	}
	if item.Identifier == "" || item.URL == "" {
		return Item{}, fmt.Errorf("empty identifier or url")
	}
	return item, nil
}

type csvFeed struct {
	reader *csvutil.Reader[Item]
}

func (f *csvFeed) Next(ctx context.Context) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	return f.reader.Next()
}

func (f *csvFeed) Close() error {
	return f.reader.Close()
}

// ReadIdentifiers reads the first column of a CSV file, e.g. a vendor's
// list of withdrawn identifiers.
func ReadIdentifiers(path string, header bool) ([]string, error) {
	return csvutil.ProcessCSV(path, func(record []string) (string, error) {
		id := strings.TrimSpace(record[0])
		if id == "" {
			return "", fmt.Errorf("empty identifier")
		}
		return id, nil
	}, csvutil.ProcessorOptions{FieldsPerRecord: -1, SkipInvalid: true, Header: header})
}
