package model

import "time"

// Vendor is a cover supplier. Rank decides conflicts: lower wins.
type Vendor struct {
	ID                 int     `db:"id" yaml:"id"`
	Name               string  `db:"name" yaml:"name"`
	Rank               int     `db:"rank" yaml:"rank"`
	DataServerURI      *string `db:"data_server_uri" yaml:"data_server_uri"`
	DataServerUser     *string `db:"data_server_user" yaml:"data_server_user"`
	DataServerPassword *string `db:"data_server_password" yaml:"data_server_password"`
	ImageServerURI     *string `db:"image_server_uri" yaml:"image_server_uri"`
}

// Source is a vendor's claim that an identifier has a cover at a URL.
type Source struct {
	ID                    int64          `db:"id"`
	VendorID              int            `db:"vendor_id"`
	MatchID               string         `db:"match_id"`
	MatchType             IdentifierType `db:"match_type"`
	OriginalFile          *string        `db:"original_file"`
	OriginalLastModified  *time.Time     `db:"original_last_modified"`
	OriginalContentLength *int64         `db:"original_content_length"`
	Date                  time.Time      `db:"date"`
	LastIndexed           *time.Time     `db:"last_indexed"`

	// ImageID is filled from the owned image row when present.
	ImageID *int64 `db:"image_id"`
}

// HasImage reports whether the source owns a stored image.
func (s Source) HasImage() bool {
	return s.ImageID != nil
}

// ClearOriginal forgets the vendor URL and its fingerprint.
func (s *Source) ClearOriginal() {
	s.OriginalFile = nil
	s.OriginalLastModified = nil
	s.OriginalContentLength = nil
}

// Image is the accepted, stored cover of a source.
type Image struct {
	ID            int64     `db:"id"`
	SourceID      int64     `db:"source_id"`
	ImageFormat   string    `db:"image_format"`
	Size          int64     `db:"size"`
	Width         int       `db:"width"`
	Height        int       `db:"height"`
	CoverStoreURL string    `db:"cover_store_url"`
	Created       time.Time `db:"created"`
	Updated       time.Time `db:"updated"`
}

// Search is the published identifier to cover lookup row.
type Search struct {
	ID           int64          `db:"id"`
	SourceID     *int64         `db:"source_id"`
	IsIdentifier string         `db:"is_identifier"`
	IsType       IdentifierType `db:"is_type"`
	ImageURL     string         `db:"image_url"`
	ImageFormat  string         `db:"image_format"`
	Width        int            `db:"width"`
	Height       int            `db:"height"`
	Collection   bool           `db:"collection"`

	// SourceRank is the rank of the owning source's vendor, nil when the
	// owning source is gone.
	SourceRank *int `db:"source_rank"`
}

// ApplyImage copies the denormalized image fields onto the row.
func (s *Search) ApplyImage(img Image) {
	s.ImageURL = img.CoverStoreURL
	s.ImageFormat = img.ImageFormat
	s.Width = img.Width
	s.Height = img.Height
}
