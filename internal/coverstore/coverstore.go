// Package coverstore uploads cover images to the S3 compatible cover store
// and classifies store failures into a closed set of kinds.
package coverstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies cover store failures.
type Kind int

const (
	KindGeneric Kind = iota
	KindCredentials
	KindNotFound
	KindTooLarge
	KindInvalidResource
	KindUnexpected
)

var kindNames = map[Kind]string{
	KindGeneric:         "generic",
	KindCredentials:     "credentials",
	KindNotFound:        "not_found",
	KindTooLarge:        "too_large",
	KindInvalidResource: "invalid_resource",
	KindUnexpected:      "unexpected",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified cover store failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cover store %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("cover store %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err. Unclassified errors are generic.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindGeneric
}

// IsNotFound reports whether err is a not-found store error.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// Item is a stored cover.
type Item struct {
	ID     string
	URL    string
	Folder string
	Size   int64
	Width  int
	Height int
	Format string
	Tags   []string
}

// Gateway is the cover store contract.
type Gateway interface {
	// Upload fetches url and stores it as folder/identifier.
	Upload(ctx context.Context, url, folder, identifier string, tags []string) (Item, error)
	Remove(ctx context.Context, folder, identifier string) error
	Search(ctx context.Context, query, folder string, maxResults int) ([]Item, error)
	// Move renames source to destination, both given as folder/identifier.
	Move(ctx context.Context, source, destination string, overwrite bool) (Item, error)
}

// ObjectKey returns the object key of an identifier within folder.
func ObjectKey(folder, identifier string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return identifier
	}
	return folder + "/" + identifier
}

func splitKey(key string) (folder, identifier string) {
	key = strings.Trim(key, "/")
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}
