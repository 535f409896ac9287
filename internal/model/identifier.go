// Package model holds the value types shared by the import, pipeline and
// storage layers.
package model

import (
	"fmt"
	"regexp"
	"strings"
)

// IdentifierType is the kind of a material identifier.
type IdentifierType string

const (
	ISBN  IdentifierType = "isbn"
	ISSN  IdentifierType = "issn"
	ISMN  IdentifierType = "ismn"
	ISRC  IdentifierType = "isrc"
	PID   IdentifierType = "pid"
	FAUST IdentifierType = "faust"
)

// IdentifierTypes lists every supported identifier type.
var IdentifierTypes = []IdentifierType{ISBN, ISSN, ISMN, ISRC, PID, FAUST}

// ParseIdentifierType validates a raw identifier type string.
func ParseIdentifierType(s string) (IdentifierType, error) {
	t := IdentifierType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown identifier type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the supported identifier types.
func (t IdentifierType) Valid() bool {
	for _, known := range IdentifierTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t IdentifierType) String() string {
	return string(t)
}

var katalogPID = regexp.MustCompile(`^\d{6}-katalog:(\d+)$`)

// KatalogFaust returns the faust number embedded in a "-katalog:" pid, e.g.
// "555" for "810100-katalog:555".
func KatalogFaust(pid string) (string, bool) {
	m := katalogPID.FindStringSubmatch(pid)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// NormalizeIdentifier strips the formatting vendors commonly add to ISBN-like
// identifiers. PIDs are returned untouched.
func NormalizeIdentifier(t IdentifierType, id string) string {
	id = strings.TrimSpace(id)
	switch t {
	case ISBN, ISSN, ISMN:
		id = strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(id))
	case ISRC:
		id = strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	}
	return id
}
