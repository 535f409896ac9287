package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentifierType(t *testing.T) {
	tests := []struct {
		input   string
		want    IdentifierType
		wantErr bool
	}{
		{input: "isbn", want: ISBN},
		{input: " PID ", want: PID},
		{input: "faust", want: FAUST},
		{input: "isrc", want: ISRC},
		{input: "ean", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseIdentifierType(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKatalogFaust(t *testing.T) {
	faust, ok := KatalogFaust("810100-katalog:555")
	require.True(t, ok)
	assert.Equal(t, "555", faust)

	_, ok = KatalogFaust("870970-basis:555")
	assert.False(t, ok)

	_, ok = KatalogFaust("81010-katalog:555")
	assert.False(t, ok)

	_, ok = KatalogFaust("810100-katalog:")
	assert.False(t, ok)
}

func TestNormalizeIdentifier(t *testing.T) {
	assert.Equal(t, "9788700123456", NormalizeIdentifier(ISBN, " 978-87-00-12345-6 "))
	assert.Equal(t, "123456789X", NormalizeIdentifier(ISBN, "1-234-56789-x"))
	assert.Equal(t, "870970-basis:123", NormalizeIdentifier(PID, "870970-basis:123"))
}

func TestMaterialIdentifiers(t *testing.T) {
	var m Material
	assert.True(t, m.IsEmpty())

	m.AddIdentifier(ISBN, "9788700123456")
	m.AddIdentifier(ISBN, "9788700123456")
	m.AddIdentifier(PID, "870970-basis:1")
	m.AddIdentifier(FAUST, "")

	assert.False(t, m.IsEmpty())
	assert.Len(t, m.Identifiers, 2)
	assert.True(t, m.HasIdentifier(PID, "870970-basis:1"))
	assert.False(t, m.HasIdentifier(FAUST, "1"))
}
