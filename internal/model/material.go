package model

// MaterialIdentifier is one equivalent identifier of a material.
type MaterialIdentifier struct {
	Type IdentifierType `json:"type"`
	ID   string         `json:"id"`
}

// Material is a bibliographic record resolved by the datawell.
type Material struct {
	Title        string               `json:"title,omitempty"`
	Creator      string               `json:"creator,omitempty"`
	Date         string               `json:"date,omitempty"`
	Publisher    string               `json:"publisher,omitempty"`
	IsCollection bool                 `json:"collection"`
	Identifiers  []MaterialIdentifier `json:"identifiers"`
}

// IsEmpty reports a zero-hit search.
func (m Material) IsEmpty() bool {
	return len(m.Identifiers) == 0
}

// AddIdentifier adds id unless the (type, id) pair is already present.
func (m *Material) AddIdentifier(t IdentifierType, id string) {
	if id == "" || m.HasIdentifier(t, id) {
		return
	}
	m.Identifiers = append(m.Identifiers, MaterialIdentifier{Type: t, ID: id})
}

// HasIdentifier reports whether the (type, id) pair is part of the material.
func (m Material) HasIdentifier(t IdentifierType, id string) bool {
	for _, mi := range m.Identifiers {
		if mi.Type == t && mi.ID == id {
			return true
		}
	}
	return false
}
