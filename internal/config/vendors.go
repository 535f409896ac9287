package config

import (
	"fmt"
	"os"

	"github.com/lepinkainen/coverhub/internal/model"
	"gopkg.in/yaml.v3"
)

// VendorsFile is the provisioning document for vendors and URL guessers.
type VendorsFile struct {
	Vendors  []model.Vendor `yaml:"vendors"`
	Guessers []Guesser      `yaml:"guessers"`
}

// Guesser describes a vendor whose cover URL can be built from an
// identifier. Templates use {id} as the placeholder and are keyed by
// identifier type.
type Guesser struct {
	VendorID  int               `yaml:"vendor_id"`
	Templates map[string]string `yaml:"templates"`
}

// LoadVendors reads and validates a vendors file.
func LoadVendors(path string) (VendorsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return VendorsFile{}, fmt.Errorf("failed to read vendors file: %w", err)
	}

	var vf VendorsFile
	if err := yaml.Unmarshal(data, &vf); err != nil {
		return VendorsFile{}, fmt.Errorf("failed to parse vendors file: %w", err)
	}

	ids := make(map[int]bool)
	ranks := make(map[int]int)
	for _, v := range vf.Vendors {
		if v.ID <= 0 || v.Name == "" {
			return VendorsFile{}, fmt.Errorf("vendor entries need a positive id and a name (got id=%d name=%q)", v.ID, v.Name)
		}
		if ids[v.ID] {
			return VendorsFile{}, fmt.Errorf("duplicate vendor id %d", v.ID)
		}
		if other, ok := ranks[v.Rank]; ok {
			return VendorsFile{}, fmt.Errorf("vendors %d and %d share rank %d", other, v.ID, v.Rank)
		}
		ids[v.ID] = true
		ranks[v.Rank] = v.ID
	}

	for _, g := range vf.Guessers {
		if !ids[g.VendorID] {
			return VendorsFile{}, fmt.Errorf("guesser references unknown vendor %d", g.VendorID)
		}
		for t := range g.Templates {
			if !model.IdentifierType(t).Valid() {
				return VendorsFile{}, fmt.Errorf("guesser for vendor %d uses unknown identifier type %q", g.VendorID, t)
			}
		}
	}

	return vf, nil
}
