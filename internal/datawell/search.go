package datawell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/lepinkainen/coverhub/internal/cache"
	"github.com/lepinkainen/coverhub/internal/model"
)

// ErrUnknownMaterialType is returned for identifier types the datawell
// cannot search on.
var ErrUnknownMaterialType = errors.New("unknown material type")

type searchResponse struct {
	HitCount int   `json:"hitCount"`
	Data     []hit `json:"data"`
}

type hit struct {
	PID         string          `json:"pid"`
	Faust       string          `json:"faust"`
	Title       string          `json:"title"`
	Creator     string          `json:"creator"`
	Date        string          `json:"date"`
	Publisher   string          `json:"publisher"`
	Collection  bool            `json:"collection"`
	Identifiers []hitIdentifier `json:"identifiers"`
}

type hitIdentifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// searchIndex maps identifier types to datawell search indexes.
var searchIndex = map[model.IdentifierType]string{
	model.ISBN:  "term.isbn",
	model.ISSN:  "term.issn",
	model.ISMN:  "term.ismn",
	model.ISRC:  "term.isrc",
	model.PID:   "rec.id",
	model.FAUST: "rec.id",
}

// Search resolves identifier to a material. A zero-hit search returns an
// empty Material and no error. forceRefresh bypasses the cache.
func (c *Client) Search(ctx context.Context, identifier string, t model.IdentifierType, forceRefresh bool) (model.Material, error) {
	if _, ok := searchIndex[t]; !ok {
		return model.Material{}, fmt.Errorf("%w: %s", ErrUnknownMaterialType, t)
	}

	key := string(t) + ":" + identifier
	material, hit, err := cache.GetOrFetch(c.cache, cache.DatawellTable, key, func() (model.Material, error) {
		return c.search(ctx, identifier, t)
	}, cache.Options[model.Material]{
		Force: forceRefresh,
		TTL:   cache.SelectNegativeCacheTTL(c.cacheTTL, c.negativeTTL, model.Material.IsEmpty),
	})
	if err != nil {
		c.metrics.Datawell("error")
		return model.Material{}, err
	}

	switch {
	case hit:
		c.metrics.Datawell("cache_hit")
	case material.IsEmpty():
		c.metrics.Datawell("zero_hit")
	default:
		c.metrics.Datawell("hit")
	}
	return material, nil
}

func (c *Client) search(ctx context.Context, identifier string, t model.IdentifierType) (model.Material, error) {
	query := searchIndex[t] + "=" + identifier
	if t == model.FAUST {
		query = searchIndex[t] + "=*:" + identifier
	}

	params := url.Values{}
	params.Set("q", query)
	if c.agency != "" {
		params.Set("agency", c.agency)
	}
	if c.profile != "" {
		params.Set("profile", c.profile)
	}
	endpoint := c.baseURL + "/search?" + params.Encode()

	var resp searchResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return model.Material{}, fmt.Errorf("failed to search datawell for %s %s: %w", t, identifier, err)
	}
	return toMaterial(resp), nil
}

func toMaterial(resp searchResponse) model.Material {
	var material model.Material
	for i, h := range resp.Data {
		if i == 0 {
			material.Title = h.Title
			material.Creator = h.Creator
			material.Date = h.Date
			material.Publisher = h.Publisher
			material.IsCollection = h.Collection
		}
		material.AddIdentifier(model.PID, h.PID)
		material.AddIdentifier(model.FAUST, h.Faust)
		for _, id := range h.Identifiers {
			t, err := model.ParseIdentifierType(id.Type)
			if err != nil {
				slog.Debug("Skipping unsupported identifier in datawell result", "type", id.Type, "id", id.ID)
				continue
			}
			material.AddIdentifier(t, model.NormalizeIdentifier(t, id.ID))
		}
	}
	return material
}
