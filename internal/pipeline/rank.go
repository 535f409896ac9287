package pipeline

import "github.com/lepinkainen/coverhub/internal/model"

// ShouldOverride decides whether a source may take over an existing search
// row. Lower rank wins. A collection may only replace another collection.
func ShouldOverride(sourceRank, searchRank int, materialIsCollection, searchIsCollection bool) bool {
	if sourceRank > searchRank {
		return false
	}
	if materialIsCollection {
		return searchIsCollection
	}
	return true
}

// acceptsOverride applies ShouldOverride to a stored row. A row whose
// source is gone has no owner and is always replaced.
func acceptsOverride(row model.Search, sourceRank int, materialIsCollection bool) bool {
	if row.SourceRank == nil {
		return true
	}
	return ShouldOverride(sourceRank, *row.SourceRank, materialIsCollection, row.Collection)
}
