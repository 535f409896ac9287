package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/coverhub/internal/coverstore"
	"github.com/lepinkainen/coverhub/internal/datastore"
	apperrors "github.com/lepinkainen/coverhub/internal/errors"
	"github.com/lepinkainen/coverhub/internal/message"
	"github.com/lepinkainen/coverhub/internal/model"
	"github.com/lepinkainen/coverhub/internal/testutil"
)

func TestDeleteRemovesSourceAndRecoversIdentifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The better vendor owns the row; the other vendor has a stored cover too.
	owner := testutil.SeedVendor(t, f.store, 3, "Owner", 3)
	ownerSrc := testutil.SeedSource(t, f.store, owner.ID, model.ISBN, "111", f.url("/a.png"))
	require.NoError(t, f.pipeline.CoverStore(ctx, message.New(ctx, message.OpInsert, model.ISBN, "111", owner.ID)))
	ownerImg, err := f.store.GetImageBySource(ctx, ownerSrc.ID)
	require.NoError(t, err)
	row := model.Search{SourceID: &ownerSrc.ID, IsIdentifier: "111", IsType: model.ISBN, ImageURL: ownerImg.CoverStoreURL}
	require.NoError(t, f.store.InsertSearch(ctx, &row))

	other := seedIndexed(t, f.store, 5, 5, "111", "url-other")

	require.NoError(t, f.pipeline.Delete(ctx, message.New(ctx, message.OpDelete, model.ISBN, "111", owner.ID)))

	_, err = f.store.GetSource(ctx, owner.ID, "111")
	assert.True(t, errors.Is(err, datastore.ErrNotFound))
	_, err = f.store.GetImage(ctx, ownerImg.ID)
	assert.True(t, errors.Is(err, datastore.ErrNotFound))
	_, err = f.store.GetSearch(ctx, "111", model.ISBN)
	assert.True(t, errors.Is(err, datastore.ErrNotFound))
	_, ok := f.covers.Get("Owner", "111")
	assert.False(t, ok)

	queued := f.envelopes(t, message.TopicSearch)
	// The first queued search is the one from the CoverStore call above.
	require.Len(t, queued, 2)
	assert.Equal(t, other.vendor.ID, queued[1].VendorID)
	assert.Equal(t, message.OpUpdate, queued[1].Operation)
	assert.Equal(t, other.image.ID, *queued[1].ImageID)
}

// flakyRemover fails the first removals with a store fault.
type flakyRemover struct {
	coverstore.Gateway
	fails int
}

func (g *flakyRemover) Remove(ctx context.Context, folder, identifier string) error {
	if g.fails > 0 {
		g.fails--
		return &coverstore.Error{Kind: coverstore.KindUnexpected, Op: "remove", Err: errors.New("store unavailable")}
	}
	return g.Gateway.Remove(ctx, folder, identifier)
}

func TestDeleteRetriesFailedCoverRemoval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vendor := testutil.SeedVendor(t, f.store, 1, "Vendor", 10)
	testutil.SeedSource(t, f.store, vendor.ID, model.ISBN, "111", f.url("/a.png"))
	require.NoError(t, f.pipeline.CoverStore(ctx, message.New(ctx, message.OpInsert, model.ISBN, "111", vendor.ID)))
	f.pipeline.store = &flakyRemover{Gateway: f.covers, fails: 1}

	env := message.New(ctx, message.OpDelete, model.ISBN, "111", vendor.ID)
	err := f.pipeline.Delete(ctx, env)
	require.Error(t, err)
	assert.False(t, apperrors.IsSkipError(err))
	assert.False(t, apperrors.IsUnrecoverableError(err))

	_, err = f.store.GetSource(ctx, vendor.ID, "111")
	assert.True(t, errors.Is(err, datastore.ErrNotFound))
	_, ok := f.covers.Get("Vendor", "111")
	assert.True(t, ok)

	// The redelivery finds the rows gone and only evicts the cover.
	err = f.pipeline.Delete(ctx, env)
	assert.True(t, apperrors.IsSkipError(err))
	_, ok = f.covers.Get("Vendor", "111")
	assert.False(t, ok)
}

func TestDeleteMissingSourceIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vendor := testutil.SeedVendor(t, f.store, 1, "Vendor", 10)

	err := f.pipeline.Delete(ctx, message.New(ctx, message.OpDelete, model.ISBN, "111", vendor.ID))
	assert.True(t, apperrors.IsSkipError(err))
}

func TestDeleteWithoutStoredCover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vendor := testutil.SeedVendor(t, f.store, 1, "Vendor", 10)
	testutil.SeedSource(t, f.store, vendor.ID, model.ISBN, "111", "https://img.test/a.jpg")

	require.NoError(t, f.pipeline.Delete(ctx, message.New(ctx, message.OpDelete, model.ISBN, "111", vendor.ID)))
	assert.Empty(t, f.mem.Pending(message.TopicSearch))
}

func TestReindexQueuesSourcesWithImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vendor := testutil.SeedVendor(t, f.store, 1, "Vendor", 10)
	for _, id := range []string{"1", "2", "3"} {
		src := testutil.SeedSource(t, f.store, vendor.ID, model.ISBN, id, "https://img.test/"+id)
		if id != "2" {
			testutil.SeedImage(t, f.store, src.ID, "https://covers.test/"+id)
		}
	}

	queued, err := f.pipeline.Reindex(ctx, vendor.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	envs := f.envelopes(t, message.TopicSearch)
	require.Len(t, envs, 2)
	assert.Equal(t, message.OpDeleteAndUpdate, envs[0].Operation)
	assert.Equal(t, "1", envs[0].Identifier)
	assert.Equal(t, "3", envs[1].Identifier)
}
