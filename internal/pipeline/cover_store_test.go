package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/coverhub/internal/coverstore"
	apperrors "github.com/lepinkainen/coverhub/internal/errors"
	"github.com/lepinkainen/coverhub/internal/message"
	"github.com/lepinkainen/coverhub/internal/model"
	"github.com/lepinkainen/coverhub/internal/testutil"
)

type failingGateway struct {
	coverstore.Gateway
	kind coverstore.Kind
}

func (g failingGateway) Upload(context.Context, string, string, string, []string) (coverstore.Item, error) {
	return coverstore.Item{}, &coverstore.Error{Kind: g.kind, Op: "upload", Err: errors.New("store says no")}
}

func TestCoverStoreCreatesThenUpdatesImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vendor := testutil.SeedVendor(t, f.store, 1, "Vendor", 10)
	src := testutil.SeedSource(t, f.store, vendor.ID, model.ISBN, "111", f.url("/a.png"))
	env := message.New(ctx, message.OpInsert, model.ISBN, "111", vendor.ID)

	require.NoError(t, f.pipeline.CoverStore(ctx, env))
	img, err := f.store.GetImageBySource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://covers.test/Vendor/111", img.CoverStoreURL)
	assert.Equal(t, "png", img.ImageFormat)

	require.NoError(t, f.pipeline.CoverStore(ctx, env.Next(message.OpUpdate)))
	again, err := f.store.GetImageBySource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, img.ID, again.ID)

	forwarded := f.envelopes(t, message.TopicSearch)
	require.Len(t, forwarded, 2)
	require.NotNil(t, forwarded[0].ImageID)
	assert.Equal(t, img.ID, *forwarded[0].ImageID)
	assert.Equal(t, message.OpUpdate, forwarded[1].Operation)
}

func TestCoverStoreOriginNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vendor := testutil.SeedVendor(t, f.store, 1, "Vendor", 10)
	src := testutil.SeedSource(t, f.store, vendor.ID, model.ISBN, "111", f.url("/missing.png"))
	length := int64(10)
	modified := time.Now().UTC()
	src.OriginalContentLength = &length
	src.OriginalLastModified = &modified
	require.NoError(t, f.store.UpdateSource(ctx, src))

	err := f.pipeline.CoverStore(ctx, message.New(ctx, message.OpInsert, model.ISBN, "111", vendor.ID))
	assert.True(t, apperrors.IsUnrecoverableError(err))

	got, err := f.store.GetSource(ctx, vendor.ID, "111")
	require.NoError(t, err)
	assert.Nil(t, got.OriginalFile)
	assert.Nil(t, got.OriginalLastModified)
	assert.Nil(t, got.OriginalContentLength)
	assert.Empty(t, f.mem.Pending(message.TopicSearch))
}

func TestCoverStoreMissingBucketKeepsOriginal(t *testing.T) {
	s3 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
			`<Error><Code>NoSuchBucket</Code><Message>The specified bucket does not exist</Message><BucketName>covers</BucketName></Error>`)
	}))
	defer s3.Close()

	gateway, err := coverstore.NewMinio(coverstore.MinioOptions{
		Endpoint:  strings.TrimPrefix(s3.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "covers",
		Region:    "us-east-1",
	})
	require.NoError(t, err)

	f := newFixture(t)
	f.pipeline.store = gateway
	ctx := context.Background()
	vendor := testutil.SeedVendor(t, f.store, 1, "Vendor", 10)
	src := testutil.SeedSource(t, f.store, vendor.ID, model.ISBN, "111", f.url("/a.png"))
	length := int64(10)
	src.OriginalContentLength = &length
	require.NoError(t, f.store.UpdateSource(ctx, src))

	err = f.pipeline.CoverStore(ctx, message.New(ctx, message.OpInsert, model.ISBN, "111", vendor.ID))
	assert.True(t, apperrors.IsReplayable(err))

	got, err := f.store.GetSource(ctx, vendor.ID, "111")
	require.NoError(t, err)
	require.NotNil(t, got.OriginalFile)
	assert.Equal(t, f.url("/a.png"), *got.OriginalFile)
	assert.Equal(t, &length, got.OriginalContentLength)
	assert.Empty(t, f.mem.Pending(message.TopicSearch))
}

func TestCoverStoreFailureDispatch(t *testing.T) {
	tests := []struct {
		kind        coverstore.Kind
		redelivered bool
		check       func(t *testing.T, err error)
	}{
		{kind: coverstore.KindCredentials, check: func(t *testing.T, err error) {
			assert.True(t, apperrors.IsUnrecoverableError(err))
			assert.False(t, apperrors.IsReplayable(err))
		}},
		{kind: coverstore.KindTooLarge, check: func(t *testing.T, err error) {
			assert.True(t, apperrors.IsUnrecoverableError(err))
		}},
		{kind: coverstore.KindInvalidResource, check: func(t *testing.T, err error) {
			assert.True(t, apperrors.IsUnrecoverableError(err))
		}},
		{kind: coverstore.KindUnexpected, check: func(t *testing.T, err error) {
			assert.True(t, apperrors.IsReplayable(err))
		}},
		{kind: coverstore.KindGeneric, check: func(t *testing.T, err error) {
			assert.True(t, apperrors.IsRequeueError(err))
		}},
		{kind: coverstore.KindGeneric, redelivered: true, check: func(t *testing.T, err error) {
			assert.True(t, apperrors.IsUnrecoverableError(err))
			assert.False(t, apperrors.IsRequeueError(err))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			f := newFixture(t)
			f.pipeline.store = failingGateway{kind: tt.kind}
			ctx := context.Background()
			vendor := testutil.SeedVendor(t, f.store, 1, "Vendor", 10)
			testutil.SeedSource(t, f.store, vendor.ID, model.ISBN, "111", f.url("/a.png"))

			env := message.New(ctx, message.OpInsert, model.ISBN, "111", vendor.ID)
			env.Redelivered = tt.redelivered
			err := f.pipeline.CoverStore(ctx, env)
			tt.check(t, err)

			src, err := f.store.GetSource(ctx, vendor.ID, "111")
			require.NoError(t, err)
			assert.NotNil(t, src.OriginalFile)
			assert.Empty(t, f.mem.Pending(message.TopicSearch))
		})
	}
}
