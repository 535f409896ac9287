package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/coverhub/internal/coverstore"
	"github.com/lepinkainen/coverhub/internal/datastore"
	apperrors "github.com/lepinkainen/coverhub/internal/errors"
	"github.com/lepinkainen/coverhub/internal/importer"
	"github.com/lepinkainen/coverhub/internal/lock"
	"github.com/lepinkainen/coverhub/internal/message"
	"github.com/lepinkainen/coverhub/internal/metrics"
	"github.com/lepinkainen/coverhub/internal/model"
	"github.com/lepinkainen/coverhub/internal/queue"
	"github.com/lepinkainen/coverhub/internal/testutil"
	"github.com/lepinkainen/coverhub/internal/validator"
)

type fakeValidator struct {
	mu      sync.Mutex
	results map[string]validator.Result
	err     error
	calls   []string
}

func (f *fakeValidator) Validate(_ context.Context, url string) (validator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.err != nil {
		return validator.Result{}, f.err
	}
	res := f.results[url]
	res.URL = url
	return res, nil
}

func (f *fakeValidator) found(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[url] = validator.Result{Found: true}
}

type fakeDatawell struct {
	mu        sync.Mutex
	materials map[string]model.Material
	err       error
	forced    []bool
}

func (f *fakeDatawell) Search(_ context.Context, identifier string, t model.IdentifierType, forceRefresh bool) (model.Material, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = append(f.forced, forceRefresh)
	if f.err != nil {
		return model.Material{}, f.err
	}
	return f.materials[string(t)+":"+identifier], nil
}

func (f *fakeDatawell) set(t model.IdentifierType, identifier string, m model.Material) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.materials[string(t)+":"+identifier] = m
}

func (f *fakeDatawell) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.forced)
}

type fixture struct {
	store     *datastore.Store
	mem       *queue.Memory
	metrics   *metrics.Metrics
	validator *fakeValidator
	datawell  *fakeDatawell
	covers    *coverstore.Memory
	origin    *httptest.Server
	pipeline  *Pipeline
}

func coverPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 30, 45))))
	return buf.Bytes()
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()

	cover := coverPNG(t)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(cover)
	}))
	t.Cleanup(origin.Close)

	f := &fixture{
		store:     testutil.NewStore(t),
		mem:       queue.NewMemory(),
		metrics:   metrics.New(),
		validator: &fakeValidator{results: make(map[string]validator.Result)},
		datawell:  &fakeDatawell{materials: make(map[string]model.Material)},
		covers:    coverstore.NewMemory("https://covers.test", origin.Client(), 0),
		origin:    origin,
	}
	f.mem.Block = 10 * time.Millisecond

	deps := Deps{
		Repo:       f.store,
		Bus:        queue.NewBus(f.mem),
		Validator:  f.validator,
		CoverStore: f.covers,
		Datawell:   f.datawell,
		Metrics:    f.metrics,
		NoHit:      true,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.pipeline = New(deps)
	return f
}

func (f *fixture) url(path string) string {
	return f.origin.URL + path
}

func (f *fixture) envelopes(t *testing.T, topic message.Topic) []message.Envelope {
	t.Helper()
	var out []message.Envelope
	for _, body := range f.mem.Pending(topic) {
		env, err := message.DecodeEnvelope(body)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (f *fixture) indexEvents(t *testing.T) []message.IndexEvent {
	t.Helper()
	var out []message.IndexEvent
	for _, body := range f.mem.Pending(message.TopicIndex) {
		ev, err := message.DecodeIndexEvent(body)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

// drain feeds queued messages through the handlers until every queue is
// empty and returns the handler errors.
func (f *fixture) drain(t *testing.T) []error {
	t.Helper()
	ctx := context.Background()
	handlers := f.pipeline.Handlers()

	var errs []error
	for round := 0; round < 20; round++ {
		processed := 0
		for _, topic := range message.Topics {
			deliveries, err := f.mem.Receive(ctx, topic, 100)
			require.NoError(t, err)
			for _, d := range deliveries {
				processed++
				if err := handlers[topic].Handle(ctx, d); err != nil {
					errs = append(errs, err)
				}
			}
		}
		if processed == 0 {
			return errs
		}
	}
	t.Fatal("pipeline did not settle")
	return nil
}

func TestHandlersRejectMalformedMessages(t *testing.T) {
	f := newFixture(t)
	handlers := f.pipeline.Handlers()

	for _, topic := range message.Topics {
		err := handlers[topic].Handle(context.Background(), queue.Delivery{Topic: topic, Body: []byte(`{"operation":"bogus"}`)})
		assert.True(t, apperrors.IsUnrecoverableError(err), topic)
	}
}

func TestEndToEndImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vendor := testutil.SeedVendor(t, f.store, 1, "Vendor", 10)

	coverURL := f.url("/covers/9788700000001.png")
	f.validator.found(coverURL)
	f.datawell.set(model.ISBN, "9788700000001", model.Material{
		Title: "Kongens Fald",
		Identifiers: []model.MaterialIdentifier{
			{Type: model.ISBN, ID: "9788700000001"},
			{Type: model.PID, ID: "870970-basis:1"},
		},
	})

	core := importer.NewCore(f.store, queue.NewBus(f.mem), lock.NewMemory(time.Minute), f.metrics, nil)
	status, err := core.UpdateOrInsertSources(ctx, vendor, map[string]string{"9788700000001": coverURL}, model.ISBN, importer.Config{})
	require.NoError(t, err)
	assert.Equal(t, 1, status.Inserted)

	assert.Empty(t, f.drain(t))

	item, ok := f.covers.Get("Vendor", "9788700000001")
	require.True(t, ok)

	for _, mi := range []model.MaterialIdentifier{{Type: model.ISBN, ID: "9788700000001"}, {Type: model.PID, ID: "870970-basis:1"}} {
		row, err := f.store.GetSearch(ctx, mi.ID, mi.Type)
		require.NoError(t, err)
		assert.Equal(t, item.URL, row.ImageURL)
		assert.Equal(t, 30, row.Width)
		assert.Equal(t, 45, row.Height)
	}

	src, err := f.store.GetSource(ctx, vendor.ID, "9788700000001")
	require.NoError(t, err)
	assert.NotNil(t, src.LastIndexed)
	assert.True(t, src.HasImage())

	// Replaying the whole chain leaves the same rows behind.
	before, err := f.store.SearchesBySource(ctx, src.ID)
	require.NoError(t, err)
	require.NoError(t, f.pipeline.CoverStore(ctx, message.New(ctx, message.OpInsert, model.ISBN, "9788700000001", vendor.ID)))
	assert.Empty(t, f.drain(t))
	after, err := f.store.SearchesBySource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
	assert.Equal(t, before[0].ID, after[0].ID)
}
