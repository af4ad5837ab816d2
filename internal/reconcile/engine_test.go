package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cratemirror/internal/crate"
	"cratemirror/internal/logger"
	"cratemirror/internal/match"
	"cratemirror/internal/remote"
	"cratemirror/internal/store"
)

type fakeStore struct {
	mappings  map[string]store.Mapping
	getErr    error
	upsertErr error
	upserts   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{mappings: make(map[string]store.Mapping)}
}

func (f *fakeStore) Get(_ context.Context, localPath string) (*store.Mapping, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if m, ok := f.mappings[localPath]; ok {
		out := m
		return &out, nil
	}
	return nil, nil
}

func (f *fakeStore) Upsert(_ context.Context, m store.Mapping) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts++
	f.mappings[m.LocalPath] = m
	return nil
}

type fakeCatalog struct {
	results map[string][]remote.Track // keyed by title
	errs    map[string]error
	calls   int
}

func (f *fakeCatalog) Search(_ context.Context, title, _ string) ([]remote.Track, error) {
	f.calls++
	if err := f.errs[title]; err != nil {
		return nil, err
	}
	return f.results[title], nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func localTrack(path, title, artist string, secs int) crate.Track {
	return crate.Track{Path: path, Title: title, Artist: artist, Duration: seconds(secs)}
}

func remoteTrack(id, title, artist string, secs int) remote.Track {
	return remote.Track{ID: id, Title: title, Artist: artist, Duration: seconds(secs)}
}

func newEngine(st MappingStore, cat Catalog) *Engine {
	return New(st, cat, match.DefaultConfig(), logger.New(false))
}

func TestReconcileColdMatchPersistsMapping(t *testing.T) {
	st := newFakeStore()
	cat := &fakeCatalog{results: map[string][]remote.Track{
		"Glue": {remoteTrack("glue-1", "Glue", "Bicep", 269)},
	}}
	eng := newEngine(st, cat)

	result, err := eng.Reconcile(context.Background(),
		[]crate.Track{localTrack("/m/glue.mp3", "Glue", "Bicep", 269)}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"glue-1"}, result.Desired)
	assert.Equal(t, 1, result.Matched)
	assert.Empty(t, result.Unmatched)

	m, ok := st.mappings["/m/glue.mp3"]
	require.True(t, ok, "confirmed match must be persisted")
	assert.Equal(t, "glue-1", m.RemoteID)
	assert.Greater(t, m.Confidence, 0.9)

	adds, removes, moves := result.Plan.Counts()
	assert.Equal(t, [3]int{1, 0, 0}, [3]int{adds, removes, moves})
}

func TestReconcileCacheHitSkipsCatalog(t *testing.T) {
	st := newFakeStore()
	st.mappings["/m/glue.mp3"] = store.Mapping{LocalPath: "/m/glue.mp3", RemoteID: "glue-1", Confidence: 0.95}
	cat := &fakeCatalog{}
	eng := newEngine(st, cat)

	result, err := eng.Reconcile(context.Background(),
		[]crate.Track{localTrack("/m/glue.mp3", "Glue", "Bicep", 269)},
		[]string{"glue-1"})
	require.NoError(t, err)

	assert.Equal(t, 0, cat.calls, "cached mapping must not trigger a search")
	assert.Equal(t, 1, result.CacheHits)
	assert.True(t, result.Plan.Empty())
}

func TestReconcileIdempotent(t *testing.T) {
	st := newFakeStore()
	cat := &fakeCatalog{results: map[string][]remote.Track{
		"Glue":        {remoteTrack("glue-1", "Glue", "Bicep", 269)},
		"A New Error": {remoteTrack("err-1", "A New Error", "Moderat", 354)},
	}}
	eng := newEngine(st, cat)

	locals := []crate.Track{
		localTrack("/m/glue.mp3", "Glue", "Bicep", 269),
		localTrack("/m/error.mp3", "A New Error", "Moderat", 354),
	}

	first, err := eng.Reconcile(context.Background(), locals, nil)
	require.NoError(t, err)
	require.False(t, first.Plan.Empty())

	// Pretend the plan was applied: the playlist now holds the desired order.
	second, err := eng.Reconcile(context.Background(), locals, first.Desired)
	require.NoError(t, err)
	assert.True(t, second.Plan.Empty(), "second run with no changes must produce an empty plan, got %v", second.Plan.Ops)
}

func TestReconcileSearchFailureIsNonFatal(t *testing.T) {
	st := newFakeStore()
	cat := &fakeCatalog{
		results: map[string][]remote.Track{
			"Glue": {remoteTrack("glue-1", "Glue", "Bicep", 269)},
		},
		errs: map[string]error{"A New Error": errors.New("remote timeout")},
	}
	eng := newEngine(st, cat)

	result, err := eng.Reconcile(context.Background(), []crate.Track{
		localTrack("/m/error.mp3", "A New Error", "Moderat", 354),
		localTrack("/m/glue.mp3", "Glue", "Bicep", 269),
	}, nil)
	require.NoError(t, err, "a single search failure must not abort the run")

	assert.Equal(t, []string{"glue-1"}, result.Desired)
	require.Len(t, result.Unmatched, 1)
	assert.Equal(t, "/m/error.mp3", result.Unmatched[0].Path)
	assert.Contains(t, result.Unmatched[0].Reason, "search failed")
}

func TestReconcileBelowThresholdReported(t *testing.T) {
	st := newFakeStore()
	cat := &fakeCatalog{results: map[string][]remote.Track{
		"Glue": {remoteTrack("x", "Something Else Entirely", "Another Band", 100)},
	}}
	eng := newEngine(st, cat)

	result, err := eng.Reconcile(context.Background(),
		[]crate.Track{localTrack("/m/glue.mp3", "Glue", "Bicep", 269)}, nil)
	require.NoError(t, err)

	assert.Empty(t, result.Desired)
	require.Len(t, result.Unmatched, 1)
	assert.Contains(t, result.Unmatched[0].Reason, "threshold")
	assert.Empty(t, st.mappings, "a rejected match must not populate the store")
}

func TestReconcileStoreFailureIsFatal(t *testing.T) {
	st := newFakeStore()
	st.getErr = errors.New("disk full")
	eng := newEngine(st, &fakeCatalog{})

	_, err := eng.Reconcile(context.Background(),
		[]crate.Track{localTrack("/m/glue.mp3", "Glue", "Bicep", 269)}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapping store")
}

func TestReconcileUpsertFailureIsFatal(t *testing.T) {
	st := newFakeStore()
	st.upsertErr = errors.New("readonly database")
	cat := &fakeCatalog{results: map[string][]remote.Track{
		"Glue": {remoteTrack("glue-1", "Glue", "Bicep", 269)},
	}}
	eng := newEngine(st, cat)

	_, err := eng.Reconcile(context.Background(),
		[]crate.Track{localTrack("/m/glue.mp3", "Glue", "Bicep", 269)}, nil)
	require.Error(t, err)
}

func TestReconcileDuplicateRemoteID(t *testing.T) {
	st := newFakeStore()
	st.mappings["/m/a.mp3"] = store.Mapping{LocalPath: "/m/a.mp3", RemoteID: "same"}
	st.mappings["/m/b.mp3"] = store.Mapping{LocalPath: "/m/b.mp3", RemoteID: "same"}
	eng := newEngine(st, &fakeCatalog{})

	result, err := eng.Reconcile(context.Background(), []crate.Track{
		localTrack("/m/a.mp3", "Same", "Artist", 100),
		localTrack("/m/b.mp3", "Same", "Artist", 100),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"same"}, result.Desired)
	assert.Equal(t, []string{"/m/b.mp3"}, result.Duplicates)
}

func TestReconcileCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := newEngine(newFakeStore(), &fakeCatalog{})
	_, err := eng.Reconcile(ctx, []crate.Track{localTrack("/m/a.mp3", "A", "B", 1)}, nil)
	require.Error(t, err)
}
