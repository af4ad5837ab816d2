package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cratemirror/internal/logger"
	"cratemirror/internal/remote"
	"cratemirror/internal/store"
)

type fakeStore struct {
	mappings  []store.Mapping
	upserts   []store.Mapping
	staled    []string
	scanErr   error
	upsertErr error
}

func (f *fakeStore) All(context.Context) ([]store.Mapping, error) {
	return f.mappings, f.scanErr
}

func (f *fakeStore) Upsert(_ context.Context, m store.Mapping) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, m)
	return nil
}

func (f *fakeStore) MarkStale(_ context.Context, localPath string) error {
	f.staled = append(f.staled, localPath)
	return nil
}

type fakeProbe struct {
	bitrates map[string]int // path -> kbps; absent key means the file is missing
}

func (f *fakeProbe) Exists(path string) bool {
	_, ok := f.bitrates[path]
	return ok
}

func (f *fakeProbe) Measure(path string) (int, bool) {
	kbps, ok := f.bitrates[path]
	if !ok || kbps == 0 {
		return 0, false
	}
	return kbps, true
}

type fakeDownloader struct {
	files      map[string]string // remoteID -> produced path
	errs       map[string]error
	configured []remote.Quality
	calls      int
}

func (f *fakeDownloader) ConfigureQuality(_ context.Context, q remote.Quality) error {
	f.configured = append(f.configured, q)
	return nil
}

func (f *fakeDownloader) Download(_ context.Context, remoteID string) (string, error) {
	f.calls++
	if err := f.errs[remoteID]; err != nil {
		return "", err
	}
	return f.files[remoteID], nil
}

func mapping(path, id string) store.Mapping {
	return store.Mapping{LocalPath: path, RemoteID: id}
}

func TestPlanBitrateFiltering(t *testing.T) {
	st := &fakeStore{mappings: []store.Mapping{
		mapping("/m/low.mp3", "low"),
		mapping("/m/high.flac", "high"),
		mapping("/m/gone.mp3", "gone"),
	}}
	pr := &fakeProbe{bitrates: map[string]int{
		"/m/low.mp3":   128,
		"/m/high.flac": 256,
		// /m/gone.mp3 missing
	}}
	p := NewPlanner(st, pr, logger.New(false))

	job, err := p.Plan(context.Background(), 192, remote.QualityLossless)
	require.NoError(t, err)

	ids := make([]string, len(job.Items))
	for i, item := range job.Items {
		ids[i] = item.RemoteID
	}
	assert.ElementsMatch(t, []string{"low", "gone"}, ids,
		"only the low-bitrate and missing tracks qualify")
}

func TestPlanWithoutThresholdOnlyMissing(t *testing.T) {
	st := &fakeStore{mappings: []store.Mapping{
		mapping("/m/low.mp3", "low"),
		mapping("/m/gone.mp3", "gone"),
	}}
	pr := &fakeProbe{bitrates: map[string]int{"/m/low.mp3": 128}}
	p := NewPlanner(st, pr, logger.New(false))

	job, err := p.Plan(context.Background(), 0, remote.QualityLossless)
	require.NoError(t, err)
	require.Len(t, job.Items, 1)
	assert.Equal(t, "gone", job.Items[0].RemoteID)
	assert.Equal(t, "file missing", job.Items[0].Reason)
}

func TestPlanDeduplicatesByRemoteID(t *testing.T) {
	// The same remote track referenced from two crates' directories.
	st := &fakeStore{mappings: []store.Mapping{
		mapping("/m/sets/a.mp3", "dup"),
		mapping("/m/crates/a.mp3", "dup"),
	}}
	pr := &fakeProbe{bitrates: map[string]int{}}
	p := NewPlanner(st, pr, logger.New(false))

	job, err := p.Plan(context.Background(), 0, remote.QualityLossless)
	require.NoError(t, err)
	assert.Len(t, job.Items, 1)
}

func TestPlanStoreFailureIsFatal(t *testing.T) {
	st := &fakeStore{scanErr: errors.New("db locked")}
	p := NewPlanner(st, &fakeProbe{}, logger.New(false))

	_, err := p.Plan(context.Background(), 0, remote.QualityLossless)
	require.Error(t, err)
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	st := &fakeStore{}
	dl := &fakeDownloader{}
	job := &Job{Quality: remote.QualityLossless, Items: []Item{
		{LocalPath: "/m/gone.mp3", RemoteID: "gone", Reason: "file missing"},
	}}

	r := &Runner{Store: st, Probe: &fakeProbe{}, Downloader: dl, Log: logger.New(false)}
	report, err := r.Run(context.Background(), job, true)
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, job.Items, report.Planned, "dry run still reports the full job")
	assert.Zero(t, dl.calls, "dry run must never invoke the downloader")
	assert.Empty(t, dl.configured)
	assert.Empty(t, st.upserts, "dry run must never mutate the store")
}

func TestRunRecoversAndRefreshesMapping(t *testing.T) {
	st := &fakeStore{}
	pr := &fakeProbe{bitrates: map[string]int{"/m/gone.flac": 1411}}
	moved := map[string]string{}
	dl := &fakeDownloader{files: map[string]string{"gone": "/dl/Track.flac"}}

	r := &Runner{
		Store: st, Probe: pr, Downloader: dl, Log: logger.New(false),
		MoveFile: func(src, dst string) error {
			moved[src] = dst
			pr.bitrates[dst] = 1411
			return nil
		},
	}

	job := &Job{Quality: remote.QualityLossless, Items: []Item{
		{LocalPath: "/m/gone.flac", RemoteID: "gone", Reason: "file missing"},
	}}
	report, err := r.Run(context.Background(), job, false)
	require.NoError(t, err)

	require.Len(t, report.Recovered, 1)
	assert.Empty(t, report.Failed)
	assert.Equal(t, "/m/gone.flac", report.Recovered[0].FinalPath)
	assert.Equal(t, "/m/gone.flac", moved["/dl/Track.flac"])

	require.Len(t, st.upserts, 1)
	assert.Equal(t, 1411, st.upserts[0].Bitrate, "mapping bitrate must refresh after recovery")
	assert.Equal(t, []remote.Quality{remote.QualityLossless}, dl.configured)
}

func TestRunExtensionChangeRewritesCrates(t *testing.T) {
	st := &fakeStore{}
	pr := &fakeProbe{bitrates: map[string]int{}}
	dl := &fakeDownloader{files: map[string]string{"gone": "/dl/Track.flac"}}

	var rewrites [][2]string
	r := &Runner{
		Store: st, Probe: pr, Downloader: dl, Log: logger.New(false),
		MoveFile: func(string, string) error { return nil },
		RewriteCrates: func(oldPath, newPath string) ([]string, error) {
			rewrites = append(rewrites, [2]string{oldPath, newPath})
			return []string{"Acid"}, nil
		},
	}

	job := &Job{Quality: remote.QualityHiResLossless, Items: []Item{
		{LocalPath: "/m/gone.mp3", RemoteID: "gone", Reason: "file missing"},
	}}
	report, err := r.Run(context.Background(), job, false)
	require.NoError(t, err)

	require.Len(t, report.Recovered, 1)
	assert.Equal(t, "/m/gone.flac", report.Recovered[0].FinalPath)
	require.Len(t, rewrites, 1)
	assert.Equal(t, [2]string{"/m/gone.mp3", "/m/gone.flac"}, rewrites[0])
	assert.Equal(t, []string{"/m/gone.mp3"}, st.staled, "old path mapping goes stale after the rename")

	require.Len(t, st.upserts, 1)
	assert.Equal(t, "/m/gone.flac", st.upserts[0].LocalPath)
}

func TestRunDownloadFailureIsPerTrack(t *testing.T) {
	st := &fakeStore{}
	pr := &fakeProbe{bitrates: map[string]int{}}
	dl := &fakeDownloader{
		files: map[string]string{"ok": "/dl/OK.flac"},
		errs:  map[string]error{"bad": errors.New("geo restricted")},
	}

	r := &Runner{
		Store: st, Probe: pr, Downloader: dl, Log: logger.New(false),
		MoveFile: func(string, string) error { return nil },
	}

	job := &Job{Quality: remote.QualityLossless, Items: []Item{
		{LocalPath: "/m/bad.flac", RemoteID: "bad"},
		{LocalPath: "/m/ok.flac", RemoteID: "ok"},
	}}
	report, err := r.Run(context.Background(), job, false)
	require.NoError(t, err, "one failed download must not abort the batch")

	require.Len(t, report.Failed, 1)
	assert.Equal(t, "bad", report.Failed[0].RemoteID)
	require.Len(t, report.Recovered, 1)
	assert.Equal(t, "ok", report.Recovered[0].RemoteID)

	require.Len(t, st.upserts, 1, "a failed download leaves its mapping untouched")
	assert.Equal(t, "/m/ok.flac", st.upserts[0].LocalPath)
}
