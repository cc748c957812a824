package buffer

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dashcam/internal/config"
	"github.com/banshee-data/dashcam/internal/fsutil"
	"github.com/banshee-data/dashcam/internal/incident"
	"github.com/banshee-data/dashcam/internal/timeutil"
)

const (
	bufferDir   = "/data/buffer"
	incidentDir = "/data/incidents"
)

type fixture struct {
	fs    *fsutil.MemoryFileSystem
	clock *timeutil.MockClock
	m     *Manager
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		fs:    fsutil.NewMemoryFileSystem(),
		clock: timeutil.NewMockClockMs(1_000_000),
	}
	f.m = NewManager(f.fs, f.clock, NewConfigStore(cfg), Options{BufferDir: bufferDir, IncidentDir: incidentDir})
	require.NoError(t, f.m.Initialize())
	return f
}

// record captures one full segment of size bytes and returns it finalized.
func (f *fixture) record(t *testing.T, size int) Segment {
	t.Helper()
	seg, err := f.m.StartRecording()
	require.NoError(t, err)
	require.NoError(t, f.fs.WriteFile(seg.Path, make([]byte, size), 0o644))
	f.clock.Advance(30 * time.Second)
	f.m.StopRecording()
	got, ok := f.m.CurrentSegment()
	require.True(t, ok)
	require.Equal(t, seg.ID, got.ID)
	return got
}

func ids(segs []Segment) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.ID
	}
	return out
}

func TestManager_EmptyStats(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	st := f.m.Stats()
	assert.Equal(t, 0, st.TotalSegments)
	assert.Equal(t, 0, st.IncidentSegments)
	assert.Equal(t, int64(0), st.TotalSize)
	assert.Nil(t, st.OldestSegmentStart)
	assert.Nil(t, st.NewestSegmentStart)
	assert.Empty(t, f.m.Segments())
	assert.Empty(t, f.m.IncidentSegments())
}

func TestManager_InitializeCreatesBufferDir(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	assert.True(t, f.fs.Exists(bufferDir))

	fsys := fsutil.NewMemoryFileSystem()
	fsys.FailOn(fsutil.OpMkdir, bufferDir, errors.New("read-only"))
	m := NewManager(fsys, f.clock, nil, Options{BufferDir: bufferDir, IncidentDir: incidentDir})
	assert.Error(t, m.Initialize())
}

func TestManager_StartStopIdempotent(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	f.m.StopRecording()
	assert.False(t, f.m.IsRecording())
	assert.Empty(t, f.m.Segments())

	first, err := f.m.StartRecording()
	require.NoError(t, err)
	again, err := f.m.StartRecording()
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, f.m.IsRecording())
	assert.Equal(t, first.StartTimeMs+DefaultConfig().SegmentDurationMs, first.EndTimeMs)
	assert.Equal(t, filepath.Join(bufferDir, first.ID+DefaultExtension), first.Path)

	f.m.StopRecording()
	f.m.StopRecording()
	assert.False(t, f.m.IsRecording())
	assert.Len(t, f.m.Segments(), 1)
}

func TestManager_MissingFileHasZeroSize(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.m.StartRecording()
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)
	f.m.StopRecording()

	segs := f.m.Segments()
	require.Len(t, segs, 1)
	assert.Equal(t, int64(0), segs[0].SizeBytes)
	assert.Equal(t, int64(1_010_000), segs[0].EndTimeMs)
	assert.Equal(t, 1, f.m.Stats().TotalSegments)
}

func TestManager_SizeEvictionKeepsProtected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDurationMs = int64(time.Hour / time.Millisecond)
	cfg.MaxSizeBytes = 500
	f := newFixture(t, cfg)

	var all []Segment
	for i := 0; i < 10; i++ {
		seg := f.record(t, 100)
		if i == 2 {
			_, ok := f.m.MarkAsIncident("inc-3", nil)
			require.True(t, ok)
		}
		all = append(all, seg)
	}

	want := []string{all[2].ID, all[6].ID, all[7].ID, all[8].ID, all[9].ID}
	assert.Equal(t, want, ids(f.m.Segments()))

	st := f.m.Stats()
	assert.Equal(t, 5, st.TotalSegments)
	assert.Equal(t, 1, st.IncidentSegments)
	assert.Equal(t, int64(500), st.TotalSize)
	require.NotNil(t, st.OldestSegmentStart)
	require.NotNil(t, st.NewestSegmentStart)
	assert.Equal(t, all[2].StartTimeMs, *st.OldestSegmentStart)
	assert.Equal(t, all[9].StartTimeMs, *st.NewestSegmentStart)

	assert.Len(t, f.fs.Files(bufferDir), 5)
	assert.False(t, f.fs.Exists(all[0].Path))
	assert.True(t, f.fs.Exists(all[2].Path))
}

func TestManager_ProtectedSegmentsMayExceedBudget(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	for i := 0; i < 3; i++ {
		f.record(t, 100)
		_, ok := f.m.MarkAsIncident("inc", nil)
		require.True(t, ok)
	}
	f.m.Config().Update(config.BufferSettings{MaxSizeBytes: config.Int64(150)})

	report := f.m.Evict()
	assert.Equal(t, EvictionReport{}, report)
	assert.Equal(t, int64(300), f.m.Stats().TotalSize)
	assert.Equal(t, 3, f.m.Stats().IncidentSegments)
}

func TestManager_AgeEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDurationMs = 60_000
	f := newFixture(t, cfg)

	old := f.record(t, 10)
	f.clock.Advance(60 * time.Second)
	assert.Equal(t, 0, f.m.Evict().AgeEvicted, "exactly max age is kept")

	f.clock.Advance(time.Millisecond)
	report := f.m.Evict()
	assert.Equal(t, 1, report.AgeEvicted)
	assert.Equal(t, int64(10), report.FreedBytes)
	assert.Empty(t, f.m.Segments())
	assert.False(t, f.fs.Exists(old.Path))

	_, ok := f.m.CurrentSegment()
	assert.False(t, ok, "evicted segment is no longer current")
	_, ok = f.m.MarkAsIncident("late", nil)
	assert.False(t, ok)
}

func TestManager_AgeEvictionSkipsProtected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDurationMs = 60_000
	f := newFixture(t, cfg)

	kept := f.record(t, 10)
	_, ok := f.m.MarkAsIncident("inc-1", nil)
	require.True(t, ok)
	gone := f.record(t, 10)

	f.clock.Advance(5 * time.Minute)
	report := f.m.Evict()
	assert.Equal(t, 1, report.AgeEvicted)
	assert.Equal(t, []string{kept.ID}, ids(f.m.Segments()))
	assert.False(t, f.fs.Exists(gone.Path))
}

func TestManager_ConfigUpdateAppliesOnNextEviction(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.record(t, 100)
	f.record(t, 100)
	require.Len(t, f.m.Segments(), 2)

	f.m.Config().Update(config.BufferSettings{MaxSizeBytes: config.Int64(150)})
	assert.Len(t, f.m.Segments(), 2)

	report := f.m.Evict()
	assert.Equal(t, 1, report.SizeEvicted)
	assert.Len(t, f.m.Segments(), 1)
}

func TestManager_RemoveFailureStillDropsSegment(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	first := f.record(t, 100)
	f.record(t, 100)
	f.fs.FailOn(fsutil.OpRemove, first.Path, errors.New("device busy"))

	f.m.Config().Update(config.BufferSettings{MaxSizeBytes: config.Int64(150)})
	report := f.m.Evict()
	assert.Equal(t, 1, report.SizeEvicted)
	assert.Equal(t, 1, report.RemoveFailures)
	assert.Len(t, f.m.Segments(), 1)
	assert.True(t, f.fs.Exists(first.Path))
}

func TestManager_Rollover(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	_, ok, err := f.m.Rollover()
	require.NoError(t, err)
	assert.False(t, ok)

	seg, err := f.m.StartRecording()
	require.NoError(t, err)
	require.NoError(t, f.fs.WriteFile(seg.Path, make([]byte, 42), 0o644))

	// The overlap setting does not shorten segments.
	f.clock.Advance(25 * time.Second)
	assert.False(t, f.m.RolloverDue(timeutil.NowMs(f.clock)))
	f.clock.Advance(5*time.Second - time.Millisecond)
	assert.False(t, f.m.RolloverDue(timeutil.NowMs(f.clock)))
	f.clock.Advance(time.Millisecond)
	assert.True(t, f.m.RolloverDue(timeutil.NowMs(f.clock)))

	done, ok, err := f.m.Rollover()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, seg.ID, done.ID)
	assert.Equal(t, int64(42), done.SizeBytes)
	assert.Equal(t, timeutil.NowMs(f.clock), done.EndTimeMs)
	assert.Equal(t, DefaultConfig().SegmentDurationMs, done.EndTimeMs-done.StartTimeMs)

	cur, ok := f.m.CurrentSegment()
	require.True(t, ok)
	assert.NotEqual(t, seg.ID, cur.ID)
	assert.Equal(t, timeutil.NowMs(f.clock), cur.StartTimeMs)
	assert.True(t, f.m.IsRecording())
	assert.Len(t, f.m.Segments(), 1)
	assert.False(t, f.m.RolloverDue(timeutil.NowMs(f.clock)))
}

func TestManager_GetByID(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	active, err := f.m.StartRecording()
	require.NoError(t, err)

	got, ok := f.m.GetByID(active.ID)
	require.True(t, ok)
	assert.Equal(t, active.ID, got.ID)

	f.m.StopRecording()
	got, ok = f.m.GetByID(active.ID)
	require.True(t, ok)
	assert.Equal(t, int64(0), got.SizeBytes)

	_, ok = f.m.GetByID("missing")
	assert.False(t, ok)
}

func TestManager_MarkAsIncident(t *testing.T) {
	t.Run("no segment", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		_, ok := f.m.MarkAsIncident("inc-1", nil)
		assert.False(t, ok)
		assert.False(t, f.fs.Exists(incidentDir))
	})

	t.Run("copies media and writes sidecar", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		seg, err := f.m.StartRecording()
		require.NoError(t, err)
		require.NoError(t, f.fs.WriteFile(seg.Path, []byte("frames"), 0o644))

		loc := &incident.Location{Latitude: 51.5, Longitude: -0.12}
		marked, ok := f.m.MarkAsIncident("inc-1", loc)
		require.True(t, ok)
		assert.True(t, marked.IsProtected)
		assert.Equal(t, "inc-1", marked.ProtectingIncidentID)
		assert.Equal(t, loc, marked.Location)

		data, err := f.fs.ReadFile(filepath.Join(incidentDir, "inc-1"+DefaultExtension))
		require.NoError(t, err)
		assert.Equal(t, "frames", string(data))

		side, err := f.m.ReadSidecar("inc-1")
		require.NoError(t, err)
		assert.True(t, side.Copied)
		assert.Equal(t, seg.ID, side.Segment.ID)
		assert.Equal(t, loc, side.Location)

		again, ok := f.m.MarkAsIncident("inc-2", nil)
		require.True(t, ok)
		assert.Equal(t, "inc-1", again.ProtectingIncidentID)
		assert.True(t, f.fs.Exists(filepath.Join(incidentDir, "inc-2"+DefaultExtension)))

		f.m.StopRecording()
		assert.Len(t, f.m.IncidentSegments(), 1)
	})

	t.Run("no media yet", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		_, err := f.m.StartRecording()
		require.NoError(t, err)

		_, ok := f.m.MarkAsIncident("inc-1", nil)
		require.True(t, ok)
		side, err := f.m.ReadSidecar("inc-1")
		require.NoError(t, err)
		assert.False(t, side.Copied)
		assert.Empty(t, side.MediaPath)
		assert.False(t, f.fs.Exists(filepath.Join(incidentDir, "inc-1"+DefaultExtension)))
	})

	t.Run("copy failure keeps protection", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		seg, err := f.m.StartRecording()
		require.NoError(t, err)
		require.NoError(t, f.fs.WriteFile(seg.Path, []byte("frames"), 0o644))
		f.fs.FailOn(fsutil.OpCopy, filepath.Join(incidentDir, "inc-1"+DefaultExtension), errors.New("disk full"))

		marked, ok := f.m.MarkAsIncident("inc-1", nil)
		require.True(t, ok)
		assert.True(t, marked.IsProtected)

		side, err := f.m.ReadSidecar("inc-1")
		require.NoError(t, err)
		assert.False(t, side.Copied)
	})

	t.Run("unsafe incident id is protected but not copied", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		seg, err := f.m.StartRecording()
		require.NoError(t, err)
		require.NoError(t, f.fs.WriteFile(seg.Path, []byte("frames"), 0o644))

		marked, ok := f.m.MarkAsIncident("../../etc/passwd", nil)
		require.True(t, ok)
		assert.True(t, marked.IsProtected)
		assert.Empty(t, f.fs.Files(incidentDir))
		for _, p := range f.fs.Files("/data") {
			assert.Equal(t, bufferDir, filepath.Dir(p))
		}
	})

	t.Run("ids that sanitize alike do not overwrite each other", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		seg, err := f.m.StartRecording()
		require.NoError(t, err)
		require.NoError(t, f.fs.WriteFile(seg.Path, []byte("frames"), 0o644))

		_, ok := f.m.MarkAsIncident("a/b", nil)
		require.True(t, ok)
		_, ok = f.m.MarkAsIncident("a:b", nil)
		require.True(t, ok)
		assert.Empty(t, f.fs.Files(incidentDir))
		_, err = f.m.ReadSidecar("a/b")
		assert.Error(t, err)
	})
}

func TestManager_Cleanup(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.record(t, 10)
	_, ok := f.m.MarkAsIncident("inc-1", nil)
	require.True(t, ok)
	seg, err := f.m.StartRecording()
	require.NoError(t, err)
	require.NoError(t, f.fs.WriteFile(seg.Path, []byte("x"), 0o644))

	f.m.Cleanup()

	assert.False(t, f.m.IsRecording())
	assert.Empty(t, f.m.Segments())
	assert.Empty(t, f.fs.Files(bufferDir))
	assert.True(t, f.fs.Exists(filepath.Join(incidentDir, "inc-1"+DefaultExtension)))
	_, ok = f.m.CurrentSegment()
	assert.False(t, ok)
}

func TestConfigStore_Update(t *testing.T) {
	store := NewConfigStore(DefaultConfig())
	got, err := store.Update(config.BufferSettings{
		SegmentDurationMs: config.Int64(10_000),
		OverlapDurationMs: config.Int64(1_000),
	})
	require.NoError(t, err)
	want := DefaultConfig()
	want.SegmentDurationMs = 10_000
	want.OverlapDurationMs = 1_000
	assert.Equal(t, want, got)
	assert.Equal(t, want, store.Get())

	got, err = store.Update(config.BufferSettings{})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestConfigStore_UpdateRejectsInvalidMerge(t *testing.T) {
	store := NewConfigStore(DefaultConfig())
	want := store.Get()

	// Each patch is valid alone but invalid once merged.
	for _, settings := range []config.BufferSettings{
		{OverlapDurationMs: config.Int64(want.SegmentDurationMs)},
		{SegmentDurationMs: config.Int64(want.OverlapDurationMs)},
	} {
		got, err := store.Update(settings)
		assert.Error(t, err)
		assert.Equal(t, want, got)
	}
	_, err := store.Update(config.BufferSettings{MaxSizeBytes: config.Int64(0)})
	assert.Error(t, err)
	assert.Equal(t, want, store.Get())
}

func TestConfigStore_ConcurrentUpdatesKeepOverlapValid(t *testing.T) {
	store := NewConfigStore(DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.Update(config.BufferSettings{SegmentDurationMs: config.Int64(5_000)})
			store.Update(config.BufferSettings{SegmentDurationMs: config.Int64(30_000)})
		}()
		go func() {
			defer wg.Done()
			store.Update(config.BufferSettings{OverlapDurationMs: config.Int64(10_000)})
			store.Update(config.BufferSettings{OverlapDurationMs: config.Int64(1_000)})
		}()
	}
	wg.Wait()
	cfg := store.Get()
	assert.Less(t, cfg.OverlapDurationMs, cfg.SegmentDurationMs)
}

func localHostRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestManager_AdminRoutes(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.record(t, 64)

	mux := http.NewServeMux()
	f.m.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/buffer"))
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Recording bool      `json:"recording"`
		Stats     Stats     `json:"stats"`
		Segments  []Segment `json:"segments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.False(t, page.Recording)
	assert.Equal(t, int64(64), page.Stats.TotalSize)
	assert.Len(t, page.Segments, 1)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/buffer-evict"))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodPost, "/debug/buffer-evict"))
	require.Equal(t, http.StatusOK, rec.Code)
	var report EvictionReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, EvictionReport{}, report)
}

func TestManager_IncidentMedia(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	sides, usage, err := f.m.IncidentMedia()
	require.NoError(t, err)
	assert.Empty(t, sides)
	assert.Equal(t, IncidentUsage{}, usage)

	seg, err := f.m.StartRecording()
	require.NoError(t, err)
	require.NoError(t, f.fs.WriteFile(seg.Path, []byte("frames"), 0o644))
	_, ok := f.m.MarkAsIncident("inc-1", nil)
	require.True(t, ok)
	f.clock.Advance(time.Second)
	_, ok = f.m.MarkAsIncident("inc-2", &incident.Location{Latitude: 1, Longitude: 2})
	require.True(t, ok)
	require.NoError(t, f.fs.WriteFile(filepath.Join(incidentDir, "broken.json"), []byte("{"), 0o644))

	sides, usage, err = f.m.IncidentMedia()
	require.NoError(t, err)
	require.Len(t, sides, 2)
	assert.Equal(t, "inc-2", sides[0].IncidentID, "newest mark first")
	assert.Equal(t, "inc-1", sides[1].IncidentID)
	assert.Equal(t, 2, usage.Incidents)
	assert.Equal(t, 2, usage.MediaFiles)

	var want int64
	for _, p := range f.fs.Files(incidentDir) {
		info, err := f.fs.Stat(p)
		require.NoError(t, err)
		want += info.Size()
	}
	assert.Equal(t, want, usage.TotalBytes)
}

func TestManager_DeleteIncidentMedia(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSizeBytes = 10
	f := newFixture(t, cfg)

	seg, err := f.m.StartRecording()
	require.NoError(t, err)
	require.NoError(t, f.fs.WriteFile(seg.Path, make([]byte, 20), 0o644))
	_, ok := f.m.MarkAsIncident("inc-1", nil)
	require.True(t, ok)
	f.clock.Advance(30 * time.Second)
	f.m.StopRecording()
	require.Len(t, f.m.IncidentSegments(), 1, "protected segment survives the size budget")

	require.NoError(t, f.m.DeleteIncidentMedia("inc-1"))
	assert.False(t, f.fs.Exists(filepath.Join(incidentDir, "inc-1"+DefaultExtension)))
	assert.False(t, f.fs.Exists(filepath.Join(incidentDir, "inc-1.json")))
	assert.Empty(t, f.m.IncidentSegments())

	f.m.Evict()
	assert.Empty(t, f.m.Segments(), "released segment is evicted")

	assert.ErrorIs(t, f.m.DeleteIncidentMedia("inc-1"), ErrIncidentNotFound)
	assert.Error(t, f.m.DeleteIncidentMedia("../inc-1"))
}

func TestManager_DeleteIncidentMediaRemoveFailure(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	seg, err := f.m.StartRecording()
	require.NoError(t, err)
	require.NoError(t, f.fs.WriteFile(seg.Path, []byte("frames"), 0o644))
	_, ok := f.m.MarkAsIncident("inc-1", nil)
	require.True(t, ok)

	boom := errors.New("read-only filesystem")
	f.fs.FailOn(fsutil.OpRemove, filepath.Join(incidentDir, "inc-1"+DefaultExtension), boom)
	assert.ErrorIs(t, f.m.DeleteIncidentMedia("inc-1"), boom)
	cur, _ := f.m.CurrentSegment()
	assert.True(t, cur.IsProtected)
}

func TestManager_ClearIncidentMedia(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	seg, err := f.m.StartRecording()
	require.NoError(t, err)
	require.NoError(t, f.fs.WriteFile(seg.Path, []byte("frames"), 0o644))
	for _, id := range []string{"inc-1", "inc-2", "inc-3"} {
		_, ok := f.m.MarkAsIncident(id, nil)
		require.True(t, ok)
	}

	n, err := f.m.ClearIncidentMedia()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, f.fs.Files(incidentDir))
	cur, _ := f.m.CurrentSegment()
	assert.False(t, cur.IsProtected)
}
