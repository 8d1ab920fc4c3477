package integration

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"immichhub/internal/config"
	"immichhub/internal/entity"
	"immichhub/internal/immich"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeScheduler records scheduled functions so tests can fire them
type fakeScheduler struct {
	mu      sync.Mutex
	nextID  int
	specs   map[int]string
	funcs   map[int]func()
	removed []int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		specs: make(map[int]string),
		funcs: make(map[int]func()),
	}
}

func (s *fakeScheduler) AddFunc(spec string, cmd func()) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.specs[s.nextID] = spec
	s.funcs[s.nextID] = cmd
	return s.nextID, nil
}

func (s *fakeScheduler) RemoveFunc(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.funcs, id)
	s.removed = append(s.removed, id)
}

// fire runs every scheduled function once
func (s *fakeScheduler) fire() {
	s.mu.Lock()
	funcs := make([]func(), 0, len(s.funcs))
	for _, f := range s.funcs {
		funcs = append(funcs, f)
	}
	s.mu.Unlock()

	for _, f := range funcs {
		f()
	}
}

func (s *fakeScheduler) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.funcs)
}

func testJobs() immich.Jobs {
	return immich.Jobs{
		"thumbnailGeneration": {Name: "thumbnailGeneration", QueueActive: true, ActiveCount: 1, WaitingCount: 10},
		"faceDetection":       {Name: "faceDetection", QueueActive: false},
		"library":             {Name: "library", QueuePaused: true},
	}
}

func mockFactory(hub *immich.MockHub) HubFactory {
	return func(creds immich.Credentials, timeout time.Duration) immich.JobSource {
		return hub
	}
}

func testEntry() Entry {
	return Entry{
		ID:     "https://photos.example.com",
		Host:   "https://photos.example.com",
		APIKey: "key",
		Options: Options{
			ScanInterval: 30 * time.Second,
		},
	}
}

func testDeps(hub *immich.MockHub, scheduler Scheduler) Deps {
	logger := zap.NewNop()
	return Deps{
		HubFactory: mockFactory(hub),
		Registry:   entity.NewDefaultRegistry(logger),
		Scheduler:  scheduler,
		Logger:     logger,
	}
}

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "bare host gets https", raw: "Photos.Example.com", want: "https://photos.example.com"},
		{name: "trailing slash", raw: "http://immich.local:2283/", want: "http://immich.local:2283"},
		{name: "default port dropped", raw: "http://immich.local:80", want: "http://immich.local"},
		{name: "duplicate slashes", raw: "https://immich.local//immich//", want: "https://immich.local/immich"},
		{name: "surrounding space", raw: "  https://immich.local  ", want: "https://immich.local"},
		{name: "empty", raw: "", wantErr: true},
		{name: "unsupported scheme", raw: "ftp://immich.local", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeHost(tt.raw)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidHost))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateInput(t *testing.T) {
	ctx := context.Background()

	t.Run("success builds title", func(t *testing.T) {
		hub := immich.NewMockHub()
		hub.SetUser(immich.UserInfo{Name: "Alice"})

		result, err := ValidateInput(ctx, mockFactory(hub), "photos.example.com:2283", "key")
		require.NoError(t, err)
		assert.Equal(t, "Alice @ photos.example.com", result.Title)
		assert.Equal(t, "https://photos.example.com:2283", result.Host)
		assert.Equal(t, "key", result.APIKey)
	})

	t.Run("rejected key", func(t *testing.T) {
		hub := immich.NewMockHub()
		hub.SetAuth(false, nil)

		_, err := ValidateInput(ctx, mockFactory(hub), "photos.example.com", "key")
		assert.True(t, errors.Is(err, ErrInvalidAuth))
		assert.Equal(t, FlowErrorInvalidAuth, FlowErrorCode(err))
	})

	t.Run("unreachable server", func(t *testing.T) {
		hub := immich.NewMockHub()
		hub.SetAuth(false, immich.ErrCannotConnect)

		_, err := ValidateInput(ctx, mockFactory(hub), "photos.example.com", "key")
		assert.True(t, errors.Is(err, immich.ErrCannotConnect))
		assert.Equal(t, FlowErrorCannotConnect, FlowErrorCode(err))
	})

	t.Run("bad host", func(t *testing.T) {
		_, err := ValidateInput(ctx, mockFactory(immich.NewMockHub()), "", "key")
		assert.Equal(t, FlowErrorUnknown, FlowErrorCode(err))
	})
}

func TestEntryFromConfig(t *testing.T) {
	entry, err := EntryFromConfig(&config.Config{
		Host:         "Photos.Example.com/",
		APIKey:       "key",
		ScanInterval: time.Minute,
		Timeout:      5 * time.Second,
		Platforms:    []string{"sensor", "switch"},
		IncludeJobs:  []string{"*"},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://photos.example.com", entry.Host)
	assert.Equal(t, entry.Host, entry.ID)
	assert.Equal(t, time.Minute, entry.Options.ScanInterval)
	assert.Equal(t, []entity.Platform{entity.PlatformSensor, entity.PlatformSwitch}, entry.Options.Platforms)
}

func TestSetup(t *testing.T) {
	ctx := context.Background()

	t.Run("builds entities and schedules polling", func(t *testing.T) {
		hub := immich.NewMockHub()
		hub.SetJobs(testJobs())
		scheduler := newFakeScheduler()

		rt, err := Setup(ctx, testEntry(), testDeps(hub, scheduler))
		require.NoError(t, err)
		defer rt.Unload()

		assert.Len(t, rt.Entities, 9)
		assert.Equal(t, 1, hub.RefreshCount())
		assert.Equal(t, "@every 30s", scheduler.specs[1])
		assert.Equal(t, []string{ServicePauseJob, ServiceRefresh, ServiceStartJob}, rt.Services.Names())

		e, ok := rt.Entity("status_thumbnailGeneration")
		require.True(t, ok)
		assert.Equal(t, "on", e.RenderState().State)
	})

	t.Run("filters jobs and platforms", func(t *testing.T) {
		hub := immich.NewMockHub()
		hub.SetJobs(testJobs())
		entry := testEntry()
		entry.Options.IncludeJobs = []string{"thumbnail*", "library"}
		entry.Options.Platforms = []entity.Platform{entity.PlatformSwitch}

		rt, err := Setup(ctx, entry, testDeps(hub, newFakeScheduler()))
		require.NoError(t, err)
		defer rt.Unload()

		require.Len(t, rt.Entities, 2)
		assert.Equal(t, "switch_library", rt.Entities[0].UniqueID())
		assert.Equal(t, "switch_thumbnailGeneration", rt.Entities[1].UniqueID())
	})

	t.Run("invalid auth", func(t *testing.T) {
		hub := immich.NewMockHub()
		hub.SetAuth(false, nil)

		_, err := Setup(ctx, testEntry(), testDeps(hub, newFakeScheduler()))
		assert.True(t, errors.Is(err, ErrInvalidAuth))
		assert.Equal(t, 0, hub.RefreshCount())
	})

	t.Run("job listing fails", func(t *testing.T) {
		hub := immich.NewMockHub()
		hub.SetRefreshError(&immich.APIError{Op: "refresh jobs", StatusCode: 500})
		scheduler := newFakeScheduler()

		_, err := Setup(ctx, testEntry(), testDeps(hub, scheduler))
		assert.True(t, errors.Is(err, immich.ErrAPI))
		assert.Equal(t, 0, scheduler.active())
	})
}

func TestCoordinator_ScheduledRefresh(t *testing.T) {
	ctx := context.Background()
	hub := immich.NewMockHub()
	hub.SetJobs(testJobs())
	scheduler := newFakeScheduler()

	rt, err := Setup(ctx, testEntry(), testDeps(hub, scheduler))
	require.NoError(t, err)
	defer rt.Unload()

	var snaps []Snapshot
	rt.Coordinator.AddListener(func(s Snapshot) { snaps = append(snaps, s) })

	jobs := testJobs()
	thumbs := jobs["thumbnailGeneration"]
	thumbs.ActiveCount = 0
	jobs["thumbnailGeneration"] = thumbs
	hub.SetJobs(jobs)

	scheduler.fire()
	assert.Equal(t, 2, hub.RefreshCount())

	e, ok := rt.Entity("status_thumbnailGeneration")
	require.True(t, ok)
	assert.Equal(t, "off", e.RenderState().State)

	require.Len(t, snaps, 1)
	assert.NoError(t, snaps[0].Err)
	assert.Len(t, snaps[0].States, 9)
	assert.Equal(t, 0, snaps[0].Jobs["thumbnailGeneration"].ActiveCount)

	// A failing tick reports the error and keeps entity state
	hub.SetRefreshError(immich.ErrCannotConnect)
	scheduler.fire()
	assert.Equal(t, 3, hub.RefreshCount())
	require.Len(t, snaps, 2)
	assert.True(t, errors.Is(snaps[1].Err, immich.ErrCannotConnect))
	assert.Equal(t, "off", e.RenderState().State)
}

func TestCoordinator_OneFetchPerTick(t *testing.T) {
	var fetches atomic.Int32
	var empty atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		if empty.Load() {
			io.WriteString(w, `{}`)
			return
		}
		io.WriteString(w, `{
			"thumbnailGeneration": {"jobCounts": {"active": 1}, "queueStatus": {"isActive": true}},
			"faceDetection": {"jobCounts": {}, "queueStatus": {}},
			"library": {"jobCounts": {}, "queueStatus": {"isPaused": true}}
		}`)
	}))
	defer server.Close()

	ctx := context.Background()
	logger := zap.NewNop()
	hub := immich.NewHub(immich.Credentials{BaseURL: server.URL, APIKey: "key"}, logger)

	jobs, err := hub.GetJobs(ctx, false)
	require.NoError(t, err)
	entities, err := entity.NewDefaultRegistry(logger).BuildAll(hub, jobs, nil)
	require.NoError(t, err)
	require.Len(t, entities, 9)

	c := NewCoordinator(hub, entities, newFakeScheduler(), 0, logger)

	var snaps []Snapshot
	c.AddListener(func(s Snapshot) { snaps = append(snaps, s) })

	fetches.Store(0)
	require.NoError(t, c.RefreshNow(ctx))
	assert.Equal(t, int32(1), fetches.Load())
	assert.Len(t, snaps[0].Jobs, 3)

	t.Log("Server now reports no jobs")
	empty.Store(true)
	fetches.Store(0)
	require.NoError(t, c.RefreshNow(ctx))
	assert.Equal(t, int32(1), fetches.Load())
	assert.NotNil(t, snaps[1].Jobs)
	assert.Empty(t, snaps[1].Jobs)
	assert.Len(t, snaps[1].States, 9)

	// Entities keep their last known state
	for _, st := range snaps[1].States {
		if st.UniqueID == "status_thumbnailGeneration" {
			assert.Equal(t, "on", st.State)
		}
	}
}

func TestCoordinator_StartStop(t *testing.T) {
	hub := immich.NewMockHub()
	scheduler := newFakeScheduler()
	c := NewCoordinator(hub, nil, scheduler, 0, zap.NewNop())

	assert.Equal(t, DefaultScanInterval, c.Interval())
	assert.True(t, errors.Is(c.Stop(), ErrNotRunning))

	require.NoError(t, c.Start())
	assert.Error(t, c.Start())
	assert.Equal(t, 1, scheduler.active())

	require.NoError(t, c.Stop())
	assert.Equal(t, 0, scheduler.active())

	// A tick that was already dispatched is dropped after Stop
	c.tick()
	assert.Equal(t, 0, hub.RefreshCount())
}

func TestServices(t *testing.T) {
	ctx := context.Background()
	hub := immich.NewMockHub()
	hub.SetJobs(testJobs())

	rt, err := Setup(ctx, testEntry(), testDeps(hub, newFakeScheduler()))
	require.NoError(t, err)
	defer rt.Unload()

	t.Run("pause and start", func(t *testing.T) {
		require.NoError(t, rt.Services.Call(ctx, ServicePauseJob, map[string]interface{}{"job_id": "library", "force": true}))
		require.NoError(t, rt.Services.Call(ctx, ServiceStartJob, map[string]interface{}{"job_id": "library"}))

		assert.Equal(t, []immich.CommandCall{
			{JobID: "library", Command: immich.CommandPause, Force: true},
			{JobID: "library", Command: immich.CommandStart, Force: false},
		}, hub.Commands())
	})

	t.Run("missing job id", func(t *testing.T) {
		err := rt.Services.Call(ctx, ServicePauseJob, map[string]interface{}{})
		assert.True(t, errors.Is(err, ErrMissingJobID))
	})

	t.Run("rejected command", func(t *testing.T) {
		hub.SetCommandResult(false, nil)
		defer hub.SetCommandResult(true, nil)

		err := rt.Services.Call(ctx, ServiceStartJob, map[string]interface{}{"job_id": "library"})
		assert.True(t, errors.Is(err, ErrCommandRejected))
	})

	t.Run("refresh", func(t *testing.T) {
		before := hub.RefreshCount()
		require.NoError(t, rt.Services.Call(ctx, ServiceRefresh, nil))
		assert.Equal(t, before+1, hub.RefreshCount())
	})

	t.Run("unknown", func(t *testing.T) {
		err := rt.Services.Call(ctx, "reboot", nil)
		assert.True(t, errors.Is(err, ErrUnknownService))
	})
}

func TestRuntime_Unload(t *testing.T) {
	ctx := context.Background()
	hub := immich.NewMockHub()
	hub.SetJobs(testJobs())
	scheduler := newFakeScheduler()

	rt, err := Setup(ctx, testEntry(), testDeps(hub, scheduler))
	require.NoError(t, err)

	var order []string
	rt.OnUnload(func() error { order = append(order, "first"); return errors.New("first failed") })
	rt.OnUnload(func() error { order = append(order, "second"); return errors.New("second failed") })

	err = rt.Unload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first failed")
	assert.Contains(t, err.Error(), "second failed")
	assert.Equal(t, []string{"second", "first"}, order)
	assert.Equal(t, 0, scheduler.active())
	assert.Empty(t, rt.Services.Names())

	// Second unload is a no-op
	assert.NoError(t, rt.Unload())
}
