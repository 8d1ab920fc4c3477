package entity

import (
	"context"
	"errors"
	"testing"

	"immichhub/internal/immich"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func thumbs(active, failed, waiting int, paused bool) immich.JobStatus {
	return immich.JobStatus{
		Name:         "thumbnailGeneration",
		QueueActive:  true,
		QueuePaused:  paused,
		ActiveCount:  active,
		FailedCount:  failed,
		WaitingCount: waiting,
	}
}

func TestSensor_RenderState(t *testing.T) {
	sensor := NewSensor(immich.NewMockHub(), thumbs(3, 1, 2, false))

	state := sensor.RenderState()
	assert.Equal(t, "sensor.thumbnailGeneration", state.EntityID)
	assert.Equal(t, "thumbnailGeneration", state.UniqueID)
	assert.Equal(t, "Immich Job: thumbnailGeneration", state.Name)
	assert.Equal(t, "3", state.State)
	assert.Equal(t, true, state.Attributes["queue_active"])
	assert.Equal(t, false, state.Attributes["queue_paused"])
	assert.Equal(t, PlatformSensor, sensor.Platform())
}

func TestBinarySensor_RenderState(t *testing.T) {
	tests := []struct {
		name      string
		active    int
		wantState string
		wantIcon  string
	}{
		{name: "idle", active: 0, wantState: "off", wantIcon: "mdi:stop"},
		{name: "one active", active: 1, wantState: "on", wantIcon: "mdi:play"},
		{name: "several active", active: 4, wantState: "off", wantIcon: "mdi:play"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sensor := NewBinarySensor(immich.NewMockHub(), thumbs(tt.active, 1, 2, false))

			state := sensor.RenderState()
			assert.Equal(t, tt.wantState, state.State)
			assert.Equal(t, tt.wantIcon, state.Icon)
			assert.Equal(t, "running", state.DeviceClass)
			assert.Equal(t, "status_thumbnailGeneration", state.UniqueID)
			assert.Equal(t, "thumbnailGeneration Status", state.Name)
			assert.Equal(t, 1, state.Attributes["failed"])
			assert.Equal(t, 2, state.Attributes["waiting"])
			assert.Equal(t, tt.wantState == "on", sensor.IsOn())
			assert.True(t, sensor.QueueActive())
		})
	}
}

func TestSwitch_TurnOnOff(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted commands flip the paused flag", func(t *testing.T) {
		hub := immich.NewMockHub()
		sw := NewSwitch(hub, thumbs(1, 0, 0, false))
		assert.False(t, sw.IsOn())

		require.NoError(t, sw.TurnOff(ctx))
		assert.True(t, sw.IsOn())
		assert.Equal(t, "on", sw.RenderState().State)

		require.NoError(t, sw.TurnOn(ctx))
		assert.False(t, sw.IsOn())

		assert.Equal(t, []immich.CommandCall{
			{JobID: "thumbnailGeneration", Command: immich.CommandPause, Force: false},
			{JobID: "thumbnailGeneration", Command: immich.CommandStart, Force: false},
		}, hub.Commands())
	})

	t.Run("rejected command keeps state", func(t *testing.T) {
		hub := immich.NewMockHub()
		hub.SetCommandResult(false, nil)
		sw := NewSwitch(hub, thumbs(1, 0, 0, false))

		err := sw.TurnOff(ctx)
		assert.ErrorIs(t, err, immich.ErrCommandRejected)
		assert.False(t, sw.IsOn())
	})

	t.Run("transport error is returned", func(t *testing.T) {
		hub := immich.NewMockHub()
		hub.SetCommandResult(false, immich.ErrCannotConnect)
		sw := NewSwitch(hub, thumbs(1, 0, 0, true))

		err := sw.TurnOn(ctx)
		assert.True(t, errors.Is(err, immich.ErrCannotConnect))
		assert.True(t, sw.IsOn())
	})

	t.Run("command does not refresh the hub", func(t *testing.T) {
		hub := immich.NewMockHub()
		hub.SetJobs(immich.Jobs{"thumbnailGeneration": thumbs(1, 0, 0, false)})
		_, err := hub.GetJobs(ctx, false)
		require.NoError(t, err)

		sw := NewSwitch(hub, thumbs(1, 0, 0, false))
		require.NoError(t, sw.TurnOff(ctx))
		assert.Equal(t, 1, hub.RefreshCount())

		// Update reads the untouched snapshot and reverts the optimistic flag
		require.NoError(t, sw.Update(ctx))
		assert.False(t, sw.IsOn())
		assert.Equal(t, 1, hub.RefreshCount())
	})
}

// commandHook runs a callback while a job command is in flight
type commandHook struct {
	*immich.MockHub
	during func()
}

func (h *commandHook) SendJobCommand(ctx context.Context, jobID string, cmd immich.Command, force bool) (bool, error) {
	h.during()
	return h.MockHub.SendJobCommand(ctx, jobID, cmd, force)
}

func TestSwitch_KeepsStatusAppliedDuringCommand(t *testing.T) {
	hub := &commandHook{MockHub: immich.NewMockHub()}

	initial := thumbs(0, 0, 0, false)
	initial.QueueActive = false
	sw := NewSwitch(hub, initial)

	hub.during = func() {
		newer := thumbs(4, 2, 9, false)
		require.NoError(t, sw.Apply(immich.Jobs{"thumbnailGeneration": newer}))
	}

	require.NoError(t, sw.TurnOff(context.Background()))

	state := sw.RenderState()
	assert.Equal(t, "on", state.State)
	assert.Equal(t, true, state.Attributes["queue_active"])
	assert.Equal(t, 4, sw.status().ActiveCount)
	assert.Equal(t, 9, sw.status().WaitingCount)
}

func TestEntity_Apply(t *testing.T) {
	hub := immich.NewMockHub()
	sensor := NewSensor(hub, thumbs(0, 0, 0, false))

	require.NoError(t, sensor.Apply(immich.Jobs{"thumbnailGeneration": thumbs(7, 0, 0, false)}))
	assert.Equal(t, "7", sensor.RenderState().State)

	err := sensor.Apply(immich.Jobs{})
	assert.True(t, errors.Is(err, ErrJobNotFound))
	assert.Equal(t, "7", sensor.RenderState().State)

	// Apply is pure: the hub is never asked for jobs
	assert.Equal(t, 0, hub.RefreshCount())
}

func TestEntity_Update(t *testing.T) {
	ctx := context.Background()
	hub := immich.NewMockHub()
	hub.SetJobs(immich.Jobs{"thumbnailGeneration": thumbs(0, 0, 0, false)})

	sensor := NewSensor(hub, thumbs(0, 0, 0, false))
	require.NoError(t, sensor.Update(ctx))
	assert.Equal(t, "0", sensor.RenderState().State)

	hub.SetJobs(immich.Jobs{"thumbnailGeneration": thumbs(5, 0, 0, false)})
	require.NoError(t, hub.RefreshJobs(ctx))
	require.NoError(t, sensor.Update(ctx))
	assert.Equal(t, "5", sensor.RenderState().State)

	// Job disappears; last state is kept
	hub.SetJobs(immich.Jobs{"faceDetection": thumbs(1, 0, 0, false)})
	require.NoError(t, hub.RefreshJobs(ctx))
	err := sensor.Update(ctx)
	assert.True(t, errors.Is(err, ErrJobNotFound))
	assert.Equal(t, "5", sensor.RenderState().State)
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name        string
		info        PlatformInfo
		wantErr     bool
		errContains string
	}{
		{
			name: "valid registration",
			info: PlatformInfo{
				Platform: "light",
				Factory:  func(hub immich.JobSource, job immich.JobStatus) Entity { return NewSensor(hub, job) },
			},
		},
		{
			name: "empty name",
			info: PlatformInfo{
				Factory: func(hub immich.JobSource, job immich.JobStatus) Entity { return nil },
			},
			wantErr:     true,
			errContains: "name cannot be empty",
		},
		{
			name:        "nil factory",
			info:        PlatformInfo{Platform: "light"},
			wantErr:     true,
			errContains: "factory cannot be nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry(zap.NewNop())
			err := registry.Register(tt.info)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			assert.NoError(t, err)
			require.NotNil(t, registry.Get(tt.info.Platform))
			assert.Equal(t, 50, registry.Get(tt.info.Platform).Order)
		})
	}
}

func TestRegistry_BuildAll(t *testing.T) {
	hub := immich.NewMockHub()
	jobs := immich.Jobs{
		"thumbnailGeneration": {Name: "thumbnailGeneration"},
		"faceDetection":       {Name: "faceDetection"},
	}
	registry := NewDefaultRegistry(zap.NewNop())

	t.Run("all platforms", func(t *testing.T) {
		entities, err := registry.BuildAll(hub, jobs, nil)
		require.NoError(t, err)
		require.Len(t, entities, 6)

		var ids []string
		for _, e := range entities {
			ids = append(ids, e.RenderState().EntityID)
		}
		assert.Equal(t, []string{
			"sensor.faceDetection",
			"sensor.thumbnailGeneration",
			"binary_sensor.status_faceDetection",
			"binary_sensor.status_thumbnailGeneration",
			"switch.switch_faceDetection",
			"switch.switch_thumbnailGeneration",
		}, ids)
	})

	t.Run("subset", func(t *testing.T) {
		entities, err := registry.BuildAll(hub, jobs, []Platform{PlatformSwitch})
		require.NoError(t, err)
		require.Len(t, entities, 2)
		for _, e := range entities {
			assert.Equal(t, PlatformSwitch, e.Platform())
		}
	})

	t.Run("unknown platform", func(t *testing.T) {
		_, err := registry.BuildAll(hub, jobs, []Platform{"camera"})
		assert.Error(t, err)
	})
}

func TestDevice(t *testing.T) {
	assert.Equal(t, "Immich", Device.Manufacturer)
	assert.Equal(t, [][2]string{{Domain, Domain}}, Device.Identifiers)
}
