package entity

import (
	"context"
	"fmt"

	"immichhub/internal/immich"
)

// Switch is on while a job queue is paused. Turning it on resumes the
// queue, turning it off pauses it; this mirrors the Immich queue toggle.
type Switch struct {
	*jobEntity
}

var _ Entity = (*Switch)(nil)

// NewSwitch creates the pause switch for job
func NewSwitch(hub immich.JobSource, job immich.JobStatus) *Switch {
	return &Switch{
		jobEntity: newJobEntity(hub, PlatformSwitch, "switch_"+job.Name, "Switch "+job.Name, job),
	}
}

// IsOn reports the paused flag
func (s *Switch) IsOn() bool {
	return s.status().QueuePaused
}

// TurnOn sends start and clears the paused flag if the server accepted it
func (s *Switch) TurnOn(ctx context.Context) error {
	return s.send(ctx, immich.CommandStart, false)
}

// TurnOff sends pause and sets the paused flag if the server accepted it
func (s *Switch) TurnOff(ctx context.Context) error {
	return s.send(ctx, immich.CommandPause, true)
}

func (s *Switch) send(ctx context.Context, cmd immich.Command, paused bool) error {
	name := s.JobName()
	ok, err := s.hub.SendJobCommand(ctx, name, cmd, false)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %s", immich.ErrCommandRejected, cmd, name)
	}

	// Optimistic until the next refresh; the hub snapshot is not touched
	s.setPaused(paused)
	return nil
}

func (s *Switch) RenderState() State {
	job := s.status()
	return State{
		EntityID:    s.entityID(),
		UniqueID:    s.uniqueID,
		Name:        s.name,
		State:       onOff(job.QueuePaused),
		DeviceClass: "switch",
		Attributes: map[string]interface{}{
			"queue_active": job.QueueActive,
		},
	}
}
