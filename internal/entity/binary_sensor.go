package entity

import "immichhub/internal/immich"

const (
	iconRunning = "mdi:play"
	iconIdle    = "mdi:stop"
)

// BinarySensor reports whether a job is running
type BinarySensor struct {
	*jobEntity
}

var _ Entity = (*BinarySensor)(nil)

// NewBinarySensor creates the running sensor for job
func NewBinarySensor(hub immich.JobSource, job immich.JobStatus) *BinarySensor {
	return &BinarySensor{
		jobEntity: newJobEntity(hub, PlatformBinarySensor, "status_"+job.Name, job.Name+" Status", job),
	}
}

// IsOn is true when exactly one task is active.
// Immich runs most queues with a concurrency of one.
func (b *BinarySensor) IsOn() bool {
	return b.status().ActiveCount == 1
}

// QueueActive reports the queue flag of the last known status
func (b *BinarySensor) QueueActive() bool {
	return b.status().QueueActive
}

func (b *BinarySensor) RenderState() State {
	job := b.status()

	icon := iconRunning
	if job.ActiveCount == 0 {
		icon = iconIdle
	}

	return State{
		EntityID:    b.entityID(),
		UniqueID:    b.uniqueID,
		Name:        b.name,
		State:       onOff(job.ActiveCount == 1),
		Icon:        icon,
		DeviceClass: "running",
		Attributes: map[string]interface{}{
			"failed":       job.FailedCount,
			"waiting":      job.WaitingCount,
			"queue_active": job.QueueActive,
		},
	}
}
