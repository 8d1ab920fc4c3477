package entity

import (
	"strconv"

	"immichhub/internal/immich"
)

// Sensor reports the number of active tasks of a job
type Sensor struct {
	*jobEntity
}

var _ Entity = (*Sensor)(nil)

// NewSensor creates the sensor for job
func NewSensor(hub immich.JobSource, job immich.JobStatus) *Sensor {
	return &Sensor{
		jobEntity: newJobEntity(hub, PlatformSensor, job.Name, "Immich Job: "+job.Name, job),
	}
}

func (s *Sensor) RenderState() State {
	job := s.status()
	return State{
		EntityID: s.entityID(),
		UniqueID: s.uniqueID,
		Name:     s.name,
		State:    strconv.Itoa(job.ActiveCount),
		Attributes: map[string]interface{}{
			"queue_active": job.QueueActive,
			"queue_paused": job.QueuePaused,
		},
	}
}
