// Package entity renders Immich job statuses as home-automation entities.
// Every entity reads the same hub snapshot; the sensor, binary sensor and
// switch only differ in how they present a JobStatus.
package entity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"immichhub/internal/immich"
)

// Domain is the integration domain used in identifiers and service names
const Domain = "immich_integration"

// Platform names an entity kind
type Platform string

const (
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
	PlatformSwitch       Platform = "switch"
)

// ErrJobNotFound is returned by Update when the job vanished from the snapshot
var ErrJobNotFound = errors.New("job not found")

// State is the rendered state of one entity
type State struct {
	EntityID    string                 `json:"entity_id"`
	UniqueID    string                 `json:"unique_id"`
	Name        string                 `json:"name"`
	State       string                 `json:"state"`
	Icon        string                 `json:"icon,omitempty"`
	DeviceClass string                 `json:"device_class,omitempty"`
	Attributes  map[string]interface{} `json:"attributes"`
}

// DeviceInfo groups all entities of the integration under one service device
type DeviceInfo struct {
	Identifiers  [][2]string `json:"identifiers"`
	Manufacturer string      `json:"manufacturer"`
	EntryType    string      `json:"entry_type"`
}

// Device is shared by every entity
var Device = DeviceInfo{
	Identifiers:  [][2]string{{Domain, Domain}},
	Manufacturer: "Immich",
	EntryType:    "service",
}

// Entity is one rendering of a job
type Entity interface {
	UniqueID() string
	Name() string
	JobName() string
	Platform() Platform

	// Update re-reads the job from the hub snapshot without forcing a fetch
	Update(ctx context.Context) error

	// Apply takes the job from an already fetched snapshot; no I/O
	Apply(jobs immich.Jobs) error

	RenderState() State
}

// jobEntity holds what every entity kind shares: the hub and the last
// known status of its job
type jobEntity struct {
	hub      immich.JobSource
	platform Platform
	uniqueID string
	name     string

	mu  sync.RWMutex
	job immich.JobStatus
}

func newJobEntity(hub immich.JobSource, platform Platform, uniqueID, name string, job immich.JobStatus) *jobEntity {
	return &jobEntity{
		hub:      hub,
		platform: platform,
		uniqueID: uniqueID,
		name:     name,
		job:      job,
	}
}

func (e *jobEntity) UniqueID() string   { return e.uniqueID }
func (e *jobEntity) Name() string       { return e.name }
func (e *jobEntity) Platform() Platform { return e.platform }

func (e *jobEntity) JobName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.Name
}

func (e *jobEntity) status() immich.JobStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job
}

func (e *jobEntity) setStatus(job immich.JobStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.job = job
}

// fetch looks the job up in the cached snapshot
func (e *jobEntity) fetch(ctx context.Context) (immich.JobStatus, error) {
	name := e.JobName()
	jobs, err := e.hub.GetJobs(ctx, true)
	if err != nil {
		return immich.JobStatus{}, err
	}
	job, ok := jobs[name]
	if !ok {
		return immich.JobStatus{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return job, nil
}

func (e *jobEntity) Update(ctx context.Context) error {
	job, err := e.fetch(ctx)
	if err != nil {
		return err
	}
	e.setStatus(job)
	return nil
}

func (e *jobEntity) Apply(jobs immich.Jobs) error {
	name := e.JobName()
	job, ok := jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	e.setStatus(job)
	return nil
}

// setPaused flips only the paused flag so counts stored by a concurrent
// Apply survive
func (e *jobEntity) setPaused(paused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.job.QueuePaused = paused
}

func (e *jobEntity) entityID() string {
	return fmt.Sprintf("%s.%s", e.platform, e.uniqueID)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
