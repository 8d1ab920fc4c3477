package entity

import (
	"fmt"
	"sort"
	"sync"

	"immichhub/internal/immich"

	"go.uber.org/zap"
)

// Factory builds the entity of one platform for one job
type Factory func(hub immich.JobSource, job immich.JobStatus) Entity

// PlatformInfo describes a registered platform
type PlatformInfo struct {
	// Platform is the unique identifier, e.g. "sensor"
	Platform Platform

	// Description is a human-readable description
	Description string

	// Order controls the order entities are built in. Lower first.
	Order int

	Factory Factory
}

// Registry holds the platforms an integration instance can set up.
// Each config entry gets its own registry; there is no process-wide one.
type Registry struct {
	mu        sync.RWMutex
	platforms map[Platform]PlatformInfo
	logger    *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		platforms: make(map[Platform]PlatformInfo),
		logger:    logger,
	}
}

// NewDefaultRegistry creates a registry with the sensor, binary sensor and
// switch platforms
func NewDefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	for _, info := range []PlatformInfo{
		{
			Platform:    PlatformSensor,
			Description: "Active task count per job",
			Order:       10,
			Factory:     func(hub immich.JobSource, job immich.JobStatus) Entity { return NewSensor(hub, job) },
		},
		{
			Platform:    PlatformBinarySensor,
			Description: "Running flag per job",
			Order:       20,
			Factory:     func(hub immich.JobSource, job immich.JobStatus) Entity { return NewBinarySensor(hub, job) },
		},
		{
			Platform:    PlatformSwitch,
			Description: "Pause switch per job queue",
			Order:       30,
			Factory:     func(hub immich.JobSource, job immich.JobStatus) Entity { return NewSwitch(hub, job) },
		},
	} {
		// Built-ins are always valid
		_ = r.Register(info)
	}
	return r
}

// Register adds a platform. A later registration with the same name
// replaces the earlier one.
func (r *Registry) Register(info PlatformInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info.Platform == "" {
		return fmt.Errorf("platform name cannot be empty")
	}

	if info.Factory == nil {
		return fmt.Errorf("platform %s: factory cannot be nil", info.Platform)
	}

	if info.Order == 0 {
		info.Order = 50
	}

	if _, exists := r.platforms[info.Platform]; exists {
		r.logger.Debug("Platform being overridden", zap.String("platform", string(info.Platform)))
	}

	r.platforms[info.Platform] = info
	return nil
}

// Get returns the platform info, or nil if not registered
func (r *Registry) Get(platform Platform) *PlatformInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.platforms[platform]
	if !ok {
		return nil
	}
	return &info
}

// List returns all platforms sorted by order, then name
func (r *Registry) List() []PlatformInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]PlatformInfo, 0, len(r.platforms))
	for _, info := range r.platforms {
		result = append(result, info)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].Platform < result[j].Platform
	})

	return result
}

// BuildAll creates one entity per job for each requested platform. An
// empty platforms list means every registered platform. Entities come out
// grouped by platform order, jobs sorted by name.
func (r *Registry) BuildAll(hub immich.JobSource, jobs immich.Jobs, platforms []Platform) ([]Entity, error) {
	wanted := make(map[Platform]bool, len(platforms))
	for _, p := range platforms {
		if r.Get(p) == nil {
			return nil, fmt.Errorf("unknown platform %q", p)
		}
		wanted[p] = true
	}

	names := make([]string, 0, len(jobs))
	for name := range jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	var result []Entity
	for _, info := range r.List() {
		if len(wanted) > 0 && !wanted[info.Platform] {
			continue
		}
		for _, name := range names {
			result = append(result, info.Factory(hub, jobs[name]))
		}
	}

	r.logger.Info("Entities created",
		zap.Int("jobs", len(names)),
		zap.Int("entities", len(result)))
	return result, nil
}
