package integration

import (
	"context"
	"fmt"
	"sync"

	"immichhub/internal/config"
	"immichhub/internal/entity"
	"immichhub/internal/immich"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Deps are the collaborators Setup needs
type Deps struct {
	HubFactory HubFactory
	Registry   *entity.Registry
	Scheduler  Scheduler
	Logger     *zap.Logger
}

// Runtime is everything one set-up entry owns. It is created by Setup,
// handed to whoever needs it and torn down by Unload.
type Runtime struct {
	Entry       Entry
	Hub         immich.JobSource
	Entities    []entity.Entity
	Coordinator *Coordinator
	Services    *Services
	Logger      *zap.Logger

	mu       sync.Mutex
	onUnload []func() error
	unloaded bool
}

// Setup authenticates against the entry's server, builds entities for the
// jobs it reports and starts polling.
func Setup(ctx context.Context, entry Entry, deps Deps) (*Runtime, error) {
	logger := deps.Logger.Named("integration").With(zap.String("entry", entry.ID))

	hub := deps.HubFactory(immich.Credentials{BaseURL: entry.Host, APIKey: entry.APIKey}, entry.Options.Timeout)

	ok, err := hub.Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("setup %s: %w", entry.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("setup %s: %w", entry.ID, ErrInvalidAuth)
	}

	jobs, err := hub.GetJobs(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("setup %s: failed to list jobs: %w", entry.ID, err)
	}

	filter, err := config.NewJobFilter(entry.Options.IncludeJobs)
	if err != nil {
		return nil, fmt.Errorf("setup %s: %w", entry.ID, err)
	}
	selected := make(immich.Jobs, len(jobs))
	for name, status := range jobs {
		if filter.Match(name) {
			selected[name] = status
		} else {
			logger.Debug("Job excluded by filter", zap.String("job", name))
		}
	}

	entities, err := deps.Registry.BuildAll(hub, selected, entry.Options.Platforms)
	if err != nil {
		return nil, fmt.Errorf("setup %s: %w", entry.ID, err)
	}

	rt := &Runtime{
		Entry:       entry,
		Hub:         hub,
		Entities:    entities,
		Coordinator: NewCoordinator(hub, entities, deps.Scheduler, entry.Options.ScanInterval, logger),
		Services:    NewServices(),
		Logger:      logger,
	}

	rt.Services.Register(ServiceRefresh, func(ctx context.Context, _ map[string]interface{}) error {
		return rt.Coordinator.RefreshNow(ctx)
	})
	rt.Services.Register(ServicePauseJob, jobCommandHandler(hub, immich.CommandPause))
	rt.Services.Register(ServiceStartJob, jobCommandHandler(hub, immich.CommandStart))

	if err := rt.Coordinator.Start(); err != nil {
		return nil, fmt.Errorf("setup %s: %w", entry.ID, err)
	}

	logger.Info("Entry set up",
		zap.Int("jobs", len(selected)),
		zap.Int("entities", len(entities)))
	return rt, nil
}

// OnUnload registers fn to run when the entry is unloaded
func (r *Runtime) OnUnload(fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUnload = append(r.onUnload, fn)
}

// Entity looks an entity up by unique id
func (r *Runtime) Entity(uniqueID string) (entity.Entity, bool) {
	for _, e := range r.Entities {
		if e.UniqueID() == uniqueID {
			return e, true
		}
	}
	return nil, false
}

// States renders every entity
func (r *Runtime) States() []entity.State {
	return r.Coordinator.States()
}

// Unload stops polling, runs the unload callbacks in reverse order and
// removes the services. All failures are reported together.
func (r *Runtime) Unload() error {
	r.mu.Lock()
	if r.unloaded {
		r.mu.Unlock()
		return nil
	}
	r.unloaded = true
	callbacks := r.onUnload
	r.onUnload = nil
	r.mu.Unlock()

	err := r.Coordinator.Stop()

	for i := len(callbacks) - 1; i >= 0; i-- {
		err = multierr.Append(err, callbacks[i]())
	}

	for _, name := range r.Services.Names() {
		r.Services.Unregister(name)
	}

	r.Logger.Info("Entry unloaded")
	return err
}
