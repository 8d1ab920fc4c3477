package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"time"

	"immichhub/internal/api"
	"immichhub/internal/entity"
	"immichhub/internal/integration"

	"go.uber.org/zap"
)

// ManualScheduler records scheduled refreshes and runs them only when
// Fire is called, so tests decide when a poll happens.
type ManualScheduler struct {
	mu     sync.Mutex
	nextID int
	specs  map[int]string
	funcs  map[int]func()
}

// NewManualScheduler creates an empty scheduler
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{
		specs: make(map[int]string),
		funcs: make(map[int]func()),
	}
}

// AddFunc records cmd under spec
func (s *ManualScheduler) AddFunc(spec string, cmd func()) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.specs[s.nextID] = spec
	s.funcs[s.nextID] = cmd
	return s.nextID, nil
}

// RemoveFunc forgets a recorded function
func (s *ManualScheduler) RemoveFunc(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.funcs, id)
	delete(s.specs, id)
}

// Specs returns the specs of all scheduled functions
func (s *ManualScheduler) Specs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	specs := make([]string, 0, len(s.specs))
	for _, spec := range s.specs {
		specs = append(specs, spec)
	}
	return specs
}

// Fire runs every scheduled function once, synchronously
func (s *ManualScheduler) Fire() {
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

// TestEnv provides a complete test environment: a mock Immich server, a
// real hub talking to it, a set-up integration runtime and the HTTP API.
type TestEnv struct {
	Server    *MockImmichServer
	Runtime   *integration.Runtime
	API       *httptest.Server
	Scheduler *ManualScheduler
	Logger    *zap.Logger
}

// EnvOptions tweak NewTestEnv
type EnvOptions struct {
	APIKey      string
	Platforms   []entity.Platform
	IncludeJobs []string
	// Seed is called with the server before the integration is set up
	Seed func(s *MockImmichServer)
}

// NewTestEnv creates a fully configured test environment.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv(testutil.EnvOptions{APIKey: "key"})
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
//
//	env.Server.SetJob("library", testutil.JobState{...})
//	env.Poll()
func NewTestEnv(opts EnvOptions) (*TestEnv, error) {
	logger, _ := zap.NewDevelopment()

	server := NewMockImmichServer(opts.APIKey)
	if opts.Seed != nil {
		opts.Seed(server)
	} else {
		server.InitializeJobs()
	}

	factory := integration.DefaultHubFactory(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	flow, err := integration.ValidateInput(ctx, factory, server.URL(), opts.APIKey)
	if err != nil {
		server.Close()
		return nil, fmt.Errorf("failed to validate input: %w", err)
	}

	scheduler := NewManualScheduler()
	rt, err := integration.Setup(ctx, integration.Entry{
		ID:     flow.Host,
		Title:  flow.Title,
		Host:   flow.Host,
		APIKey: flow.APIKey,
		Options: integration.Options{
			ScanInterval: integration.DefaultScanInterval,
			Timeout:      2 * time.Second,
			Platforms:    opts.Platforms,
			IncludeJobs:  opts.IncludeJobs,
		},
	}, integration.Deps{
		HubFactory: factory,
		Registry:   entity.NewDefaultRegistry(logger),
		Scheduler:  scheduler,
		Logger:     logger,
	})
	if err != nil {
		server.Close()
		return nil, fmt.Errorf("failed to set up integration: %w", err)
	}

	apiServer := api.NewServer(rt, logger, 0)

	return &TestEnv{
		Server:    server,
		Runtime:   rt,
		API:       httptest.NewServer(apiServer.Handler()),
		Scheduler: scheduler,
		Logger:    logger,
	}, nil
}

// Poll runs one scheduled refresh, as if the scan interval elapsed
func (e *TestEnv) Poll() {
	e.Scheduler.Fire()
}

// State returns the rendered state of one entity, or nil if unknown
func (e *TestEnv) State(uniqueID string) *entity.State {
	ent, ok := e.Runtime.Entity(uniqueID)
	if !ok {
		return nil
	}
	state := ent.RenderState()
	return &state
}

// Cleanup stops all components in the correct order.
// Always call this in a defer after creating the TestEnv.
func (e *TestEnv) Cleanup() {
	if e.Runtime != nil {
		e.Runtime.Unload()
	}
	if e.API != nil {
		e.API.Close()
	}
	if e.Server != nil {
		e.Server.Close()
	}
}
