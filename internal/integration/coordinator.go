package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"immichhub/internal/entity"
	"immichhub/internal/immich"

	"go.uber.org/zap"
	"gopkg.in/robfig/cron.v2"
)

// DefaultScanInterval is how often jobs are polled when the entry does not say
const DefaultScanInterval = 30 * time.Second

// ErrNotRunning is returned when stopping a coordinator that never started
var ErrNotRunning = errors.New("coordinator not running")

// Scheduler runs functions on a cron spec
type Scheduler interface {
	AddFunc(spec string, cmd func()) (int, error)
	RemoveFunc(id int)
}

// CronScheduler implements Scheduler with robfig/cron
type CronScheduler struct {
	cron *cron.Cron
}

// NewCronScheduler creates and starts a scheduler
func NewCronScheduler() *CronScheduler {
	s := &CronScheduler{cron: cron.New()}
	s.cron.Start()
	return s
}

// AddFunc schedules cmd
func (s *CronScheduler) AddFunc(spec string, cmd func()) (int, error) {
	id, err := s.cron.AddFunc(spec, cmd)
	return int(id), err
}

// RemoveFunc unschedules a function added with AddFunc
func (s *CronScheduler) RemoveFunc(id int) {
	s.cron.Remove(cron.EntryID(id))
}

// Stop halts the scheduler; running jobs are not interrupted
func (s *CronScheduler) Stop() {
	s.cron.Stop()
}

// Snapshot is handed to listeners after every refresh attempt
type Snapshot struct {
	Jobs        immich.Jobs
	States      []entity.State
	LastRefresh time.Time
	Err         error
}

// Listener is notified after every refresh attempt
type Listener func(Snapshot)

// Coordinator refreshes the hub on a schedule and pushes the new snapshot
// into every entity. It never retries early: a failed refresh waits for the
// next tick.
type Coordinator struct {
	hub       immich.JobSource
	entities  []entity.Entity
	scheduler Scheduler
	interval  time.Duration
	logger    *zap.Logger

	mu        sync.Mutex
	running   bool
	entryID   int
	ctx       context.Context
	cancel    context.CancelFunc
	listeners []Listener
}

// NewCoordinator creates a coordinator for hub and its entities
func NewCoordinator(hub immich.JobSource, entities []entity.Entity, scheduler Scheduler, interval time.Duration, logger *zap.Logger) *Coordinator {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	return &Coordinator{
		hub:       hub,
		entities:  entities,
		scheduler: scheduler,
		interval:  interval,
		logger:    logger.Named("coordinator"),
	}
}

// AddListener registers fn to run after every refresh attempt
func (c *Coordinator) AddListener(fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Interval returns the polling interval
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// Start schedules the periodic refresh
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("coordinator already running")
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())

	spec := fmt.Sprintf("@every %s", c.interval)
	id, err := c.scheduler.AddFunc(spec, c.tick)
	if err != nil {
		c.cancel()
		return fmt.Errorf("failed to schedule refresh: %w", err)
	}

	c.entryID = id
	c.running = true
	c.logger.Info("Polling started", zap.Duration("interval", c.interval))
	return nil
}

// Stop unschedules the refresh and cancels an in-flight one
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrNotRunning
	}

	c.scheduler.RemoveFunc(c.entryID)
	c.cancel()
	c.running = false
	c.logger.Info("Polling stopped")
	return nil
}

func (c *Coordinator) tick() {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return
	}

	if err := c.RefreshNow(ctx); err != nil {
		c.logger.Warn("Scheduled refresh failed", zap.Error(err))
	}
}

// RefreshNow fetches jobs once, applies the new snapshot to every entity
// and notifies listeners. The error is the refresh error, if any.
func (c *Coordinator) RefreshNow(ctx context.Context) error {
	snap := Snapshot{}

	err := c.hub.RefreshJobs(ctx)
	if err == nil {
		// Read once, never fetches; an empty server list stays empty
		snap.Jobs = c.hub.Snapshot()
		c.applyEntities(snap.Jobs)
	}

	snap.States = c.States()
	snap.LastRefresh = c.hub.LastRefresh()
	snap.Err = err

	c.mu.Lock()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	return err
}

func (c *Coordinator) applyEntities(jobs immich.Jobs) {
	for _, e := range c.entities {
		if err := e.Apply(jobs); err != nil {
			if errors.Is(err, entity.ErrJobNotFound) {
				c.logger.Debug("Job no longer reported", zap.String("entity", e.UniqueID()))
				continue
			}
			c.logger.Warn("Failed to update entity", zap.String("entity", e.UniqueID()), zap.Error(err))
		}
	}
}

// States renders every entity
func (c *Coordinator) States() []entity.State {
	states := make([]entity.State, 0, len(c.entities))
	for _, e := range c.entities {
		states = append(states, e.RenderState())
	}
	return states
}
