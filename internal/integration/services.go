package integration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"immichhub/internal/immich"
)

// Service names registered under the integration domain
const (
	ServiceRefresh  = "refresh"
	ServicePauseJob = "pause_job"
	ServiceStartJob = "start_job"
)

var (
	// ErrUnknownService is returned by Call for unregistered names
	ErrUnknownService = errors.New("unknown service")

	// ErrCommandRejected is returned when the server answered a job command with a non-200
	ErrCommandRejected = immich.ErrCommandRejected

	// ErrMissingJobID is returned when pause_job or start_job lacks job_id
	ErrMissingJobID = errors.New("job_id is required")
)

// ServiceHandler handles one service call
type ServiceHandler func(ctx context.Context, data map[string]interface{}) error

// Services is the service table of one integration instance
type Services struct {
	mu       sync.RWMutex
	handlers map[string]ServiceHandler
}

// NewServices creates an empty service table
func NewServices() *Services {
	return &Services{handlers: make(map[string]ServiceHandler)}
}

// Register adds or replaces a handler
func (s *Services) Register(name string, handler ServiceHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = handler
}

// Unregister removes a handler
func (s *Services) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, name)
}

// Names returns registered service names, sorted
func (s *Services) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call runs the named service
func (s *Services) Call(ctx context.Context, name string, data map[string]interface{}) error {
	s.mu.RLock()
	handler, ok := s.handlers[name]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return handler(ctx, data)
}

// jobCommandHandler builds the pause_job / start_job handler
func jobCommandHandler(hub immich.JobSource, cmd immich.Command) ServiceHandler {
	return func(ctx context.Context, data map[string]interface{}) error {
		jobID, _ := data["job_id"].(string)
		if jobID == "" {
			return ErrMissingJobID
		}
		force, _ := data["force"].(bool)

		ok, err := hub.SendJobCommand(ctx, jobID, cmd, force)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s %s", ErrCommandRejected, cmd, jobID)
		}
		return nil
	}
}
