package immich

import (
	"context"
	"sync"
	"time"
)

// CommandCall records a SendJobCommand call for testing
type CommandCall struct {
	JobID   string
	Command Command
	Force   bool
}

// MockHub implements JobSource for testing. Jobs set with SetJobs become
// visible only after the next refresh, mirroring the real hub's snapshot.
type MockHub struct {
	mu sync.Mutex

	serverJobs Jobs
	cache      Jobs
	user       UserInfo

	authOK       bool
	authErr      error
	refreshErr   error
	commandOK    bool
	commandErr   error
	refreshCount int
	commands     []CommandCall
	lastRefresh  time.Time
}

var _ JobSource = (*MockHub)(nil)

// NewMockHub creates a mock hub that authenticates and accepts commands
func NewMockHub() *MockHub {
	return &MockHub{
		serverJobs: make(Jobs),
		authOK:     true,
		commandOK:  true,
		user:       UserInfo{ID: "user-1", Name: "Test User", Email: "test@example.com"},
	}
}

// SetJobs sets what the next refresh will return
func (m *MockHub) SetJobs(jobs Jobs) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverJobs = jobs.Clone()
}

// SetAuth controls the result of Authenticate
func (m *MockHub) SetAuth(ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authOK = ok
	m.authErr = err
}

// SetRefreshError makes subsequent refreshes fail with err (nil to clear)
func (m *MockHub) SetRefreshError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshErr = err
}

// SetCommandResult controls the result of SendJobCommand
func (m *MockHub) SetCommandResult(ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commandOK = ok
	m.commandErr = err
}

// SetUser sets the user returned by GetCurrentUser
func (m *MockHub) SetUser(user UserInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = user
}

// RefreshCount returns how many refreshes reached the "server"
func (m *MockHub) RefreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCount
}

// Commands returns a copy of all recorded commands
func (m *MockHub) Commands() []CommandCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CommandCall(nil), m.commands...)
}

// Authenticate returns the configured auth result
func (m *MockHub) Authenticate(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authOK, m.authErr
}

// GetCurrentUser returns the configured user
func (m *MockHub) GetCurrentUser(ctx context.Context) (*UserInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user := m.user
	return &user, nil
}

// RefreshJobs copies the server jobs into the cache unless an error is set
func (m *MockHub) RefreshJobs(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshCount++
	if m.refreshErr != nil {
		return m.refreshErr
	}
	m.cache = m.serverJobs.Clone()
	m.lastRefresh = time.Now()
	return nil
}

// GetJobs follows the same read-through rule as Hub.GetJobs
func (m *MockHub) GetJobs(ctx context.Context, useCache bool) (Jobs, error) {
	m.mu.Lock()
	empty := len(m.cache) == 0
	m.mu.Unlock()

	if !useCache || empty {
		if err := m.RefreshJobs(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Clone(), nil
}

// Snapshot returns the cached jobs without refreshing
func (m *MockHub) Snapshot() Jobs {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache == nil {
		return Jobs{}
	}
	return m.cache.Clone()
}

// SendJobCommand records the call and returns the configured result
func (m *MockHub) SendJobCommand(ctx context.Context, jobID string, cmd Command, force bool) (bool, error) {
	if !cmd.Valid() {
		return false, ErrInvalidCommand
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, CommandCall{JobID: jobID, Command: cmd, Force: force})
	return m.commandOK, m.commandErr
}

// LastRefresh returns when the mock cache was last replaced
func (m *MockHub) LastRefresh() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRefresh
}
