package immich

import (
	"context"
	"fmt"
	"time"
)

// Credentials identify one Immich server and the API key used against it.
// They are fixed for the lifetime of a Hub.
type Credentials struct {
	BaseURL string
	APIKey  string
}

// JobStatus is the local view of a single job queue
type JobStatus struct {
	Name         string `json:"name"`
	QueueActive  bool   `json:"queue_active"`
	QueuePaused  bool   `json:"queue_paused"`
	ActiveCount  int    `json:"active_count"`
	FailedCount  int    `json:"failed_count"`
	WaitingCount int    `json:"waiting_count"`
}

// Jobs maps job name to its status
type Jobs map[string]JobStatus

// Clone returns a copy that shares nothing with j
func (j Jobs) Clone() Jobs {
	out := make(Jobs, len(j))
	for name, status := range j {
		out[name] = status
	}
	return out
}

// UserInfo is the subset of /api/users/me the integration uses
type UserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"isAdmin"`
}

// Command is a job queue command accepted by PUT /api/jobs/{id}
type Command string

const (
	CommandPause Command = "pause"
	CommandStart Command = "start"
)

// Valid reports whether c is a command the hub knows how to send
func (c Command) Valid() bool {
	return c == CommandPause || c == CommandStart
}

// ParseCommand converts user input into a Command
func ParseCommand(s string) (Command, error) {
	c := Command(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCommand, s)
	}
	return c, nil
}

// JobSource is everything the entity and host layers need from a hub.
// Hub and MockHub both implement it.
type JobSource interface {
	Authenticate(ctx context.Context) (bool, error)
	GetCurrentUser(ctx context.Context) (*UserInfo, error)
	RefreshJobs(ctx context.Context) error
	GetJobs(ctx context.Context, useCache bool) (Jobs, error)
	Snapshot() Jobs
	SendJobCommand(ctx context.Context, jobID string, cmd Command, force bool) (bool, error)
	LastRefresh() time.Time
}

// queueStatus mirrors the queueStatus object of a job in GET /api/jobs
type queueStatus struct {
	IsActive bool `json:"isActive"`
	IsPaused bool `json:"isPaused"`
}

// jobCounts mirrors the jobCounts object of a job in GET /api/jobs.
// The server sends more counters (completed, delayed, paused); they are ignored.
type jobCounts struct {
	Active  int `json:"active"`
	Failed  int `json:"failed"`
	Waiting int `json:"waiting"`
}

// jobPayload is one value of the GET /api/jobs response object
type jobPayload struct {
	QueueStatus queueStatus `json:"queueStatus"`
	JobCounts   jobCounts   `json:"jobCounts"`
}

func (p jobPayload) toStatus(name string) JobStatus {
	return JobStatus{
		Name:         name,
		QueueActive:  p.QueueStatus.IsActive,
		QueuePaused:  p.QueueStatus.IsPaused,
		ActiveCount:  p.JobCounts.Active,
		FailedCount:  p.JobCounts.Failed,
		WaitingCount: p.JobCounts.Waiting,
	}
}

// validateTokenResponse is the body of POST /api/auth/validateToken
type validateTokenResponse struct {
	AuthStatus bool `json:"authStatus"`
}

// jobCommandRequest is the body of PUT /api/jobs/{id}
type jobCommandRequest struct {
	Command Command `json:"command"`
	Force   bool    `json:"force"`
}
