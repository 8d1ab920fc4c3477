// Package testutil provides testing utilities for the Immich job
// integration. This package contains a mock Immich REST server and a
// harness for writing end-to-end tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// QueueStatus is the queueStatus object of a job
type QueueStatus struct {
	IsActive bool `json:"isActive"`
	IsPaused bool `json:"isPaused"`
}

// JobCounts is the jobCounts object of a job
type JobCounts struct {
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Waiting   int `json:"waiting"`
	Paused    int `json:"paused"`
}

// JobState is one value of the GET /api/jobs response
type JobState struct {
	JobCounts   JobCounts   `json:"jobCounts"`
	QueueStatus QueueStatus `json:"queueStatus"`
}

// User is returned by GET /api/users/me
type User struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"isAdmin"`
}

// MockImmichServer simulates the parts of the Immich API the integration uses.
// Job commands are applied to the served state the way the real server
// would: pause sets isPaused, start and resume clear it.
type MockImmichServer struct {
	server *httptest.Server
	apiKey string

	mu       sync.RWMutex
	jobs     map[string]JobState
	user     User
	failWith int // non-zero: every jobs request answers with this status
	reject   bool

	callsMu  sync.Mutex
	commands []JobCommand
	requests map[string]int
}

// NewMockImmichServer starts a mock server accepting apiKey
func NewMockImmichServer(apiKey string) *MockImmichServer {
	s := &MockImmichServer{
		apiKey:   apiKey,
		jobs:     make(map[string]JobState),
		user:     User{ID: "user-1", Email: "admin@example.com", Name: "Test Admin", IsAdmin: true},
		requests: make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(s.countRequests)
	r.Use(s.requireAPIKey)
	r.Post("/api/auth/validateToken", s.handleValidateToken)
	r.Get("/api/users/me", s.handleCurrentUser)
	r.Get("/api/jobs", s.handleGetJobs)
	r.Put("/api/jobs/{id}", s.handleJobCommand)

	s.server = httptest.NewServer(r)
	return s
}

// URL is the base URL of the server
func (s *MockImmichServer) URL() string {
	return s.server.URL
}

// Close shuts the server down. Later requests fail to connect.
func (s *MockImmichServer) Close() {
	s.server.Close()
}

// InitializeJobs loads the queues a fresh Immich install reports, all idle
func (s *MockImmichServer) InitializeJobs() {
	for _, name := range []string{
		"thumbnailGeneration", "metadataExtraction", "videoConversion",
		"faceDetection", "facialRecognition", "smartSearch",
		"duplicateDetection", "backgroundTask", "storageTemplateMigration",
		"migration", "search", "sidecar", "library", "notifications",
	} {
		s.SetJob(name, JobState{})
	}
}

// SetJob sets or replaces one job
func (s *MockImmichServer) SetJob(name string, state JobState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = state
}

// RemoveJob drops a job from the listing
func (s *MockImmichServer) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, name)
}

// GetJob returns the served state of one job
func (s *MockImmichServer) GetJob(name string) (JobState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.jobs[name]
	return state, ok
}

// SetUser sets the owner of the API key
func (s *MockImmichServer) SetUser(user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

// FailJobs makes GET /api/jobs answer with status; 0 restores normal service
func (s *MockImmichServer) FailJobs(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = status
}

// RejectCommands makes job commands answer 400 without changing state
func (s *MockImmichServer) RejectCommands(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reject
}

// GetCommands returns all job commands received
func (s *MockImmichServer) GetCommands() []JobCommand {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	return append([]JobCommand(nil), s.commands...)
}

// ClearCommands forgets the recorded job commands
func (s *MockImmichServer) ClearCommands() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.commands = nil
}

// RequestCount returns how many requests hit method and path
func (s *MockImmichServer) RequestCount(method, path string) int {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	return s.requests[method+" "+path]
}

func (s *MockImmichServer) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.callsMu.Lock()
		s.requests[r.Method+" "+r.URL.Path]++
		s.callsMu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *MockImmichServer) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != s.apiKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *MockImmichServer) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"authStatus": true})
}

func (s *MockImmichServer) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, user)
}

func (s *MockImmichServer) handleGetJobs(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failWith != 0 {
		writeJSON(w, s.failWith, map[string]string{"message": "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, s.jobs)
}

func (s *MockImmichServer) handleJobCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
		Force   bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	jobID := chi.URLParam(r, "id")

	s.callsMu.Lock()
	s.commands = append(s.commands, JobCommand{
		Timestamp: time.Now(),
		JobID:     jobID,
		Command:   req.Command,
		Force:     req.Force,
	})
	s.callsMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.jobs[jobID]
	if !ok || s.reject {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid job"})
		return
	}

	switch req.Command {
	case "pause":
		state.QueueStatus.IsPaused = true
	case "start", "resume":
		state.QueueStatus.IsPaused = false
		state.QueueStatus.IsActive = true
	case "empty":
		state.JobCounts.Waiting = 0
	}
	s.jobs[jobID] = state

	writeJSON(w, http.StatusOK, state)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
