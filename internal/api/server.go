package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"immichhub/internal/entity"
	"immichhub/internal/immich"
	"immichhub/internal/integration"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Server exposes one integration runtime over HTTP
type Server struct {
	runtime *integration.Runtime
	logger  *zap.Logger
	metrics *Metrics
	hub     *Hub
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a new API server and subscribes it to the runtime's
// refreshes. The WebSocket hub is closed when the runtime unloads.
func NewServer(rt *integration.Runtime, logger *zap.Logger, port int) *Server {
	s := &Server{
		runtime: rt,
		logger:  logger.Named("api"),
		metrics: NewMetrics(),
		hub:     NewHub(logger),
		router:  chi.NewRouter(),
	}
	s.routes()

	go s.hub.Run()
	rt.Coordinator.AddListener(s.metrics.ObserveRefresh)
	rt.Coordinator.AddListener(s.broadcastRefresh)
	rt.OnUnload(s.hub.Close)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.metrics.Middleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/", s.handleSitemap)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/metrics", s.metrics.Handler().ServeHTTP)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/ws", s.handleWS)
		r.Post("/refresh", s.handleRefresh)

		r.Route("/entities", func(r chi.Router) {
			r.Get("/", s.handleListEntities)
			r.Get("/{id}", s.handleGetEntity)
			r.Post("/{id}/turn_on", s.handleSwitch(true))
			r.Post("/{id}/turn_off", s.handleSwitch(false))
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/{id}/pause", s.handleJobCommand(integration.ServicePauseJob))
			r.Post("/{id}/start", s.handleJobCommand(integration.ServiceStartJob))
		})

		r.Route("/services", func(r chi.Router) {
			r.Get("/", s.handleListServices)
			r.Post("/{name}", s.handleCallService)
		})
	})
}

// Handler returns the root handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// JobsResponse is returned by the job endpoints
type JobsResponse struct {
	Jobs        immich.Jobs `json:"jobs"`
	LastRefresh *time.Time  `json:"last_refresh"`
}

// RefreshPayload is the WebSocket payload after each refresh
type RefreshPayload struct {
	States      []entity.State `json:"states"`
	LastRefresh *time.Time     `json:"last_refresh"`
	Error       string         `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.runtime.States())
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	e, ok := s.runtime.Entity(chi.URLParam(r, "id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("entity not found"))
		return
	}
	s.writeJSON(w, http.StatusOK, e.RenderState())
}

func (s *Server) handleSwitch(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := s.runtime.Entity(chi.URLParam(r, "id"))
		if !ok {
			s.writeError(w, http.StatusNotFound, errors.New("entity not found"))
			return
		}
		sw, ok := e.(*entity.Switch)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("%s is not a switch", e.UniqueID()))
			return
		}

		var err error
		if on {
			err = sw.TurnOn(r.Context())
		} else {
			err = sw.TurnOff(r.Context())
		}
		if err != nil {
			s.logger.Warn("Switch command failed",
				zap.String("entity", sw.UniqueID()),
				zap.Bool("on", on),
				zap.Error(err))
			s.writeError(w, statusFor(err), err)
			return
		}
		s.writeJSON(w, http.StatusOK, sw.RenderState())
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.runtime.Hub.GetJobs(r.Context(), true)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, JobsResponse{Jobs: jobs, LastRefresh: timePtr(s.runtime.Hub.LastRefresh())})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.runtime.Services.Call(r.Context(), integration.ServiceRefresh, nil); err != nil {
		s.logger.Warn("Manual refresh failed", zap.Error(err))
		s.writeError(w, statusFor(err), err)
		return
	}
	s.handleListJobs(w, r)
}

func (s *Server) handleJobCommand(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force := false
		if raw := r.URL.Query().Get("force"); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid force value %q", raw))
				return
			}
			force = parsed
		}

		jobID := chi.URLParam(r, "id")
		data := map[string]interface{}{"job_id": jobID, "force": force}
		if err := s.runtime.Services.Call(r.Context(), service, data); err != nil {
			s.logger.Warn("Job command failed",
				zap.String("job", jobID),
				zap.String("service", service),
				zap.Error(err))
			s.writeError(w, statusFor(err), err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id":  jobID,
			"service": service,
			"force":   force,
		})
	}
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{
		entity.Domain: s.runtime.Services.Names(),
	})
}

func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid service data: %w", err))
			return
		}
	}

	name := chi.URLParam(r, "name")
	if err := s.runtime.Services.Call(r.Context(), name, data); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, Message{Type: "states", Payload: s.runtime.States()})
}

// broadcastRefresh is a coordinator listener
func (s *Server) broadcastRefresh(snap integration.Snapshot) {
	payload := RefreshPayload{
		States:      snap.States,
		LastRefresh: timePtr(snap.LastRefresh),
	}
	if snap.Err != nil {
		payload.Error = snap.Err.Error()
	}
	s.hub.Broadcast(Message{Type: "refresh", Payload: payload})
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"entry":        s.runtime.Entry.Title,
		"last_refresh": timePtr(s.runtime.Hub.LastRefresh()),
	})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/health", Method: "GET", Description: "Health check endpoint"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
	{Path: "/api/entities", Method: "GET", Description: "Rendered state of every entity"},
	{Path: "/api/entities/{id}", Method: "GET", Description: "Rendered state of one entity"},
	{Path: "/api/entities/{id}/turn_on", Method: "POST", Description: "Turn a pause switch on (resumes the queue)"},
	{Path: "/api/entities/{id}/turn_off", Method: "POST", Description: "Turn a pause switch off (pauses the queue)"},
	{Path: "/api/jobs", Method: "GET", Description: "Cached job snapshot and last refresh time"},
	{Path: "/api/jobs/{id}/pause", Method: "POST", Description: "Pause a job queue (?force=true)"},
	{Path: "/api/jobs/{id}/start", Method: "POST", Description: "Start a job queue (?force=true)"},
	{Path: "/api/refresh", Method: "POST", Description: "Refresh jobs from the server now"},
	{Path: "/api/services", Method: "GET", Description: "List registered services"},
	{Path: "/api/services/{name}", Method: "POST", Description: "Call a service with a JSON body"},
	{Path: "/api/ws", Method: "GET", Description: "WebSocket stream of entity states after each refresh"},
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	preferHTML := false
	accept := r.Header.Get("Accept")
	for _, part := range []string{"text/html", "*/*"} {
		if len(accept) >= len(part) && accept[:len(part)] == part {
			preferHTML = true
			break
		}
	}

	if preferHTML {
		// HTML format for browsers
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Immich Jobs API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>Immich Jobs API</h1>
    <p>%s</p>
`, s.runtime.Entry.Title)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "</body>\n</html>\n")
	} else {
		// Plain text format for terminal
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Immich Jobs API\n")
		fmt.Fprintf(w, "===============\n\n")
		fmt.Fprintf(w, "Available endpoints:\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-28s %s\n", ep.Method, ep.Path, ep.Description)
		}
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, integration.ErrMissingJobID), errors.Is(err, immich.ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, integration.ErrUnknownService), errors.Is(err, entity.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, immich.ErrCannotConnect),
		errors.Is(err, immich.ErrAPI),
		errors.Is(err, immich.ErrCommandRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
