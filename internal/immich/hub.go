package immich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"immichhub/internal/clock"

	"go.uber.org/zap"
)

const (
	headerAPIKey = "x-api-key"

	pathValidateToken = "/api/auth/validateToken"
	pathCurrentUser   = "/api/users/me"
	pathJobs          = "/api/jobs"

	// DefaultTimeout bounds every outbound request when no option overrides it
	DefaultTimeout = 10 * time.Second

	// maxErrorBody caps how much of a failed response is kept for logs and errors
	maxErrorBody = 4 << 10
)

// Hub is the only component that talks to the Immich server. It owns the
// credentials and the job snapshot.
type Hub struct {
	creds      Credentials
	base       *url.URL
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
	clock      clock.Clock

	jobs          atomic.Pointer[Jobs]
	lastRefresh   atomic.Int64
	authenticated atomic.Bool

	// base URL is parsed on first request
	baseErr  error
	baseOnce sync.Once
}

var _ JobSource = (*Hub)(nil)

// Option configures a Hub
type Option func(*Hub)

// WithTimeout overrides DefaultTimeout
func WithTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(h *Hub) {
		if c != nil {
			h.httpClient = c
		}
	}
}

// WithClock replaces the clock used for refresh timestamps
func WithClock(c clock.Clock) Option {
	return func(h *Hub) {
		if c != nil {
			h.clock = c
		}
	}
}

// NewHub creates a hub for the given server. No I/O happens until the
// first operation is called.
func NewHub(creds Credentials, logger *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		creds:      creds,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		logger:     logger.Named("hub"),
		clock:      clock.NewRealClock(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// IsAuthenticated reports whether Authenticate has succeeded at least once
func (h *Hub) IsAuthenticated() bool {
	return h.authenticated.Load()
}

// Authenticate validates the API key. A rejected key or any non-200 status
// yields false with a nil error; only transport failures return an error.
func (h *Hub) Authenticate(ctx context.Context) (bool, error) {
	const op = "authenticate"

	status, body, err := h.do(ctx, http.MethodPost, pathValidateToken, nil)
	if err != nil {
		return false, cannotConnect(op, err)
	}

	if status != http.StatusOK {
		h.logger.Error("Error from API", zap.String("op", op), zap.Int("status", status), zap.ByteString("body", body))
		return false, nil
	}

	var result validateTokenResponse
	if err := json.Unmarshal(body, &result); err != nil || !result.AuthStatus {
		h.logger.Error("Error from API", zap.String("op", op), zap.ByteString("body", body))
		return false, nil
	}

	h.authenticated.Store(true)
	return true, nil
}

// GetCurrentUser fetches the profile of the user owning the API key
func (h *Hub) GetCurrentUser(ctx context.Context) (*UserInfo, error) {
	const op = "get current user"

	var user UserInfo
	if err := h.getJSON(ctx, op, pathCurrentUser, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// RefreshJobs fetches every job and replaces the snapshot in one step. On
// failure the previous snapshot is left as it was.
func (h *Hub) RefreshJobs(ctx context.Context) error {
	const op = "refresh jobs"

	var payload map[string]jobPayload
	if err := h.getJSON(ctx, op, pathJobs, &payload); err != nil {
		return err
	}

	jobs := make(Jobs, len(payload))
	for name, p := range payload {
		jobs[name] = p.toStatus(name)
	}

	h.jobs.Store(&jobs)
	h.lastRefresh.Store(h.clock.Now().UnixNano())

	h.logger.Debug("Jobs refreshed", zap.Int("count", len(jobs)))
	return nil
}

// GetJobs returns the job snapshot. With useCache false, or while the
// snapshot is still empty, it refreshes first.
func (h *Hub) GetJobs(ctx context.Context, useCache bool) (Jobs, error) {
	if !useCache || h.snapshot() == nil {
		if err := h.RefreshJobs(ctx); err != nil {
			return nil, err
		}
	}
	return h.snapshot().Clone(), nil
}

// SendJobCommand sends a pause or start command to one job queue. It does
// not refresh the snapshot; callers that need the new state must refresh.
func (h *Hub) SendJobCommand(ctx context.Context, jobID string, cmd Command, force bool) (bool, error) {
	const op = "send job command"

	if !cmd.Valid() {
		return false, fmt.Errorf("%s: %w: %q", op, ErrInvalidCommand, cmd)
	}

	body, err := json.Marshal(jobCommandRequest{Command: cmd, Force: force})
	if err != nil {
		return false, fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}

	status, respBody, err := h.do(ctx, http.MethodPut, pathJobs+"/"+url.PathEscape(jobID), body)
	if err != nil {
		return false, cannotConnect(op, err)
	}

	if status != http.StatusOK {
		h.logger.Error("Error from API",
			zap.String("op", op),
			zap.String("job", jobID),
			zap.String("command", string(cmd)),
			zap.Int("status", status),
			zap.ByteString("body", respBody))
		return false, nil
	}

	h.logger.Info("Job command accepted",
		zap.String("job", jobID),
		zap.String("command", string(cmd)),
		zap.Bool("force", force))
	return true, nil
}

// Snapshot returns a copy of the last stored jobs without any I/O. It is
// empty, not nil, before the first successful refresh.
func (h *Hub) Snapshot() Jobs {
	if p := h.jobs.Load(); p != nil {
		return p.Clone()
	}
	return Jobs{}
}

// LastRefresh returns when the snapshot was last replaced, or the zero time
func (h *Hub) LastRefresh() time.Time {
	ns := h.lastRefresh.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (h *Hub) snapshot() Jobs {
	p := h.jobs.Load()
	if p == nil || len(*p) == 0 {
		return nil
	}
	return *p
}

func (h *Hub) getJSON(ctx context.Context, op, path string, out interface{}) error {
	status, body, err := h.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return cannotConnect(op, err)
	}

	if status != http.StatusOK {
		h.logger.Error("Error from API", zap.String("op", op), zap.Int("status", status), zap.ByteString("body", body))
		return &APIError{Op: op, StatusCode: status, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		h.logger.Error("Failed to decode API response", zap.String("op", op), zap.Error(err))
		return &APIError{Op: op, StatusCode: status, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// do performs one request and reads the whole body. A returned error is
// always a transport failure; HTTP statuses are reported to the caller.
func (h *Hub) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	endpoint, err := h.resolve(path)
	if err != nil {
		return 0, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerAPIKey, h.creds.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.logger.Error("Error connecting to the API", zap.String("url", endpoint), zap.Error(err))
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && len(respBody) > maxErrorBody {
		respBody = respBody[:maxErrorBody]
	}
	return resp.StatusCode, respBody, nil
}

// resolve joins an absolute API path onto the base URL, replacing any path
// the base URL carries
func (h *Hub) resolve(path string) (string, error) {
	h.baseOnce.Do(func() {
		h.base, h.baseErr = url.Parse(h.creds.BaseURL)
		if h.baseErr == nil && (h.base.Scheme == "" || h.base.Host == "") {
			h.baseErr = fmt.Errorf("base url %q is not absolute", h.creds.BaseURL)
		}
	})
	if h.baseErr != nil {
		return "", h.baseErr
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid request path %q: %w", path, err)
	}
	return h.base.ResolveReference(ref).String(), nil
}
