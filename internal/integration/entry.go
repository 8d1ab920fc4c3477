// Package integration wires a JobHub into a running integration instance:
// config entry validation, entity setup, periodic refresh and services.
package integration

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"immichhub/internal/config"
	"immichhub/internal/entity"
	"immichhub/internal/immich"

	"github.com/PuerkitoBio/purell"
	"go.uber.org/zap"
)

var (
	// ErrInvalidAuth is returned when the server rejects the API key
	ErrInvalidAuth = errors.New("invalid authentication")

	// ErrInvalidHost is returned for hosts that cannot be turned into a URL
	ErrInvalidHost = errors.New("invalid host")
)

// Flow error codes shown to the user, matching the config flow strings
const (
	FlowErrorCannotConnect = "cannot_connect"
	FlowErrorInvalidAuth   = "invalid_auth"
	FlowErrorUnknown       = "unknown"
)

// Options are the tunables of one entry
type Options struct {
	ScanInterval time.Duration
	Timeout      time.Duration
	Platforms    []entity.Platform
	IncludeJobs  []string
}

// Entry is one configured Immich server
type Entry struct {
	ID      string
	Title   string
	Host    string
	APIKey  string
	Options Options
}

// EntryFromConfig builds an entry from the loaded configuration. The title
// is filled in by ValidateInput.
func EntryFromConfig(cfg *config.Config) (Entry, error) {
	host, err := NormalizeHost(cfg.Host)
	if err != nil {
		return Entry{}, err
	}

	platforms := make([]entity.Platform, 0, len(cfg.Platforms))
	for _, p := range cfg.Platforms {
		platforms = append(platforms, entity.Platform(p))
	}

	return Entry{
		ID:     host,
		Host:   host,
		APIKey: cfg.APIKey,
		Options: Options{
			ScanInterval: cfg.ScanInterval,
			Timeout:      cfg.Timeout,
			Platforms:    platforms,
			IncludeJobs:  cfg.IncludeJobs,
		},
	}, nil
}

// HubFactory builds the hub for an entry
type HubFactory func(creds immich.Credentials, timeout time.Duration) immich.JobSource

// DefaultHubFactory builds real hubs logging through logger
func DefaultHubFactory(logger *zap.Logger) HubFactory {
	return func(creds immich.Credentials, timeout time.Duration) immich.JobSource {
		return immich.NewHub(creds, logger, immich.WithTimeout(timeout))
	}
}

// NormalizeHost turns user input like "Photos.Example.com:443/" into an
// absolute URL. A missing scheme defaults to https.
func NormalizeHost(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidHost)
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	normalized, err := purell.NormalizeURLString(s,
		purell.FlagsUsuallySafeGreedy|purell.FlagRemoveDuplicateSlashes)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidHost, err)
	}

	u, err := url.Parse(normalized)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidHost, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidHost, u.Scheme)
	}
	return normalized, nil
}

// FlowResult is what a successful validation stores in the entry
type FlowResult struct {
	Title  string
	Host   string
	APIKey string
	User   immich.UserInfo
}

// ValidateInput checks that host and apiKey reach a server that accepts
// the key, and derives the entry title from the key's owner.
func ValidateInput(ctx context.Context, factory HubFactory, host, apiKey string) (*FlowResult, error) {
	normalized, err := NormalizeHost(host)
	if err != nil {
		return nil, err
	}

	hub := factory(immich.Credentials{BaseURL: normalized, APIKey: apiKey}, immich.DefaultTimeout)

	ok, err := hub.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidAuth
	}

	user, err := hub.GetCurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	u, _ := url.Parse(normalized)
	return &FlowResult{
		Title:  fmt.Sprintf("%s @ %s", user.Name, u.Hostname()),
		Host:   normalized,
		APIKey: apiKey,
		User:   *user,
	}, nil
}

// FlowErrorCode maps a validation error to the code shown in the form
func FlowErrorCode(err error) string {
	switch {
	case errors.Is(err, immich.ErrCannotConnect):
		return FlowErrorCannotConnect
	case errors.Is(err, ErrInvalidAuth):
		return FlowErrorInvalidAuth
	default:
		return FlowErrorUnknown
	}
}
