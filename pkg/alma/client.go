// Package alma wires the credential registry, quota governor, request
// executor and backup store into a client, and provides the resource
// handle base that all Alma resource kinds build on.
//
// Construct one Client at process start and share it: the governor inside
// it is the single point of serialization for the process-wide call
// budget.
package alma

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/hashicorp/go-hclog"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/apikeys"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/backup"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/quota"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

// DefaultBaseURL is the European Alma API endpoint.
const DefaultBaseURL = "https://api-eu.hosted.exlibrisgroup.com/almaws/v1"

// Config configures a Client. Registry is required; every other
// collaborator is built with defaults when nil.
type Config struct {
	// BaseURL of the Alma API (default: DefaultBaseURL).
	BaseURL string

	// Registry resolves API keys. Required.
	Registry *apikeys.Registry

	// Governor gates all outbound calls. Default: quota.New with Alma
	// limits. Supply one instance when several clients must share a
	// call budget.
	Governor *quota.Governor

	// Executor issues requests. Default: request.New on the governor.
	Executor *request.Executor

	// Backups stores pre-mutation snapshots. Default: backup.NewStore
	// under "records".
	Backups *backup.Store

	// Logger (optional).
	Logger hclog.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Registry == nil {
		return fmt.Errorf("alma: registry is required")
	}
	if c.BaseURL != "" {
		if err := validation.Validate(c.BaseURL, is.URL); err != nil {
			return fmt.Errorf("alma: invalid base URL %q: %w", c.BaseURL, err)
		}
	}
	return nil
}

// Client mediates all access to the Alma API.
type Client struct {
	baseURL  string
	registry *apikeys.Registry
	governor *quota.Governor
	executor *request.Executor
	backups  *backup.Store
	logger   hclog.Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.Governor == nil {
		cfg.Governor = quota.New(quota.Config{Logger: cfg.Logger})
	}
	if cfg.Executor == nil {
		cfg.Executor = request.New(cfg.Governor, request.Config{Logger: cfg.Logger})
	}
	if cfg.Backups == nil {
		cfg.Backups = backup.NewStore(backup.Config{Logger: cfg.Logger})
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		registry: cfg.Registry,
		governor: cfg.Governor,
		executor: cfg.Executor,
		backups:  cfg.Backups,
		logger:   cfg.Logger.Named("alma"),
	}, nil
}

// Registry returns the credential registry.
func (c *Client) Registry() *apikeys.Registry { return c.registry }

// Governor returns the shared quota governor.
func (c *Client) Governor() *quota.Governor { return c.governor }

// url joins a resource path onto the base URL.
func (c *Client) url(path string) string {
	return c.baseURL + path
}
