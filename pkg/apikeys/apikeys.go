// Package apikeys loads and indexes Alma API keys by institution zone,
// environment and API area.
//
// Keys are stored in a JSON file whose path is taken from the
// `alma_api_keys` environment variable:
//
//	{
//	  "apikeys": {
//	    "NZ": [
//	      {
//	        "API_Key": "l8xx...",
//	        "Name": "NZ users sandbox",
//	        "Supported_APIs": [
//	          {"Area": "Users", "Env": "S", "Permissions": "RW"}
//	        ]
//	      }
//	    ]
//	  },
//	  "zones": {"network": "NZ"}
//	}
//
// The registry is immutable after Load and safe for concurrent use.
package apikeys

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
)

// EnvKeysPath is the environment variable holding the path to the key file.
const EnvKeysPath = "alma_api_keys"

// Permission is the access level granted by a key for one API area.
type Permission string

const (
	// PermissionRead grants read-only access.
	PermissionRead Permission = "R"

	// PermissionReadWrite grants read and write access.
	PermissionReadWrite Permission = "RW"
)

// Sufficient reports whether a key holding permission p can back a request
// that needs permission required. Read-only keys never back write calls.
func (p Permission) Sufficient(required Permission) bool {
	if p == PermissionReadWrite {
		return true
	}
	return required == PermissionRead
}

// Environment selects the Alma deployment a key is valid for.
type Environment string

const (
	// EnvProduction is the productive Alma environment.
	EnvProduction Environment = "P"

	// EnvSandbox is the sandbox Alma environment.
	EnvSandbox Environment = "S"
)

// SupportedAPI describes one API area a key grants access to.
type SupportedAPI struct {
	Area        string      `mapstructure:"Area"`
	Env         Environment `mapstructure:"Env"`
	Permissions Permission  `mapstructure:"Permissions"`
}

// Credential is one API key together with the areas it supports.
// Credentials are immutable after load.
type Credential struct {
	Zone string
	Name string
	Key  string
	APIs []SupportedAPI
}

// Supports reports whether the credential can serve (env, area, perm).
func (c Credential) Supports(env Environment, area string, perm Permission) bool {
	for _, api := range c.APIs {
		if api.Area == area && api.Env == env && api.Permissions.Sufficient(perm) {
			return true
		}
	}
	return false
}

// Config configures registry loading.
type Config struct {
	// Path to the key file. Defaults to the value of the alma_api_keys
	// environment variable.
	Path string

	// Fs is the filesystem the key file is read from (default: OS fs).
	Fs afero.Fs

	// Logger (optional).
	Logger hclog.Logger
}

// Registry indexes credentials by institution zone. Read-only after Load.
type Registry struct {
	byZone  map[string][]Credential
	aliases map[string]string
	logger  hclog.Logger
}

// keysFile mirrors the on-disk JSON layout.
type keysFile struct {
	APIKeys map[string][]keyEntry `mapstructure:"apikeys"`
	Zones   map[string]string     `mapstructure:"zones"`
}

type keyEntry struct {
	APIKey        string         `mapstructure:"API_Key"`
	Name          string         `mapstructure:"Name"`
	SupportedAPIs []SupportedAPI `mapstructure:"Supported_APIs"`
}

// Load reads the key file and builds the registry. A missing environment
// variable, unreadable file or malformed content is a startup failure and
// returns *ConfigError.
func Load(cfg Config) (*Registry, error) {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	path := cfg.Path
	if path == "" {
		path = os.Getenv(EnvKeysPath)
	}
	if path == "" {
		return nil, &ConfigError{
			Err: fmt.Errorf("environment variable %s is not set", EnvKeysPath),
		}
	}

	raw, err := afero.ReadFile(cfg.Fs, path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("failed to read key file: %w", err)}
	}

	// Decode in two steps: a loose JSON parse followed by a strict
	// mapstructure decode, so unknown top-level keys in shared key files
	// do not break loading.
	var loose map[string]any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("failed to parse key file: %w", err)}
	}

	var file keysFile
	if err := mapstructure.Decode(loose, &file); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("failed to decode key file: %w", err)}
	}

	byZone := make(map[string][]Credential, len(file.APIKeys))
	var verr *multierror.Error
	for zone, entries := range file.APIKeys {
		for i, entry := range entries {
			cred := Credential{
				Zone: zone,
				Name: entry.Name,
				Key:  entry.APIKey,
				APIs: entry.SupportedAPIs,
			}
			if err := cred.validate(); err != nil {
				verr = multierror.Append(verr, fmt.Errorf("zone %s entry %d: %w", zone, i, err))
				continue
			}
			byZone[zone] = append(byZone[zone], cred)
		}
	}
	if err := verr.ErrorOrNil(); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	r := &Registry{
		byZone:  byZone,
		aliases: file.Zones,
		logger:  cfg.Logger.Named("apikeys"),
	}
	r.logger.Info("API key registry loaded", "path", path, "zones", len(byZone))
	return r, nil
}

// NewRegistry builds a registry from already-resolved credentials. Intended
// for embedders and tests that do not read a key file.
func NewRegistry(creds map[string][]Credential, aliases map[string]string) *Registry {
	byZone := make(map[string][]Credential, len(creds))
	for zone, entries := range creds {
		byZone[zone] = append([]Credential(nil), entries...)
	}
	return &Registry{
		byZone:  byZone,
		aliases: aliases,
		logger:  hclog.NewNullLogger(),
	}
}

// Resolve returns the first credential matching zone, environment, area and
// holding a sufficient permission. The zone is passed through the alias
// table first.
func (r *Registry) Resolve(zone string, env Environment, area string, perm Permission) (Credential, error) {
	code := r.ResolveZone(zone)
	for _, cred := range r.byZone[code] {
		if cred.Supports(env, area, perm) {
			return cred, nil
		}
	}
	return Credential{}, &CredentialNotFoundError{
		Zone:       code,
		Env:        env,
		Area:       area,
		Permission: perm,
	}
}

// ResolveZone maps a logical zone name to its institution code. Names
// without an alias pass through unchanged.
func (r *Registry) ResolveZone(name string) string {
	if code, ok := r.aliases[name]; ok {
		return code
	}
	return name
}

// Zones returns the sorted institution codes known to the registry,
// excluding the network zone.
func (r *Registry) Zones() []string {
	zones := make([]string, 0, len(r.byZone))
	for zone := range r.byZone {
		if zone == "NZ" {
			continue
		}
		zones = append(zones, zone)
	}
	sort.Strings(zones)
	return zones
}
