package alma

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/apikeys"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/backup"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/quota"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

// Settings is the optional YAML client configuration. Only the base URL
// and a handful of governance knobs are tunable; the Alma rate and budget
// limits default to the documented service values.
//
//	base_url: https://api-na.hosted.exlibrisgroup.com/almaws/v1
//	backup_root: /var/lib/alma/records
//	timeout: 45s
//	max_network_tries: 3
//	halt_threshold: 5000
type Settings struct {
	BaseURL         string `yaml:"base_url"`
	BackupRoot      string `yaml:"backup_root"`
	Timeout         string `yaml:"timeout"`
	MaxNetworkTries int    `yaml:"max_network_tries"`
	HaltThreshold   int    `yaml:"halt_threshold"`
}

// LoadSettings reads a YAML settings file.
func LoadSettings(fs afero.Fs, path string) (*Settings, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("alma: failed to read settings %s: %w", path, err)
	}
	var s Settings
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("alma: failed to parse settings %s: %w", path, err)
	}
	if s.Timeout != "" {
		if _, err := time.ParseDuration(s.Timeout); err != nil {
			return nil, fmt.Errorf("alma: invalid timeout %q: %w", s.Timeout, err)
		}
	}
	return &s, nil
}

// ClientConfig builds a Config from the settings, constructing the
// governor, executor and backup store accordingly. Settings constructed
// directly rather than through LoadSettings are re-validated here.
func (s *Settings) ClientConfig(registry *apikeys.Registry, logger hclog.Logger) (Config, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	gov := quota.New(quota.Config{
		HaltThreshold: s.HaltThreshold,
		Logger:        logger,
	})

	var timeout time.Duration
	if s.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(s.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("alma: invalid timeout %q: %w", s.Timeout, err)
		}
	}
	exec := request.New(gov, request.Config{
		MaxNetworkTries: s.MaxNetworkTries,
		Timeout:         timeout,
		Logger:          logger,
	})

	backups := backup.NewStore(backup.Config{Root: s.BackupRoot, Logger: logger})

	return Config{
		BaseURL:  s.BaseURL,
		Registry: registry,
		Governor: gov,
		Executor: exec,
		Backups:  backups,
		Logger:   logger,
	}, nil
}
