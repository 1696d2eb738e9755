// Package backup persists pre-mutation snapshots of Alma resources.
//
// One file is written per save, named by resource type, id and timestamp,
// with a two-digit version suffix for collisions. The store is append-only
// and write-only from the client's perspective; snapshots exist for
// recovery and audit, never for reads on the hot path.
package backup

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

// DefaultRoot is the default backup directory.
const DefaultRoot = "records"

// Record is an immutable snapshot of one resource's state, captured before
// a mutating call commits.
type Record struct {
	// Type of the resource, e.g. "bib", "holding", "item", "user",
	// "set", "job".
	Type string

	// Zone the resource belongs to.
	Zone string

	// ID of the resource.
	ID string

	// Timestamp taken strictly before the outbound mutating request.
	Timestamp time.Time

	// Payload is the serialized resource document.
	Payload []byte

	// Extension is "xml" or "json" depending on the wire format.
	Extension string
}

// Metrics receives store events.
type Metrics interface {
	BackupWritten(resourceType string)
}

// Config configures a Store.
type Config struct {
	// Root directory for snapshots (default: "records").
	Root string

	// Fs is the target filesystem (default: OS fs).
	Fs afero.Fs

	// Logger (optional).
	Logger hclog.Logger

	// Metrics (optional).
	Metrics Metrics
}

// Store writes backup records to the filesystem. Writes on distinct
// resources are independent; no cross-resource locking is needed.
type Store struct {
	root    string
	fs      afero.Fs
	logger  hclog.Logger
	metrics Metrics
}

// NewStore creates a Store.
func NewStore(cfg Config) *Store {
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	return &Store{
		root:    cfg.Root,
		fs:      cfg.Fs,
		logger:  cfg.Logger.Named("backup"),
		metrics: cfg.Metrics,
	}
}

// Write persists one snapshot and returns the final file path.
//
// Layout: <root>/<zone>_<id>/<type><id>_<timestamp>_<NN>.<ext>, where NN
// counts prior versions of the same resource in the directory.
func (s *Store) Write(rec Record) (string, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.Extension == "" {
		rec.Extension = "xml"
	}

	dir := filepath.Join(s.root, fmt.Sprintf("%s_%s", rec.Zone, rec.ID))
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("backup: failed to create directory %s: %w", dir, err)
	}

	base := fmt.Sprintf("%s%s", rec.Type, rec.ID)
	version, err := s.nextVersion(dir, base)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s_%s_%02d.%s",
		base, rec.Timestamp.Format("20060102T150405"), version, rec.Extension)
	path := filepath.Join(dir, name)

	if err := afero.WriteFile(s.fs, path, rec.Payload, 0o644); err != nil {
		return "", fmt.Errorf("backup: failed to write %s: %w", path, err)
	}

	s.logger.Info("backup written",
		"type", rec.Type, "zone", rec.Zone, "id", rec.ID, "path", path)
	if s.metrics != nil {
		s.metrics.BackupWritten(rec.Type)
	}
	return path, nil
}

// nextVersion counts existing snapshots of the resource in dir.
func (s *Store) nextVersion(dir, base string) (int, error) {
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return 0, fmt.Errorf("backup: failed to list %s: %w", dir, err)
	}
	count := 0
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), base) {
			count++
		}
	}
	return count + 1, nil
}
