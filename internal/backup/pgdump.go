// Package backup snapshots the database with pg_dump and optionally uploads
// the dump to object storage.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

// Config identifies the database to dump and where the dump lands.
type Config struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	// Dir receives dump files; created on first use.
	Dir string
	// Filename is the fixed, overwritten dump name.
	Filename string
}

func (c Config) withDefaults() Config {
	if c.Dir == "" {
		c.Dir = "dumps"
	}
	if c.Filename == "" {
		c.Filename = "daily_latest.dump"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	return c
}

// Uploader pushes a finished dump file to remote storage.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Dumper creates database dumps via pg_dump.
type Dumper struct {
	cfg      Config
	uploader Uploader
	logger   *zap.Logger
	runner   commandRunner
}

// commandRunner isolates subprocess execution for testing.
type commandRunner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

// New constructs a Dumper. uploader may be nil to keep dumps local only.
func New(cfg Config, uploader Uploader, logger *zap.Logger) *Dumper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dumper{
		cfg:      cfg.withDefaults(),
		uploader: uploader,
		logger:   logger,
		runner:   runCommand,
	}
}

// Dump snapshots the database to the configured filename, overwriting any
// previous dump, and returns the local file path. The password travels via
// PGPASSWORD so it never appears in the process list.
func (d *Dumper) Dump(ctx context.Context) (string, error) {
	if err := os.MkdirAll(d.cfg.Dir, 0o750); err != nil {
		return "", fmt.Errorf("create dump dir: %w", err)
	}
	path := filepath.Join(d.cfg.Dir, d.cfg.Filename)

	args := []string{
		"-U", d.cfg.User,
		"-h", d.cfg.Host,
		"-p", strconv.Itoa(d.cfg.Port),
		"--dbname", d.cfg.Database,
		"--no-password",
		"-F", "c",
		"-b",
		"-f", path,
	}
	env := append(os.Environ(), "PGPASSWORD="+d.cfg.Password)

	d.logger.Info("creating database dump", zap.String("path", path))
	output, err := d.runner(ctx, env, "pg_dump", args...)
	if err != nil {
		return "", fmt.Errorf("pg_dump: %w: %s", err, bytes.TrimSpace(output))
	}
	d.logger.Info("database dump created", zap.String("path", path))

	if d.uploader != nil {
		uri, err := d.uploader.Upload(ctx, path)
		if err != nil {
			// The local dump exists; an upload failure is not fatal.
			d.logger.Error("dump upload failed", zap.Error(err))
		} else {
			d.logger.Info("dump uploaded", zap.String("uri", uri))
		}
	}
	return path, nil
}
