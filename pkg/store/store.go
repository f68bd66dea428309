package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/denysvitali/sharedfiles-go/internal/models"
	"github.com/denysvitali/sharedfiles-go/pkg/archive"
	"github.com/denysvitali/sharedfiles-go/pkg/config"
	"github.com/denysvitali/sharedfiles-go/pkg/rootfs"
	"github.com/denysvitali/sharedfiles-go/pkg/tree"
)

var (
	// ErrNotFound is returned when a file to read does not exist
	ErrNotFound = errors.New("file not found")
	// ErrNotDirectory is returned when a folder operation targets a file
	ErrNotDirectory = errors.New("not a folder")
	// ErrRootPath is returned when an operation would remove the root itself
	ErrRootPath = errors.New("operation not allowed on the root folder")
)

// Store performs every filesystem operation of the file manager against a
// single shared root
type Store struct {
	root      string
	scratch   string
	fs        afero.Fs
	lister    *tree.Lister
	builder   *archive.Builder
	logger    *logrus.Logger
	tracer    trace.Tracer
	startTime time.Time
}

// New creates the root directory if needed and returns a store over it
func New(cfg *config.Config, logger *logrus.Logger) (*Store, error) {
	fs, err := rootfs.New(cfg.Server.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return NewWithFs(fs, cfg, logger), nil
}

// NewWithFs creates a store over an existing filesystem whose root is the
// shared root
func NewWithFs(fs afero.Fs, cfg *config.Config, logger *logrus.Logger) *Store {
	scratch := cfg.Server.ScratchFile
	if scratch == "" {
		scratch = config.DefaultScratchFile
	}

	return &Store{
		root:    cfg.Server.Root,
		scratch: scratch,
		fs:      fs,
		lister:  tree.New(fs, scratch),
		builder: archive.New(fs, archive.Options{
			MaxEntries:       cfg.Archive.MaxEntries,
			MaxBytes:         cfg.Archive.MaxBytes,
			CompressionLevel: cfg.Archive.CompressionLevel,
			RootName:         filepath.Base(cfg.Server.Root),
		}, logger),
		logger:    logger,
		tracer:    otel.Tracer("sharedfiles"),
		startTime: time.Now(),
	}
}

// Root returns the absolute path of the shared root on disk
func (s *Store) Root() string {
	return s.root
}

// ScratchFile returns the reserved scratch file name
func (s *Store) ScratchFile() string {
	return s.scratch
}

// Uptime returns how long the store has existed
func (s *Store) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Tree lists the whole root
func (s *Store) Tree(ctx context.Context) ([]models.Entry, error) {
	return s.lister.List(ctx, "")
}

// Archive zips a folder below the root
func (s *Store) Archive(ctx context.Context, folder string) (*archive.Archive, error) {
	return s.builder.Build(ctx, folder)
}

// Upload writes content to name, creating parent folders as needed.
// An empty name is skipped.
func (s *Store) Upload(ctx context.Context, name string, content io.Reader) (int64, error) {
	_, span := s.tracer.Start(ctx, "upload_file")
	defer span.End()

	if name == "" {
		return 0, nil
	}

	if rootfs.IsRoot(name) {
		return 0, nil
	}

	resolved := rootfs.Resolve(name)
	span.SetAttributes(attribute.String("path", resolved))

	if err := s.fs.MkdirAll(path.Dir(resolved), 0755); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to create folder for %s: %w", name, err)
	}

	f, err := s.fs.OpenFile(resolved, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer f.Close()

	n, err := io.Copy(f, content)
	if err != nil {
		span.RecordError(err)
		return n, fmt.Errorf("failed to write %s: %w", name, err)
	}

	span.SetAttributes(attribute.Int64("size", n))
	s.logger.Debugf("Uploaded %s (%d bytes)", rootfs.Rel(resolved), n)
	return n, nil
}

// Open returns a regular file for reading along with its info
func (s *Store) Open(ctx context.Context, name string) (afero.File, os.FileInfo, error) {
	_, span := s.tracer.Start(ctx, "open_file")
	defer span.End()

	resolved := rootfs.Resolve(name)
	span.SetAttributes(attribute.String("path", resolved))

	info, err := s.fs.Stat(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		span.RecordError(err)
		return nil, nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	f, err := s.fs.Open(resolved)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, info, nil
}

// DeleteFile removes name if it is a file. Anything else is left alone.
func (s *Store) DeleteFile(ctx context.Context, name string) error {
	_, span := s.tracer.Start(ctx, "delete_file")
	defer span.End()

	resolved := rootfs.Resolve(name)
	span.SetAttributes(attribute.String("path", resolved))

	info, err := s.fs.Stat(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if info.IsDir() {
		return nil
	}

	if err := s.fs.Remove(resolved); err != nil && !errors.Is(err, os.ErrNotExist) {
		span.RecordError(err)
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}

	s.logger.Infof("Deleted file %s", rootfs.Rel(resolved))
	return nil
}

// DeleteFolder removes name and everything below it. A missing folder is not
// an error.
func (s *Store) DeleteFolder(ctx context.Context, name string) error {
	_, span := s.tracer.Start(ctx, "delete_folder")
	defer span.End()

	resolved := rootfs.Resolve(name)
	span.SetAttributes(attribute.String("path", resolved))

	if rootfs.IsRoot(name) {
		return ErrRootPath
	}

	info, err := s.fs.Stat(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, name)
	}

	if err := s.fs.RemoveAll(resolved); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}

	s.logger.Infof("Deleted folder %s", rootfs.Rel(resolved))
	return nil
}

// ReadText returns the scratch text, or "" if it was never written
func (s *Store) ReadText(ctx context.Context) (string, error) {
	_, span := s.tracer.Start(ctx, "read_text")
	defer span.End()

	content, err := afero.ReadFile(s.fs, rootfs.Resolve(s.scratch))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		span.RecordError(err)
		return "", fmt.Errorf("failed to read %s: %w", s.scratch, err)
	}
	return string(content), nil
}

// WriteText replaces the scratch text
func (s *Store) WriteText(ctx context.Context, content string) error {
	_, span := s.tracer.Start(ctx, "write_text")
	defer span.End()

	span.SetAttributes(attribute.Int("size", len(content)))

	if err := afero.WriteFile(s.fs, rootfs.Resolve(s.scratch), []byte(content), 0644); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to write %s: %w", s.scratch, err)
	}
	return nil
}

// DiskUsage reports usage of the filesystem holding the root
func (s *Store) DiskUsage() (models.DiskUsage, error) {
	usage, err := disk.Usage(s.root)
	if err != nil {
		return models.DiskUsage{}, err
	}
	return models.DiskUsage{
		Total:       usage.Total,
		Used:        usage.Used,
		Free:        usage.Free,
		UsedPercent: usage.UsedPercent,
	}, nil
}
