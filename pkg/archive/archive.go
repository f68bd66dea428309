// Package archive packs a folder of the shared root into an in-memory zip.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/denysvitali/sharedfiles-go/internal/models"
	"github.com/denysvitali/sharedfiles-go/pkg/rootfs"
)

var (
	// ErrNotFound is returned when the requested folder does not exist
	ErrNotFound = errors.New("folder not found")
	// ErrNotDirectory is returned when the requested path is not a folder
	ErrNotDirectory = errors.New("not a folder")
	// ErrTooLarge is returned when a configured entry or size cap is exceeded
	ErrTooLarge = errors.New("archive too large")
)

// Options tune the builder. Zero limits mean unlimited.
type Options struct {
	MaxEntries       int
	MaxBytes         int64
	CompressionLevel int
	// RootName names the top-level folder when the root itself is archived
	RootName string
}

// Archive is a finished zip held in memory
type Archive struct {
	Name    string
	Entries int
	Reader  *bytes.Reader
}

// Size returns the length of the zip in bytes
func (a *Archive) Size() int64 {
	return a.Reader.Size()
}

// Summary describes the archive without its content
func (a *Archive) Summary() models.ArchiveSummary {
	return models.ArchiveSummary{Name: a.Name, Entries: a.Entries, Size: a.Size()}
}

// Builder creates archives from folders of a filesystem
type Builder struct {
	fs     afero.Fs
	opts   Options
	logger *logrus.Logger
	tracer trace.Tracer
}

// New creates a builder over fs
func New(fs afero.Fs, opts Options, logger *logrus.Logger) *Builder {
	if opts.RootName == "" {
		opts.RootName = "root"
	}
	return &Builder{
		fs:     fs,
		opts:   opts,
		logger: logger,
		tracer: otel.Tracer("sharedfiles"),
	}
}

// Build zips every regular file below folder. Entry names are relative to
// the parent of folder, so the folder's own name is the first segment.
func (b *Builder) Build(ctx context.Context, folder string) (*Archive, error) {
	ctx, span := b.tracer.Start(ctx, "build_archive")
	defer span.End()

	target := rootfs.Resolve(folder)
	span.SetAttributes(attribute.String("path", target))

	info, err := b.fs.Stat(target)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, folder)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", folder, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, folder)
	}

	base := path.Base(target)
	if rootfs.IsRoot(folder) {
		base = b.opts.RootName
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, b.compressor)

	var (
		entries int
		total   int64
	)
	walkErr := b.walk(ctx, target, []os.FileInfo{info}, func(p string, fi os.FileInfo) error {
		entries++
		total += fi.Size()
		if b.opts.MaxEntries > 0 && entries > b.opts.MaxEntries {
			return fmt.Errorf("%w: more than %d entries", ErrTooLarge, b.opts.MaxEntries)
		}
		if b.opts.MaxBytes > 0 && total > b.opts.MaxBytes {
			return fmt.Errorf("%w: more than %d bytes", ErrTooLarge, b.opts.MaxBytes)
		}

		rel, err := filepath.Rel(target, p)
		if err != nil {
			return err
		}
		return b.addFile(zw, p, path.Join(base, filepath.ToSlash(rel)), fi)
	})
	if walkErr != nil {
		_ = zw.Close()
		span.RecordError(walkErr)
		return nil, walkErr
	}

	if err := zw.Close(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}

	a := &Archive{
		Name:    base + ".zip",
		Entries: entries,
		Reader:  bytes.NewReader(buf.Bytes()),
	}
	span.SetAttributes(
		attribute.Int("archive.entries", a.Entries),
		attribute.Int64("archive.size", a.Size()),
	)
	b.logger.Debugf("Built archive %s: %d entries, %d bytes", a.Name, a.Entries, a.Size())
	return a, nil
}

// walk calls fn for every regular file below dir in lexical order. Symlinks
// are followed; ancestors holds the directories on the current branch so a
// link back to one of them is not entered twice.
func (b *Builder) walk(ctx context.Context, dir string, ancestors []os.FileInfo, fn func(string, os.FileInfo) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	infos, err := afero.ReadDir(b.fs, dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", rootfs.Rel(dir), err)
	}

	for _, fi := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}

		p := path.Join(dir, fi.Name())
		if fi.Mode()&os.ModeSymlink != 0 {
			target, err := b.fs.Stat(p)
			if err != nil {
				b.logger.Debugf("Skipping dangling link %s: %v", rootfs.Rel(p), err)
				continue
			}
			fi = target
		}

		switch {
		case fi.IsDir():
			if visited(fi, ancestors) {
				b.logger.Debugf("Skipping %s, it links back to a parent folder", rootfs.Rel(p))
				continue
			}
			if err := b.walk(ctx, p, append(ancestors, fi), fn); err != nil {
				return err
			}
		case fi.Mode().IsRegular():
			if err := fn(p, fi); err != nil {
				return err
			}
		default:
			// pipes, sockets and devices have no content to read
			b.logger.Debugf("Skipping %s (%s)", rootfs.Rel(p), fi.Mode().Type())
		}
	}
	return nil
}

func visited(info os.FileInfo, ancestors []os.FileInfo) bool {
	for _, a := range ancestors {
		if os.SameFile(info, a) {
			return true
		}
	}
	return false
}

func (b *Builder) addFile(zw *zip.Writer, src, name string, fi os.FileInfo) error {
	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: fi.ModTime(),
	}
	header.SetMode(fi.Mode())

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}

	f, err := b.fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", rootfs.Rel(src), err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (b *Builder) compressor(out io.Writer) (io.WriteCloser, error) {
	return flate.NewWriter(out, b.opts.CompressionLevel)
}
