// Package tree builds the nested listing of the shared root.
package tree

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/denysvitali/sharedfiles-go/internal/models"
	"github.com/denysvitali/sharedfiles-go/pkg/rootfs"
)

// Lister walks a directory and describes it as nested entries
type Lister struct {
	fs       afero.Fs
	reserved string
	tracer   trace.Tracer
}

// New creates a lister. Entries named reserved are left out at every depth.
func New(fs afero.Fs, reserved string) *Lister {
	return &Lister{
		fs:       fs,
		reserved: reserved,
		tracer:   otel.Tracer("sharedfiles"),
	}
}

// List returns one entry per child of dir, recursing into directories.
// dir is relative to the root; a missing or unreadable directory is an error.
func (l *Lister) List(ctx context.Context, dir string) ([]models.Entry, error) {
	_, span := l.tracer.Start(ctx, "list_tree")
	defer span.End()

	resolved := rootfs.Resolve(dir)
	span.SetAttributes(attribute.String("path", resolved))

	info, err := l.fs.Stat(resolved)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list %s: %w", rootfs.Rel(resolved), err)
	}

	entries, err := l.list(resolved, []os.FileInfo{info})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("entries", Count(entries)))
	return entries, nil
}

// list follows symlinks. ancestors holds the directories on the current
// branch; a link back to one of them is listed without children.
func (l *Lister) list(dir string, ancestors []os.FileInfo) ([]models.Entry, error) {
	infos, err := afero.ReadDir(l.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", rootfs.Rel(dir), err)
	}

	entries := make([]models.Entry, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if name == l.reserved {
			continue
		}

		full := path.Join(dir, name)
		if info.Mode()&os.ModeSymlink != 0 {
			// a dangling link stays a file
			if target, err := l.fs.Stat(full); err == nil {
				info = target
			}
		}

		if !info.IsDir() {
			entries = append(entries, models.NewFileEntry(name, rootfs.Rel(full)))
			continue
		}

		var children []models.Entry
		if !visited(info, ancestors) {
			children, err = l.list(full, append(ancestors, info))
			if err != nil {
				return nil, err
			}
		}
		entries = append(entries, models.NewDirectoryEntry(name, rootfs.Rel(full), children))
	}

	return entries, nil
}

func visited(info os.FileInfo, ancestors []os.FileInfo) bool {
	for _, a := range ancestors {
		if os.SameFile(info, a) {
			return true
		}
	}
	return false
}

// Count counts all nodes in entries, directories included
func Count(entries []models.Entry) int {
	count := 0
	for _, e := range entries {
		count++
		if e.IsDir() {
			count += Count(e.Children)
		}
	}
	return count
}
