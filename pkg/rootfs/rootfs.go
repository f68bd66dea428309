// Package rootfs binds the shared root directory to an afero filesystem and
// translates user supplied paths into paths inside it.
package rootfs

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Root is the virtual path of the shared root inside the filesystem
const Root = "/"

// New ensures root exists on disk and returns a filesystem confined to it
func New(root string) (afero.Fs, error) {
	if root == "" {
		return nil, fmt.Errorf("root directory is not specified")
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory %s: %w", root, err)
	}

	return afero.NewBasePathFs(afero.NewOsFs(), root), nil
}

// Resolve turns a user supplied relative path into an absolute path inside
// the filesystem. Leading slashes and ".." segments cannot climb above Root.
func Resolve(rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	return path.Join(Root, rel)
}

// Rel converts a resolved path back to a slash separated root-relative path
func Rel(p string) string {
	return strings.TrimPrefix(filepath.ToSlash(p), Root)
}

// IsRoot reports whether rel resolves to the root itself
func IsRoot(rel string) bool {
	return Resolve(rel) == Root
}
