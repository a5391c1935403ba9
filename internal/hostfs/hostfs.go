// Package hostfs exposes the native filesystem as a billy.Filesystem that
// resolves paths exactly as the os package does, relative paths included.
package hostfs

import (
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// FS is a billy.Filesystem over the host filesystem without a base
// directory.
type FS struct {
	osfs.ChrootOS
}

var _ billy.Filesystem = (*FS)(nil)

// New returns the host filesystem
func New() *FS {
	return &FS{}
}

// Chroot returns a filesystem confined to path.
//
//nolint:ireturn // signature is dictated by billy.Filesystem.
func (f *FS) Chroot(path string) (billy.Filesystem, error) {
	return osfs.New(path), nil
}

// Root returns the empty string: paths are not rebased.
func (f *FS) Root() string {
	return ""
}
