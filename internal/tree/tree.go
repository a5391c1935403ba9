// Package tree lists one directory level at a time on a billy filesystem.
package tree

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"

	"github.com/schaermu/treesyncd/internal/ignore"
)

// Kind distinguishes files from directories. Anything that is not a
// directory (regular files, symlinks, devices) is treated as a File.
type Kind int

const (
	File Kind = iota
	Directory
)

// String returns "file" or "directory"
func (k Kind) String() string {
	if k == Directory {
		return "directory"
	}
	return "file"
}

// Entry is one object found while listing a directory
type Entry struct {
	Name string      // base name, unique within its parent
	Kind Kind        // file or directory
	Path string      // full path on the side it was listed from
	Mode os.FileMode // permission and type bits as reported by the filesystem
}

// IsDir reports whether the entry is a directory
func (e Entry) IsDir() bool {
	return e.Kind == Directory
}

// Walker lists directories on a filesystem
type Walker struct {
	FS billy.Filesystem
}

// NewWalker creates a Walker on fsys
func NewWalker(fsys billy.Filesystem) *Walker {
	return &Walker{FS: fsys}
}

// List returns the entries directly inside dir, in the order the filesystem
// reports them. A missing dir is an error.
func (w *Walker) List(dir string) ([]Entry, error) {
	infos, err := w.FS.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		kind := File
		if info.IsDir() {
			kind = Directory
		}
		entries = append(entries, Entry{
			Name: info.Name(),
			Kind: kind,
			Path: filepath.Join(dir, info.Name()),
			Mode: info.Mode(),
		})
	}

	return entries, nil
}

// ListIfExists behaves like List but returns an empty listing when dir does
// not exist. Destination levels that have not been created yet are expected.
func (w *Walker) ListIfExists(dir string) ([]Entry, error) {
	entries, err := w.List(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return entries, err
}

// Stat returns the entry for path itself
func (w *Walker) Stat(path string) (Entry, error) {
	info, err := w.FS.Stat(path)
	if err != nil {
		return Entry{}, err
	}

	kind := File
	if info.IsDir() {
		kind = Directory
	}
	return Entry{
		Name: filepath.Base(path),
		Kind: kind,
		Path: path,
		Mode: info.Mode(),
	}, nil
}

// Prune drops the entries of dir that filter ignores. The input slice is not
// modified.
func Prune(dir string, entries []Entry, filter ignore.Filter) []Entry {
	if filter.Kind() == ignore.KindNone {
		return entries
	}

	kept := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if filter.ShouldIgnore(dir, e.Name) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}
