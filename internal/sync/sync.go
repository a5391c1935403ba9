package sync

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/schaermu/treesyncd/internal/diff"
	"github.com/schaermu/treesyncd/internal/hostfs"
	"github.com/schaermu/treesyncd/internal/tree"
)

const (
	dirPerm    = 0755
	tempPrefix = ".treesyncd-tmp-"
)

var errNotDirectory = errors.New("not a directory")

// Engine makes a destination tree match a source tree
type Engine struct {
	fs     billy.Filesystem
	walker *tree.Walker
	logger *slog.Logger
}

// NewEngine creates a new sync engine operating on fsys. Source and
// destination paths passed to Sync are resolved by fsys.
func NewEngine(fsys billy.Filesystem, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		fs:     fsys,
		walker: tree.NewWalker(fsys),
		logger: logger,
	}
}

// Sync makes destination match source on the host filesystem. A nil opts
// means DefaultOptions.
func Sync(source, destination string, opts *Options) error {
	_, err := NewEngine(hostfs.New(), nil).Sync(source, destination, opts)
	return err
}

// Validate checks the top-level arguments before any filesystem access
func Validate(source, destination string) error {
	if source == "" {
		return ErrMissingSource
	}
	if destination == "" {
		return ErrMissingDestination
	}
	return nil
}

// run carries the state of one Sync call through the traversal
type run struct {
	opts   Options
	result *Result
}

// Sync makes destination match source. Directories are processed depth
// first, one level at a time. The first filesystem or hook error aborts the
// run; what was applied before it stays applied.
func (e *Engine) Sync(source, destination string, opts *Options) (*Result, error) {
	if err := Validate(source, destination); err != nil {
		return nil, err
	}

	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}

	e.logger.Info("starting sync",
		"source", source,
		"destination", destination,
		"recursive", !o.NonRecursive,
		"ignore", o.Ignore.Kind().String(),
		"dry_run", o.DryRun)

	root, err := e.walker.Stat(source)
	if err != nil {
		return nil, fsError("stat", source, err)
	}
	if !root.IsDir() {
		return nil, fsError("stat", source, errNotDirectory)
	}

	r := &run{opts: o, result: &Result{DryRun: o.DryRun}}
	if err := e.syncDir(r, source, destination, false); err != nil {
		e.logger.Error("sync aborted", "error", err)
		return r.result, err
	}

	e.logger.Info("sync completed",
		"add", r.result.Added,
		"update", r.result.Updated,
		"delete", r.result.Deleted,
		"skip", r.result.Skipped,
		"directories", r.result.Directories,
		"dry_run", o.DryRun)

	return r.result, nil
}

// syncDir processes one directory pair. fresh marks a destination that was
// just created (or would be, in dry-run mode) so it has nothing to list.
func (e *Engine) syncDir(r *run, srcDir, dstDir string, fresh bool) error {
	r.result.Directories++

	if !r.opts.DryRun {
		if err := e.fs.MkdirAll(dstDir, dirPerm); err != nil {
			return fsError("mkdir", dstDir, err)
		}
	}

	src, err := e.walker.List(srcDir)
	if err != nil {
		return fsError("readdir", srcDir, err)
	}

	var dst []tree.Entry
	if !fresh {
		dst, err = e.walker.ListIfExists(dstDir)
		if err != nil {
			return fsError("readdir", dstDir, err)
		}
	}

	actions := diff.Classify(diff.Pair{SourceDir: srcDir, DestDir: dstDir}, src, dst, r.opts.Ignore, !r.opts.NonRecursive)

	e.logger.Debug("visiting directory",
		"source", srcDir,
		"dest", dstDir,
		"source_entries", len(src),
		"dest_entries", len(dst),
		"actions", len(actions))

	for _, a := range actions {
		if err := e.apply(r, a); err != nil {
			return err
		}
	}

	return nil
}

// apply executes one action, calling the hooks around the mutation
func (e *Engine) apply(r *run, a diff.Action) error {
	switch a.Kind {
	case diff.Skip:
		r.result.record(a.Kind)
		e.logger.Debug("skipping", "source", a.SourcePath, "kind", a.Entry.String())
		return nil
	case diff.Recurse:
		return e.syncDir(r, a.SourcePath, a.DestPath, false)
	}

	r.result.record(a.Kind)
	populate := a.Kind == diff.Add && a.Entry == tree.Directory

	if r.opts.DryRun {
		e.logger.Info("[dry-run] would "+a.Kind.String(),
			"kind", a.Entry.String(),
			"source", a.SourcePath,
			"dest", a.DestPath)
		if populate {
			return e.syncDir(r, a.SourcePath, a.DestPath, true)
		}
		return nil
	}

	if err := r.opts.Hooks.before(a); err != nil {
		return err
	}
	if err := e.mutate(a); err != nil {
		return err
	}
	if err := r.opts.Hooks.after(a); err != nil {
		return err
	}

	if populate {
		return e.syncDir(r, a.SourcePath, a.DestPath, true)
	}
	return nil
}

func (e *Engine) mutate(a diff.Action) error {
	switch a.Kind {
	case diff.Add:
		e.logger.Info("adding "+a.Entry.String(), "source", a.SourcePath, "dest", a.DestPath)
		if a.Entry == tree.Directory {
			return e.mkdir(a.SourcePath, a.DestPath)
		}
		return e.copyFile(a.SourcePath, a.DestPath)
	case diff.Update:
		e.logger.Info("updating file", "source", a.SourcePath, "dest", a.DestPath)
		return e.copyFile(a.SourcePath, a.DestPath)
	case diff.Delete:
		e.logger.Info("deleting "+a.Entry.String(), "dest", a.DestPath)
		if err := util.RemoveAll(e.fs, a.DestPath); err != nil {
			return fsError("remove", a.DestPath, err)
		}
	}
	return nil
}

// mkdir creates dst with the permissions of the source directory
func (e *Engine) mkdir(src, dst string) error {
	info, err := e.fs.Stat(src)
	if err != nil {
		return fsError("stat", src, err)
	}
	if err := e.fs.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return fsError("mkdir", dst, err)
	}
	return nil
}

// copyFile copies src over dst. On the host filesystem the copy goes through
// a temporary file in the destination directory so dst is either the old or
// the new content; other backends are written in place.
func (e *Engine) copyFile(src, dst string) error {
	info, err := e.fs.Stat(src)
	if err != nil {
		return fsError("stat", src, err)
	}

	srcFile, err := e.fs.Open(src)
	if err != nil {
		return fsError("open", src, err)
	}
	defer func() {
		_ = srcFile.Close()
	}()

	if _, ok := e.fs.(*hostfs.FS); ok {
		return e.copyAtomic(srcFile, src, dst, info.Mode().Perm())
	}
	return e.copyInPlace(srcFile, src, dst, info.Mode().Perm())
}

func (e *Engine) copyAtomic(r io.Reader, src, dst string, perm os.FileMode) error {
	tmpPath := filepath.Join(filepath.Dir(dst), fmt.Sprintf("%s%016x", tempPrefix, rand.Uint64()))
	if err := e.write(r, src, tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm); err != nil {
		_ = e.fs.Remove(tmpPath)
		return err
	}

	if err := e.fs.Rename(tmpPath, dst); err != nil {
		_ = e.fs.Remove(tmpPath)
		return fsError("rename", dst, err)
	}

	return nil
}

// copyInPlace truncates and rewrites dst the way util.WriteFile does. memfs
// keeps a stale child table under a rename target, which breaks a later
// directory created at the same path.
func (e *Engine) copyInPlace(r io.Reader, src, dst string, perm os.FileMode) error {
	return e.write(r, src, dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
}

func (e *Engine) write(r io.Reader, src, path string, flag int, perm os.FileMode) error {
	f, err := e.fs.OpenFile(path, flag, perm)
	if err != nil {
		return fsError("create", path, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fsError("copy", src, err)
	}
	if err := f.Close(); err != nil {
		return fsError("close", path, err)
	}

	if ch, ok := e.fs.(billy.Change); ok {
		if err := ch.Chmod(path, perm); err != nil {
			return fsError("chmod", path, err)
		}
	}
	return nil
}
