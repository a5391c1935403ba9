package sync

import (
	"github.com/schaermu/treesyncd/internal/diff"
	"github.com/schaermu/treesyncd/internal/ignore"
)

// Options configures one sync invocation. It is copied on entry and not
// changed while the sync runs.
type Options struct {
	// NonRecursive limits the sync to files at the top level; source
	// directories are not created. The zero value descends into every
	// subdirectory.
	NonRecursive bool
	// Ignore excludes source entries from being added, updated or descended
	// into. It does not protect destination entries from deletion.
	Ignore ignore.Filter
	// Hooks are called around each mutation
	Hooks Hooks
	// DryRun classifies and logs without touching the destination and
	// without calling hooks.
	DryRun bool
}

// DefaultOptions returns recursive sync with no ignore rules and no hooks
func DefaultOptions() Options {
	return Options{}
}

// Hooks are optional callbacks. Each Before hook and its matching After hook
// bracket exactly one filesystem mutation. A nil hook does nothing; a hook
// returning an error aborts the sync.
type Hooks struct {
	BeforeAddFile    func(sourcePath string) error
	AddFile          func(sourcePath, destPath string) error
	BeforeUpdateFile func(sourcePath string) error
	UpdateFile       func(sourcePath, destPath string) error
	BeforeDeleteFile func(destPath string) error
	// DeleteFile receives the path the entry would have in the source tree,
	// which does not exist.
	DeleteFile func(sourcePath, destPath string) error
}

func (h Hooks) before(a diff.Action) error {
	var (
		name string
		path string
		err  error
	)
	switch a.Kind {
	case diff.Add:
		if h.BeforeAddFile == nil {
			return nil
		}
		name, path = "BeforeAddFile", a.SourcePath
		err = h.BeforeAddFile(a.SourcePath)
	case diff.Update:
		if h.BeforeUpdateFile == nil {
			return nil
		}
		name, path = "BeforeUpdateFile", a.SourcePath
		err = h.BeforeUpdateFile(a.SourcePath)
	case diff.Delete:
		if h.BeforeDeleteFile == nil {
			return nil
		}
		name, path = "BeforeDeleteFile", a.DestPath
		err = h.BeforeDeleteFile(a.DestPath)
	}
	if err != nil {
		return &CallbackError{Hook: name, Path: path, Err: err}
	}
	return nil
}

func (h Hooks) after(a diff.Action) error {
	var (
		name string
		err  error
	)
	switch a.Kind {
	case diff.Add:
		if h.AddFile == nil {
			return nil
		}
		name = "AddFile"
		err = h.AddFile(a.SourcePath, a.DestPath)
	case diff.Update:
		if h.UpdateFile == nil {
			return nil
		}
		name = "UpdateFile"
		err = h.UpdateFile(a.SourcePath, a.DestPath)
	case diff.Delete:
		if h.DeleteFile == nil {
			return nil
		}
		name = "DeleteFile"
		err = h.DeleteFile(a.SourcePath, a.DestPath)
	}
	if err != nil {
		return &CallbackError{Hook: name, Path: a.DestPath, Err: err}
	}
	return nil
}

// Result counts what one sync did. In dry-run mode it counts what the sync
// would have done.
type Result struct {
	Added       int
	Updated     int
	Deleted     int
	Skipped     int
	Directories int
	DryRun      bool
}

// Changes returns the number of mutations
func (r *Result) Changes() int {
	return r.Added + r.Updated + r.Deleted
}

func (r *Result) record(kind diff.ActionKind) {
	switch kind {
	case diff.Add:
		r.Added++
	case diff.Update:
		r.Updated++
	case diff.Delete:
		r.Deleted++
	case diff.Skip:
		r.Skipped++
	}
}
