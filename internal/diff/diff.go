// Package diff classifies the entries of a source and a destination
// directory into sync actions.
package diff

import (
	"path/filepath"

	"github.com/samber/lo"

	"github.com/schaermu/treesyncd/internal/ignore"
	"github.com/schaermu/treesyncd/internal/tree"
)

// ActionKind is the decision taken for one name
type ActionKind int

const (
	Skip ActionKind = iota
	Add
	Update
	Delete
	Recurse
)

// String returns the lower-case action name used in logs and metrics
func (k ActionKind) String() string {
	switch k {
	case Add:
		return "add"
	case Update:
		return "update"
	case Delete:
		return "delete"
	case Recurse:
		return "recurse"
	default:
		return "skip"
	}
}

// Action is the classification result for one name of a directory pair
type Action struct {
	Kind ActionKind
	Name string
	// Entry is the kind of the object the action applies to: the source
	// entry for Add, Update, Recurse and Skip, the destination entry for
	// Delete.
	Entry      tree.Kind
	SourcePath string
	DestPath   string
}

// Pair names the source and destination directory being compared
type Pair struct {
	SourceDir string
	DestDir   string
}

func (p Pair) action(kind ActionKind, name string, entry tree.Kind) Action {
	return Action{
		Kind:       kind,
		Name:       name,
		Entry:      entry,
		SourcePath: filepath.Join(p.SourceDir, name),
		DestPath:   filepath.Join(p.DestDir, name),
	}
}

// Classify compares one level of the pair. Source-driven actions come first
// in source order, followed by deletions of stale destination entries in
// destination order.
//
// A destination name is stale when no source entry of that name survives
// the ignore filter, so ignored names are removed from the destination
// rather than protected. A kind mismatch yields a Delete followed by an Add
// for the same name. When recursive is false, source directories are
// skipped and their destination counterparts are left alone.
func Classify(pair Pair, src, dst []tree.Entry, filter ignore.Filter, recursive bool) []Action {
	src = tree.Prune(pair.SourceDir, src, filter)

	dstByName := lo.KeyBy(dst, func(e tree.Entry) string { return e.Name })
	srcByName := lo.KeyBy(src, func(e tree.Entry) string { return e.Name })

	actions := make([]Action, 0, len(src)+len(dst))

	for _, s := range src {
		d, exists := dstByName[s.Name]

		if s.IsDir() && !recursive {
			actions = append(actions, pair.action(Skip, s.Name, s.Kind))
			continue
		}

		switch {
		case !exists:
			actions = append(actions, pair.action(Add, s.Name, s.Kind))
		case s.Kind != d.Kind:
			actions = append(actions,
				pair.action(Delete, s.Name, d.Kind),
				pair.action(Add, s.Name, s.Kind))
		case s.IsDir():
			actions = append(actions, pair.action(Recurse, s.Name, s.Kind))
		default:
			actions = append(actions, pair.action(Update, s.Name, s.Kind))
		}
	}

	for _, d := range dst {
		if _, ok := srcByName[d.Name]; ok {
			continue
		}
		actions = append(actions, pair.action(Delete, d.Name, d.Kind))
	}

	return actions
}

// Counts tallies actions by kind
func Counts(actions []Action) map[ActionKind]int {
	return lo.CountValuesBy(actions, func(a Action) ActionKind { return a.Kind })
}
