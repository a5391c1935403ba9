// Package testutil holds filesystem fixtures shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/require"
)

// WriteTree creates files under root. Keys are slash-separated paths relative
// to root; a key ending in "/" creates an empty directory.
func WriteTree(t *testing.T, fsys billy.Filesystem, root string, files map[string]string) {
	t.Helper()

	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if strings.HasSuffix(rel, "/") {
			require.NoError(t, fsys.MkdirAll(p, 0o755), "mkdir %s", p)
			continue
		}
		require.NoError(t, fsys.MkdirAll(filepath.Dir(p), 0o755), "mkdir %s", filepath.Dir(p))
		require.NoError(t, util.WriteFile(fsys, p, []byte(content), 0o644), "write %s", p)
	}
}

// ReadTree returns every file and directory below root in the same shape
// WriteTree accepts: directories end in "/" and map to "".
func ReadTree(t *testing.T, fsys billy.Filesystem, root string) map[string]string {
	t.Helper()

	out := make(map[string]string)
	err := util.Walk(fsys, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if info.IsDir() {
			out[rel+"/"] = ""
			return nil
		}
		data, err := util.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		out[rel] = string(data)
		return nil
	})
	require.NoError(t, err, "walk %s", root)
	return out
}

// Names returns the sorted base names directly inside dir.
func Names(t *testing.T, fsys billy.Filesystem, dir string) []string {
	t.Helper()

	infos, err := fsys.ReadDir(dir)
	require.NoError(t, err, "readdir %s", dir)

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names
}

// Exists reports whether path exists on fsys
func Exists(t *testing.T, fsys billy.Filesystem, path string) bool {
	t.Helper()

	_, err := fsys.Stat(path)
	if err == nil {
		return true
	}
	require.ErrorIs(t, err, os.ErrNotExist, "stat %s", path)
	return false
}
