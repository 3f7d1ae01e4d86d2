package passbundle

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// treeEntry is a file or directory found under a walked root.
type treeEntry struct {
	// Rel is the slash-separated path relative to the root.
	Rel string
	// Path is the filesystem path.
	Path string
	Dir  bool
}

// walkTree lists every directory and regular file below root using an
// explicit stack. Symbolic links are neither followed nor returned, and other
// non-regular files (sockets, devices) are skipped. The result is sorted by
// relative path so callers never depend on directory iteration order.
func walkTree(root string) ([]treeEntry, error) {
	var entries []treeEntry

	stack := []string{""}
	for len(stack) > 0 {
		rel := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		dir := filepath.Join(root, filepath.FromSlash(rel))
		children, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}

		for _, child := range children {
			childRel := path.Join(rel, child.Name())
			childPath := filepath.Join(dir, child.Name())

			switch mode := child.Type(); {
			case mode&fs.ModeSymlink != 0:
				continue
			case mode.IsDir():
				entries = append(entries, treeEntry{Rel: childRel, Path: childPath, Dir: true})
				stack = append(stack, childRel)
			case mode.IsRegular():
				entries = append(entries, treeEntry{Rel: childRel, Path: childPath})
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Rel < entries[j].Rel
	})

	return entries, nil
}
