// Package gitchange inspects the git repository enclosing a file.
package gitchange

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// FileModified reports whether the file at path was added or modified by
// the most recent commit of its repository. For a root commit every file it
// contains counts as added.
func FileModified(path string) (bool, error) {
	repo, rel, err := open(path)
	if err != nil {
		return false, err
	}

	head, err := repo.Head()
	if err != nil {
		return false, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return false, fmt.Errorf("failed to load commit %s: %w", head.Hash(), err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return false, fmt.Errorf("failed to load tree of %s: %w", commit.Hash, err)
	}

	if commit.NumParents() == 0 {
		_, err := tree.File(rel)
		if errors.Is(err, object.ErrFileNotFound) {
			return false, nil
		}
		return err == nil, err
	}

	parent, err := commit.Parent(0)
	if err != nil {
		return false, fmt.Errorf("failed to load parent of %s: %w", commit.Hash, err)
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return false, fmt.Errorf("failed to load tree of %s: %w", parent.Hash, err)
	}

	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return false, fmt.Errorf("failed to diff %s: %w", commit.Hash, err)
	}

	for _, change := range changes {
		if change.To.Name != rel {
			continue
		}
		action, err := change.Action()
		if err != nil {
			return false, err
		}
		if action == merkletrie.Insert || action == merkletrie.Modify {
			return true, nil
		}
	}
	return false, nil
}

// Remote is the remote whose branches RemoteBranches lists.
const Remote = "origin"

// RemoteBranches returns the names ("main") of the branches of Remote known
// to the repository enclosing path.
func RemoteBranches(path string) ([]string, error) {
	repo, _, err := open(path)
	if err != nil {
		return nil, err
	}

	refs, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("failed to list references: %w", err)
	}
	defer refs.Close()

	prefix := "refs/remotes/" + Remote + "/"
	var branches []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		if name, ok := strings.CutPrefix(ref.Name().String(), prefix); ok {
			branches = append(branches, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(branches)
	return branches, nil
}

// open returns the repository enclosing path and the slash-separated path
// of the file relative to the worktree root.
func open(path string) (*git.Repository, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", err
	}
	abs = resolve(abs)

	dir := abs
	if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
		dir = filepath.Dir(abs)
	}

	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, "", fmt.Errorf("no git repository encloses %s: %w", path, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, "", fmt.Errorf("repository of %s has no worktree: %w", path, err)
	}

	rel, err := filepath.Rel(resolve(wt.Filesystem.Root()), abs)
	if err != nil {
		return nil, "", err
	}
	return repo, filepath.ToSlash(rel), nil
}

func resolve(path string) string {
	if p, err := filepath.EvalSymlinks(path); err == nil {
		return p
	}
	// The file itself may be gone; resolve its directory instead.
	if dir, err := filepath.EvalSymlinks(filepath.Dir(path)); err == nil {
		return filepath.Join(dir, filepath.Base(path))
	}
	return path
}
