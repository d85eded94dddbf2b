package gitchange

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRepo struct {
	t    *testing.T
	dir  string
	repo *git.Repository
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return &testRepo{t: t, dir: dir, repo: repo}
}

func (r *testRepo) write(name, content string) {
	r.t.Helper()

	path := filepath.Join(r.dir, name)
	require.NoError(r.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(r.t, os.WriteFile(path, []byte(content), 0o644))
}

func (r *testRepo) commit(msg string, names ...string) plumbing.Hash {
	r.t.Helper()

	wt, err := r.repo.Worktree()
	require.NoError(r.t, err)
	for _, n := range names {
		_, err := wt.Add(n)
		require.NoError(r.t, err)
	}

	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "Deployer", Email: "deploy@example.com", When: time.Now()},
	})
	require.NoError(r.t, err)
	return hash
}

func TestFileModified(t *testing.T) {
	r := newTestRepo(t)
	r.write("reports/Sales.pbix", "v1")
	r.write("models/Model.pbix", "v1")
	r.commit("initial", "reports/Sales.pbix", "models/Model.pbix")

	t.Run("RootCommitCountsAsAdded", func(t *testing.T) {
		changed, err := FileModified(filepath.Join(r.dir, "reports", "Sales.pbix"))
		require.NoError(t, err)
		assert.True(t, changed)
	})

	r.write("reports/Sales.pbix", "v2")
	r.commit("update sales", "reports/Sales.pbix")

	t.Run("Modified", func(t *testing.T) {
		changed, err := FileModified(filepath.Join(r.dir, "reports", "Sales.pbix"))
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("Untouched", func(t *testing.T) {
		changed, err := FileModified(filepath.Join(r.dir, "models", "Model.pbix"))
		require.NoError(t, err)
		assert.False(t, changed)
	})

	r.write("reports/New.pbix", "v1")
	r.commit("add new", "reports/New.pbix")

	t.Run("Added", func(t *testing.T) {
		changed, err := FileModified(filepath.Join(r.dir, "reports", "New.pbix"))
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = FileModified(filepath.Join(r.dir, "reports", "Sales.pbix"))
		require.NoError(t, err)
		assert.False(t, changed)
	})
}

func TestFileModifiedOutsideRepository(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Loose.pbix")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := FileModified(path)
	require.Error(t, err)
}

func TestRemoteBranches(t *testing.T) {
	r := newTestRepo(t)
	r.write("README", "hi")
	hash := r.commit("initial", "README")

	for _, name := range []string{"main", "feature/rls"} {
		ref := plumbing.NewHashReference(plumbing.NewRemoteReferenceName("origin", name), hash)
		require.NoError(t, r.repo.Storer.SetReference(ref))
	}
	upstream := plumbing.NewHashReference(plumbing.NewRemoteReferenceName("upstream", "main"), hash)
	require.NoError(t, r.repo.Storer.SetReference(upstream))
	head := plumbing.NewSymbolicReference(plumbing.NewRemoteHEADReferenceName("origin"), plumbing.NewRemoteReferenceName("origin", "main"))
	require.NoError(t, r.repo.Storer.SetReference(head))

	branches, err := RemoteBranches(filepath.Join(r.dir, "README"))
	require.NoError(t, err)
	assert.Equal(t, []string{"feature/rls", "main"}, branches)

	fromDir, err := RemoteBranches(r.dir)
	require.NoError(t, err)
	assert.Equal(t, branches, fromDir)
}
