package branches

import (
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/pbi/internal/cmd/base"
)

func TestBranches(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	hash, err := wt.Commit("initial", &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	for _, name := range []string{"main", "rls"} {
		ref := plumbing.NewHashReference(plumbing.NewRemoteReferenceName("origin", name), hash)
		require.NoError(t, repo.Storer.SetReference(ref))
	}

	ui := cli.NewMockUi()
	c := &Command{Command: base.New(t.Context(), hclog.NewNullLogger(), ui)}

	require.Equal(t, 0, c.Run([]string{dir}), ui.ErrorWriter.String())
	assert.Equal(t, "main\nrls\n", ui.OutputWriter.String())
}

func TestBranchesOutsideRepository(t *testing.T) {
	ui := cli.NewMockUi()
	c := &Command{Command: base.New(t.Context(), hclog.NewNullLogger(), ui)}

	assert.Equal(t, 1, c.Run([]string{t.TempDir()}))
	assert.Contains(t, ui.ErrorWriter.String(), "error listing branches")
}
