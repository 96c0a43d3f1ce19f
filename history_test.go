package weft_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlade/weft"
)

type fixtureRepo struct {
	t   *testing.T
	dir string
}

func newGitFixture(t *testing.T) *fixtureRepo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	r := &fixtureRepo{t: t, dir: t.TempDir()}
	r.git("init", "-q", "-b", "main")
	r.git("config", "user.email", "test@example.com")
	r.git("config", "user.name", "test")
	return r
}

func (r *fixtureRepo) git(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", append([]string{"-C", r.dir}, args...)...)
	out, err := cmd.CombinedOutput()
	require.NoError(r.t, err, "git %v: %s", args, out)
	return string(out)
}

func (r *fixtureRepo) write(name, content string) {
	r.t.Helper()
	require.NoError(r.t, os.WriteFile(filepath.Join(r.dir, name), []byte(content), 0o644))
}

func (r *fixtureRepo) commit(msg string) {
	r.t.Helper()
	r.git("add", ".")
	r.git("commit", "-q", "-m", msg)
}

func stableID(t *testing.T, res *weft.Result, name string) string {
	t.Helper()
	return findEntity(t, res, name, "function").StableID
}

func countChanges(res *weft.Result, stable string) int {
	n := 0
	for _, c := range res.Changes {
		if c.Entity == stable {
			n++
		}
	}
	return n
}

func coChangeCount(res *weft.Result, a, b string) int {
	if b < a {
		a, b = b, a
	}
	for _, cc := range res.CoChanges {
		if cc.A == a && cc.B == b {
			return cc.Count
		}
	}
	return 0
}

// Linear history over two files:
//
//	c1: adds X and Y
//	c2: edits X
//	c3: edits X and Y
func newLinearFixture(t *testing.T) *fixtureRepo {
	t.Helper()
	r := newGitFixture(t)
	r.write("x.go", "package app\n\nfunc X() {\n}\n")
	r.write("y.go", "package app\n\nfunc Y() {\n}\n")
	r.commit("add both")
	r.write("x.go", "package app\n\nfunc X() {\n\t_ = 1\n}\n")
	r.commit("edit x")
	r.write("x.go", "package app\n\nfunc X() {\n\t_ = 2\n}\n")
	r.write("y.go", "package app\n\nfunc Y() {\n\t_ = 3\n}\n")
	r.commit("edit both")
	return r
}

func TestHistoryChangesAndCoChanges(t *testing.T) {
	t.Parallel()

	r := newLinearFixture(t)
	engine := newTestEngine(t)
	res, err := engine.Scan(context.Background(), weft.ScanOptions{Root: r.dir, History: true})
	require.NoError(t, err)

	x := stableID(t, res, "X")
	y := stableID(t, res, "Y")
	assert.NotEqual(t, x, y)

	assert.Equal(t, 3, countChanges(res, x), "X changed in every commit")
	assert.Equal(t, 2, countChanges(res, y), "Y changed in the first and last commit")
	assert.Equal(t, 2, coChangeCount(res, x, y), "X and Y changed together twice")
	assert.False(t, hasWarning(res, "commit-skipped"))
}

func TestHistoryExplicitRevisions(t *testing.T) {
	t.Parallel()

	r := newLinearFixture(t)
	c2 := strings.TrimSpace(r.git("rev-parse", "HEAD~1"))
	engine := newTestEngine(t)
	res, err := engine.Scan(context.Background(), weft.ScanOptions{
		Root:        r.dir,
		HistoryRevs: []string{c2},
	})
	require.NoError(t, err)

	x := stableID(t, res, "X")
	y := stableID(t, res, "Y")
	assert.Equal(t, 1, countChanges(res, x), "only the listed commit is mined")
	assert.Zero(t, countChanges(res, y))
	assert.Zero(t, coChangeCount(res, x, y))
}

func TestHistoryMergeUnionsParents(t *testing.T) {
	t.Parallel()

	r := newGitFixture(t)
	r.write("x.go", "package app\n\nfunc X() {\n}\n")
	r.write("y.go", "package app\n\nfunc Y() {\n}\n")
	r.commit("base")
	r.git("checkout", "-q", "-b", "side")
	r.write("y.go", "package app\n\nfunc Y() {\n\t_ = 1\n}\n")
	r.commit("side edits y")
	r.git("checkout", "-q", "main")
	r.write("x.go", "package app\n\nfunc X() {\n\t_ = 1\n}\n")
	r.commit("main edits x")
	r.git("merge", "-q", "--no-edit", "side")

	engine := newTestEngine(t)
	res, err := engine.Scan(context.Background(), weft.ScanOptions{Root: r.dir, History: true})
	require.NoError(t, err)

	x := stableID(t, res, "X")
	y := stableID(t, res, "Y")
	// The merge differs from each parent on the other branch's file, so it
	// records both entities.
	assert.Equal(t, 3, countChanges(res, x), "base, main edit, merge")
	assert.Equal(t, 3, countChanges(res, y), "base, side edit, merge")
	assert.GreaterOrEqual(t, coChangeCount(res, x, y), 2, "base and merge pair them")
}

func TestHistoryStableAcrossFileEdits(t *testing.T) {
	t.Parallel()

	r := newGitFixture(t)
	r.write("x.go", "package app\n\nfunc X() {\n}\n\nfunc Z() {\n}\n")
	r.commit("add")
	// Editing X moves Z but leaves its content and identity alone.
	r.write("x.go", "package app\n\nfunc X() {\n\t_ = 1\n}\n\nfunc Z() {\n}\n")
	r.commit("edit x only")

	engine := newTestEngine(t)
	res, err := engine.Scan(context.Background(), weft.ScanOptions{Root: r.dir, History: true})
	require.NoError(t, err)

	x := stableID(t, res, "X")
	z := stableID(t, res, "Z")
	assert.Equal(t, 2, countChanges(res, x))
	assert.Equal(t, 1, countChanges(res, z), "an unedited sibling is not a change")
}

func TestScanAtCommit(t *testing.T) {
	t.Parallel()

	r := newLinearFixture(t)
	engine := newTestEngine(t)
	res, err := engine.Scan(context.Background(), weft.ScanOptions{Root: r.dir, Commit: "HEAD~2"})
	require.NoError(t, err)

	require.Len(t, res.Files, 2)
	findEntity(t, res, "X", "function")
	findEntity(t, res, "Y", "function")
}

func TestHistoryRequiresRepository(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := writeFixture(t, map[string]string{"a.go": fixtureWidget})
	engine := newTestEngine(t)
	_, err := engine.Scan(context.Background(), weft.ScanOptions{Root: dir, History: true})
	assert.Error(t, err, "history needs a git repository at the root")
}
