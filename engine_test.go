package weft_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlade/weft"
)

const (
	fixtureWidget = "package app\n\ntype Widget struct{}\n"
	fixtureRun    = "package app\n\nfunc Run() {\n\tvar w Widget\n\t_ = w\n}\n"
)

func writeFixture(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func newTestEngine(t *testing.T, opts ...weft.Option) *weft.Engine {
	t.Helper()
	engine, err := weft.New(append([]weft.Option{weft.WithJobs(2)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func findEntity(t *testing.T, res *weft.Result, name string, kind weft.EntityKind) weft.Entity {
	t.Helper()
	for _, set := range res.Files {
		for _, ent := range set.Entities {
			if ent.Name == name && ent.Kind == kind {
				return ent
			}
		}
	}
	t.Fatalf("entity %s (%s) not found", name, kind)
	return weft.Entity{}
}

func TestScanWorktree(t *testing.T) {
	t.Parallel()

	dir := writeFixture(t, map[string]string{
		"a.go":      fixtureWidget,
		"b.go":      fixtureRun,
		"README.md": "not source\n",
	})
	engine := newTestEngine(t)
	res, err := engine.Scan(context.Background(), weft.ScanOptions{Root: dir})
	require.NoError(t, err)

	require.Len(t, res.Files, 2, "unsupported files are not scanned")
	widget := findEntity(t, res, "Widget", "class")
	run := findEntity(t, res, "Run", "function")

	require.Len(t, res.Deps, 1, "one reference, one definition, one edge")
	assert.Equal(t, run.ID, res.Deps[0].Src)
	assert.Equal(t, widget.ID, res.Deps[0].Dst)
	assert.Equal(t, weft.DepKind("use"), res.Deps[0].Kind)
	assert.Equal(t, weft.ResolverNative, res.Deps[0].Origin)

	require.Len(t, res.FileDeps, 1)
	assert.Equal(t, "b.go", res.FileDeps[0].Src)
	assert.Equal(t, "a.go", res.FileDeps[0].Dst)
}

func TestScanRemovedDefinitionRemovesEdge(t *testing.T) {
	t.Parallel()

	dir := writeFixture(t, map[string]string{"b.go": fixtureRun})
	engine := newTestEngine(t)
	res, err := engine.Scan(context.Background(), weft.ScanOptions{Root: dir})
	require.NoError(t, err)
	assert.Empty(t, res.Deps, "no definition in scope, no edge")
}

func TestScanDeterministic(t *testing.T) {
	t.Parallel()

	dir := writeFixture(t, map[string]string{
		"a.go": fixtureWidget,
		"b.go": fixtureRun,
		"c.go": "package app\n\nfunc Other() {\n\tRun()\n}\n",
	})
	engine := newTestEngine(t)
	first, err := engine.Scan(context.Background(), weft.ScanOptions{Root: dir})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := engine.Scan(context.Background(), weft.ScanOptions{Root: dir})
		require.NoError(t, err)
		assert.Equal(t, first.Deps, again.Deps)
		assert.Equal(t, first.FileDeps, again.FileDeps)
	}
}

func TestScanPersistentCacheAcrossEngines(t *testing.T) {
	t.Parallel()

	dir := writeFixture(t, map[string]string{"a.go": fixtureWidget, "b.go": fixtureRun})
	cacheDir := t.TempDir()

	e1 := newTestEngine(t, weft.WithCacheDir(cacheDir))
	first, err := e1.Scan(context.Background(), weft.ScanOptions{Root: dir})
	require.NoError(t, err)

	e2 := newTestEngine(t, weft.WithCacheDir(cacheDir))
	second, err := e2.Scan(context.Background(), weft.ScanOptions{Root: dir})
	require.NoError(t, err)
	assert.Equal(t, first.Deps, second.Deps)
}

func TestScanEmptyRoot(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	res, err := engine.Scan(context.Background(), weft.ScanOptions{Root: t.TempDir()})
	require.NoError(t, err, "a root with no supported files is not an error")
	assert.Empty(t, res.Files)
	assert.Empty(t, res.Deps)
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func writeTool(t *testing.T, body string) []string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "tool.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return []string{"sh", script}
}

func TestExternalResolverWinsWhenFirst(t *testing.T) {
	t.Parallel()
	requireShell(t)

	tool := writeTool(t, `echo '{"deps":[{"src":{"file":"b.go","line":3},"dest":{"file":"a.go","line":3},"kind":"Call"}]}'`)
	dir := writeFixture(t, map[string]string{"a.go": fixtureWidget, "b.go": fixtureRun})
	engine := newTestEngine(t,
		weft.WithResolvers(weft.ResolverExternal, weft.ResolverNative),
		weft.WithExternalTool(tool...),
	)
	res, err := engine.Scan(context.Background(), weft.ScanOptions{Root: dir})
	require.NoError(t, err)

	widget := findEntity(t, res, "Widget", "class")
	run := findEntity(t, res, "Run", "function")
	require.Len(t, res.Deps, 1, "the native resolver must not also run for the language")
	assert.Equal(t, weft.DepKind("call"), res.Deps[0].Kind, "kind comes from the tool, not the rules")
	assert.Equal(t, weft.ResolverExternal, res.Deps[0].Origin)
	assert.Equal(t, run.ID, res.Deps[0].Src)
	assert.Equal(t, widget.ID, res.Deps[0].Dst)
}

func TestExternalResolverFailureDegradesToWarning(t *testing.T) {
	t.Parallel()
	requireShell(t)

	tool := writeTool(t, "exit 3")
	dir := writeFixture(t, map[string]string{"a.go": fixtureWidget, "b.go": fixtureRun})
	engine := newTestEngine(t,
		weft.WithResolvers(weft.ResolverExternal),
		weft.WithExternalTool(tool...),
	)
	res, err := engine.Scan(context.Background(), weft.ScanOptions{Root: dir})
	require.NoError(t, err, "a failing tool never fails the scan")
	assert.Empty(t, res.Deps)
	assert.True(t, hasWarning(res, "resolver-failure"))
}

func TestExternalResolverMalformedOutput(t *testing.T) {
	t.Parallel()
	requireShell(t)

	tool := writeTool(t, `echo 'this is not json'`)
	dir := writeFixture(t, map[string]string{"a.go": fixtureWidget})
	engine := newTestEngine(t,
		weft.WithResolvers(weft.ResolverExternal),
		weft.WithExternalTool(tool...),
	)
	res, err := engine.Scan(context.Background(), weft.ScanOptions{Root: dir})
	require.NoError(t, err)
	assert.Empty(t, res.Deps)
	assert.True(t, hasWarning(res, "resolver-failure"))
}

func TestExternalWithoutToolFallsBackToNative(t *testing.T) {
	t.Parallel()

	dir := writeFixture(t, map[string]string{"a.go": fixtureWidget, "b.go": fixtureRun})
	engine := newTestEngine(t, weft.WithResolvers(weft.ResolverExternal, weft.ResolverNative))
	res, err := engine.Scan(context.Background(), weft.ScanOptions{Root: dir})
	require.NoError(t, err)
	assert.Len(t, res.Deps, 1, "native still resolves")
	assert.True(t, hasWarning(res, "resolver-unavailable"))
}

func TestConcurrentScansKeepSeparateWarnings(t *testing.T) {
	t.Parallel()

	// With external configured but no tool, scanning files warns
	// resolver-unavailable; scanning an empty root warns nothing. Run both
	// against one engine at once: neither scan's warnings may reach the
	// other's result.
	withFiles := writeFixture(t, map[string]string{"a.go": fixtureWidget, "b.go": fixtureRun})
	empty := t.TempDir()
	engine := newTestEngine(t, weft.WithResolvers(weft.ResolverExternal, weft.ResolverNative))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.Scan(context.Background(), weft.ScanOptions{Root: withFiles})
			assert.NoError(t, err)
			assert.True(t, hasWarning(res, "resolver-unavailable"))
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.Scan(context.Background(), weft.ScanOptions{Root: empty})
			assert.NoError(t, err)
			assert.Empty(t, res.Warnings, "an empty scan collects no warnings of its own")
		}()
	}
	wg.Wait()
}

func TestNewRejectsUnknownResolver(t *testing.T) {
	t.Parallel()
	_, err := weft.New(weft.WithResolvers("telepathy"))
	assert.Error(t, err)
}

func hasWarning(res *weft.Result, code string) bool {
	for _, w := range res.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}
