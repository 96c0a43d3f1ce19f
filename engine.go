package weft

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/mlade/weft/internal/cache"
	"github.com/mlade/weft/internal/gitrepo"
	"github.com/mlade/weft/internal/langs"
	"github.com/mlade/weft/internal/model"
	"github.com/mlade/weft/internal/scopegraph"
	"github.com/mlade/weft/rules"
)

// Engine scans a repository: it extracts entities, resolves dependencies,
// and optionally mines commit history. One Engine can run many scans, even
// concurrently; its cache carries results across them.
type Engine struct {
	registry  *langs.Registry
	cache     *cache.Cache
	resolvers []string
	toolCmd   []string
	jobs      int
	log       *slog.Logger
}

// scanRun is the state of one Scan call: the shared engine plus that scan's
// warning collector. Scans on one engine may run concurrently; each keeps
// its own warnings.
type scanRun struct {
	*Engine

	mu       sync.Mutex
	warnings []model.Warning
}

// Resolver strategy names, in the vocabulary of the --resolvers flag.
const (
	ResolverNative   = "native"
	ResolverExternal = "external"
)

type config struct {
	rulesFS   fs.FS
	langs     []string
	cacheDir  string
	maxCached int
	resolvers []string
	toolCmd   []string
	jobs      int
	log       *slog.Logger
}

// Option configures an Engine.
type Option func(*config)

// WithLogger sets the engine's logger. The default discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithJobs bounds worker parallelism. Defaults to GOMAXPROCS.
func WithJobs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.jobs = n
		}
	}
}

// WithCacheDir persists analysis results under dir across runs. Without it
// the cache is memory-only.
func WithCacheDir(dir string) Option {
	return func(c *config) { c.cacheDir = dir }
}

// WithMaxCached bounds the in-memory cache tier.
func WithMaxCached(n int) Option {
	return func(c *config) { c.maxCached = n }
}

// WithRulesFS loads language definitions from fsys instead of the embedded
// ones.
func WithRulesFS(fsys fs.FS) Option {
	return func(c *config) { c.rulesFS = fsys }
}

// WithLanguages restricts scanning to the named languages.
func WithLanguages(names ...string) Option {
	return func(c *config) { c.langs = names }
}

// WithResolvers sets the resolver strategy order. For each language the
// first usable strategy wins; the rest are not consulted for that language.
func WithResolvers(order ...string) Option {
	return func(c *config) { c.resolvers = order }
}

// WithExternalTool sets the external resolver command line. The engine
// appends the language name and a directory holding the files to resolve.
func WithExternalTool(cmd ...string) Option {
	return func(c *config) { c.toolCmd = cmd }
}

// New creates an Engine.
func New(opts ...Option) (*Engine, error) {
	cfg := config{
		rulesFS:   rules.FS,
		resolvers: []string{ResolverNative},
		jobs:      runtime.GOMAXPROCS(0),
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.resolvers) == 0 {
		return nil, fmt.Errorf("no resolvers configured")
	}
	for _, r := range cfg.resolvers {
		if r != ResolverNative && r != ResolverExternal {
			return nil, fmt.Errorf("unknown resolver %q", r)
		}
	}

	registry, err := langs.Load(cfg.rulesFS, cfg.langs)
	if err != nil {
		return nil, fmt.Errorf("loading language definitions: %w", err)
	}
	var cacheOpts []cache.Option
	if cfg.maxCached > 0 {
		cacheOpts = append(cacheOpts, cache.WithMaxEntries(cfg.maxCached))
	}
	store, err := cache.Open(cfg.cacheDir, cacheOpts...)
	if err != nil {
		return nil, err
	}
	return &Engine{
		registry:  registry,
		cache:     store,
		resolvers: cfg.resolvers,
		toolCmd:   cfg.toolCmd,
		jobs:      cfg.jobs,
		log:       cfg.log,
	}, nil
}

// Close releases the engine's cache.
func (e *Engine) Close() error {
	return e.cache.Close()
}

// CleanCache drops all cached analysis results.
func (e *Engine) CleanCache(ctx context.Context) error {
	return e.cache.Clean(ctx)
}

// ScanOptions selects what to scan. With Commit empty the working tree under
// Root is scanned; otherwise the named commit's tree. History turns on
// mining of every commit reachable from Commit (or HEAD); HistoryRevs mines
// exactly the listed revisions instead.
type ScanOptions struct {
	Root        string
	Commit      string
	History     bool
	HistoryRevs []string
}

// Result is everything one scan produced. Entities are grouped per file;
// dependency endpoints are content-qualified entity ids, change and
// co-change records use stable ids.
type Result struct {
	Files     []*model.EntitySet
	Deps      []model.EntityDep
	FileDeps  []model.FileDep
	Changes   []model.Change
	CoChanges []model.CoChange
	Warnings  []model.Warning
}

// Scan runs one scan. Per-file and per-language problems become warnings on
// the Result; only configuration-level failures and context cancellation
// return an error.
func (e *Engine) Scan(ctx context.Context, opts ScanOptions) (*Result, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	run := &scanRun{Engine: e}
	for _, lang := range e.registry.Languages() {
		if lang.Err != nil {
			run.warn(model.Warning{Code: "language-disabled", Language: lang.Name, Message: lang.Err.Error()})
		}
	}

	var repo *gitrepo.Repo
	if opts.Commit != "" || opts.History || len(opts.HistoryRevs) > 0 {
		var err error
		repo, err = gitrepo.Open(ctx, root)
		if err != nil {
			return nil, err
		}
	}

	sources, err := run.listSources(ctx, repo, root, opts.Commit)
	if err != nil {
		return nil, err
	}

	files, err := run.analyze(ctx, sources)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, f := range files {
			e.cache.Release(f.key)
		}
	}()

	res := &Result{}
	for _, f := range files {
		res.Files = append(res.Files, f.set)
	}

	if err := run.resolveAll(ctx, files, res); err != nil {
		return nil, err
	}

	if opts.History || len(opts.HistoryRevs) > 0 {
		rev := opts.Commit
		if rev == "" {
			rev = "HEAD"
		}
		changes, cochanges, err := run.mineHistory(ctx, repo, rev, opts.HistoryRevs)
		if err != nil {
			return nil, err
		}
		res.Changes = changes
		res.CoChanges = cochanges
	}

	res.Warnings = run.takeWarnings()
	for _, w := range res.Warnings {
		e.log.Warn("scan warning",
			"code", w.Code, "file", w.File, "language", w.Language, "message", w.Message)
	}
	return res, nil
}

// sourceFile is one file selected for analysis. read fetches its content; on
// cache hits it is never called.
type sourceFile struct {
	path string
	cid  model.ContentID
	lang *langs.Language
	read func(context.Context) ([]byte, error)
}

// Directories never worth descending into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

func (s *scanRun) listSources(ctx context.Context, repo *gitrepo.Repo, root, commit string) ([]sourceFile, error) {
	if commit != "" {
		return s.listCommit(ctx, repo, commit)
	}
	return s.listWorktree(root)
}

func (s *scanRun) listWorktree(root string) ([]sourceFile, error) {
	specs := s.registry.Pathspecs()
	var out []sourceFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !matchesAny(specs, rel) {
			return nil
		}
		lang := s.registry.ForPath(rel)
		if lang == nil || lang.Err != nil {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			s.warn(model.Warning{Code: "unreadable", File: rel, Message: err.Error()})
			return nil
		}
		out = append(out, sourceFile{
			path: rel,
			cid:  model.HashBlob(content),
			lang: lang,
			read: func(context.Context) ([]byte, error) { return content, nil },
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	if len(out) == 0 {
		s.log.Info("no supported files found", "root", root)
	}
	return out, nil
}

func (e *Engine) listCommit(ctx context.Context, repo *gitrepo.Repo, commit string) ([]sourceFile, error) {
	id, err := repo.ResolveCommit(ctx, commit)
	if err != nil {
		return nil, err
	}
	entries, err := repo.ListTree(ctx, id)
	if err != nil {
		return nil, err
	}
	specs := e.registry.Pathspecs()
	var out []sourceFile
	for _, entry := range entries {
		if skipPath(entry.Path) || !matchesAny(specs, entry.Path) {
			continue
		}
		lang := e.registry.ForPath(entry.Path)
		if lang == nil || lang.Err != nil {
			continue
		}
		blob := entry.Blob
		out = append(out, sourceFile{
			path: entry.Path,
			cid:  model.ContentID(blob),
			lang: lang,
			read: func(ctx context.Context) ([]byte, error) { return repo.ReadBlob(ctx, blob) },
		})
	}
	return out, nil
}

func skipPath(path string) bool {
	for _, part := range strings.Split(path, "/") {
		if skipDirs[part] {
			return true
		}
	}
	return false
}

func matchesAny(specs []string, rel string) bool {
	for _, spec := range specs {
		if ok, _ := doublestar.Match(spec, rel); ok {
			return true
		}
	}
	return false
}

// fileResult is one analyzed file: its bound entity set plus the cached
// graph and paths, pinned in the cache until the scan finishes with them.
type fileResult struct {
	sourceFile
	key    cache.Key
	set    *model.EntitySet
	graph  *scopegraph.FileGraph
	failed bool
}

// analyze runs extraction for every source file through the cache, in
// parallel. Files whose analysis fails (now or in a cached earlier run) get
// a warning and an empty entity set.
func (s *scanRun) analyze(ctx context.Context, sources []sourceFile) ([]*fileResult, error) {
	results := make([]*fileResult, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.jobs)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			fr, err := s.analyzeOne(gctx, src)
			if err != nil {
				return err
			}
			results[i] = fr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *scanRun) analyzeOne(ctx context.Context, src sourceFile) (*fileResult, error) {
	key := cache.Key{ContentID: src.cid, Language: src.lang.Name, RulesVersion: src.lang.RulesVersion}
	snap, err := s.cache.Acquire(ctx, key, func(ctx context.Context) (*cache.Snapshot, error) {
		return s.buildSnapshot(ctx, src)
	})
	if err != nil {
		return nil, err
	}
	fr := &fileResult{sourceFile: src, key: key}
	if snap.Failure != "" {
		s.warn(model.Warning{Code: "build-failure", File: src.path, Language: src.lang.Name, Message: snap.Failure})
		fr.failed = true
		fr.set = model.BindEntities(src.path, src.cid, nil)
		fr.graph = &scopegraph.FileGraph{File: src.path, Graph: scopegraph.NewGraph()}
		return fr, nil
	}
	fr.set = model.BindEntities(src.path, src.cid, snap.Entities)
	fr.graph = &scopegraph.FileGraph{File: src.path, Graph: snap.Graph, Paths: snap.Paths}
	return fr, nil
}

// buildSnapshot is the cache miss path: parse, extract, build the scope
// graph, and reduce it to partial paths. Failures of the content itself are
// recorded in the snapshot rather than returned, so they cache like values.
func (e *Engine) buildSnapshot(ctx context.Context, src sourceFile) (*cache.Snapshot, error) {
	content, err := src.read(ctx)
	if err != nil {
		// Unreadable input is an environment problem, not a property of the
		// content; it must not be cached.
		return nil, fmt.Errorf("reading %s: %w", src.path, err)
	}
	tree, err := parseSource(ctx, src.lang, content)
	if err != nil {
		return &cache.Snapshot{Failure: err.Error()}, nil
	}
	defer tree.Close()

	e.log.Debug("analyzing", "file", src.path, "language", src.lang.Name)
	root := tree.RootNode()
	entities := extractEntities(src.lang, root, content)
	graph := scopegraph.BuildGraph(src.lang.Rules, root, content)
	paths := scopegraph.ComputePaths(graph)
	return &cache.Snapshot{Entities: entities, Graph: graph, Paths: paths}, nil
}

func (s *scanRun) warn(w model.Warning) {
	s.mu.Lock()
	s.warnings = append(s.warnings, w)
	s.mu.Unlock()
}

func (s *scanRun) takeWarnings() []model.Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.warnings
	s.warnings = nil
	sort.SliceStable(ws, func(i, j int) bool {
		if ws[i].Code != ws[j].Code {
			return ws[i].Code < ws[j].Code
		}
		return ws[i].File < ws[j].File
	})
	return ws
}
