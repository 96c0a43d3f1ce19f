package weft

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mlade/weft/internal/cache"
	"github.com/mlade/weft/internal/gitrepo"
	"github.com/mlade/weft/internal/langs"
	"github.com/mlade/weft/internal/model"
)

// mineHistory walks the commit graph and records which entities each commit
// changed, then counts co-changes. Commits are scheduled dependency-aware: a
// commit is diffed only once all its in-set parents are done, and
// independent branches run in parallel. A commit whose objects cannot be
// read is skipped with a warning; its descendants still run.
func (s *scanRun) mineHistory(ctx context.Context, repo *gitrepo.Repo, rev string, revs []string) ([]model.Change, []model.CoChange, error) {
	var commits []gitrepo.Commit
	var err error
	if len(revs) > 0 {
		commits, err = repo.Commits(ctx, revs)
	} else {
		commits, err = repo.Log(ctx, rev)
	}
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("mining history", "commits", len(commits))

	nodes := make(map[string]*commitNode, len(commits))
	order := make([]*commitNode, 0, len(commits))
	for _, c := range commits {
		n := &commitNode{commit: c}
		nodes[c.ID] = n
		order = append(order, n)
	}
	for _, n := range order {
		for _, p := range n.commit.Parents {
			if pn, ok := nodes[p]; ok {
				n.pending++
				pn.children = append(pn.children, n)
			}
		}
	}

	ready := make(chan *commitNode, len(order))
	remaining := len(order)
	var schedMu sync.Mutex
	finish := func(n *commitNode) {
		schedMu.Lock()
		defer schedMu.Unlock()
		for _, c := range n.children {
			c.pending--
			if c.pending == 0 {
				ready <- c
			}
		}
		remaining--
		if remaining == 0 {
			close(ready)
		}
	}
	seeded := false
	for _, n := range order {
		if n.pending == 0 {
			ready <- n
			seeded = true
		}
	}
	if len(order) == 0 || !seeded {
		close(ready)
	}

	trees := &treeCache{repo: repo, trees: make(map[string]string, len(order))}
	for _, n := range order {
		trees.trees[n.commit.ID] = n.commit.Tree
	}

	changedBy := make(map[string][]string, len(order))
	var resMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	workers := max(s.jobs, 1)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case n, ok := <-ready:
					if !ok {
						return nil
					}
					ids, err := s.diffCommit(gctx, repo, n.commit, trees)
					if err != nil {
						if gctx.Err() != nil {
							return gctx.Err()
						}
						s.warn(model.Warning{
							Code:    "commit-skipped",
							Message: n.commit.ID + ": " + err.Error(),
						})
					} else if len(ids) > 0 {
						resMu.Lock()
						changedBy[n.commit.ID] = ids
						resMu.Unlock()
					}
					finish(n)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var changes []model.Change
	counts := make(map[[2]string]int)
	for _, c := range commits {
		ids := changedBy[c.ID]
		for _, id := range ids {
			changes = append(changes, model.Change{Commit: c.ID, Entity: id})
		}
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				counts[[2]string{ids[i], ids[j]}]++
			}
		}
	}
	model.SortChanges(changes)

	cochanges := make([]model.CoChange, 0, len(counts))
	for pair, n := range counts {
		cochanges = append(cochanges, model.CoChange{A: pair[0], B: pair[1], Count: n})
	}
	sort.Slice(cochanges, func(i, j int) bool {
		if cochanges[i].A != cochanges[j].A {
			return cochanges[i].A < cochanges[j].A
		}
		return cochanges[i].B < cochanges[j].B
	})
	return changes, cochanges, nil
}

type commitNode struct {
	commit   gitrepo.Commit
	pending  int
	children []*commitNode
}

// diffCommit compares a commit's entities against each parent and returns
// the sorted stable ids of entities that are new, edited, or moved relative
// to that parent; merge commits union over their parents. Root commits diff
// against the empty tree.
func (e *Engine) diffCommit(ctx context.Context, repo *gitrepo.Repo, c gitrepo.Commit, trees *treeCache) ([]string, error) {
	bases := []string{gitrepo.EmptyTree}
	if len(c.Parents) > 0 {
		bases = bases[:0]
		for _, p := range c.Parents {
			tree, err := trees.tree(ctx, p)
			if err != nil {
				return nil, err
			}
			bases = append(bases, tree)
		}
	}

	changed := make(map[string]bool)
	for _, base := range bases {
		entries, err := repo.DiffTrees(ctx, base, c.Tree)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			// Entities are recorded for what exists at the commit; deleted
			// files contribute nothing.
			if entry.NewBlob == "" || skipPath(entry.Path) {
				continue
			}
			lang := e.registry.ForPath(entry.Path)
			if lang == nil || lang.Err != nil {
				continue
			}
			if err := e.markChanged(ctx, repo, entry, lang, changed); err != nil {
				return nil, err
			}
		}
	}

	ids := make([]string, 0, len(changed))
	for id := range changed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (e *Engine) markChanged(ctx context.Context, repo *gitrepo.Repo, entry gitrepo.DiffEntry, lang *langs.Language, changed map[string]bool) error {
	newSet, newKey, err := e.entitySetAt(ctx, repo, entry.Path, entry.NewBlob, lang)
	if err != nil {
		return err
	}
	defer e.cache.Release(newKey)

	var oldSet *model.EntitySet
	if entry.OldBlob != "" {
		var oldKey cache.Key
		oldSet, oldKey, err = e.entitySetAt(ctx, repo, entry.Path, entry.OldBlob, lang)
		if err != nil {
			return err
		}
		defer e.cache.Release(oldKey)
	}

	for _, ent := range newSet.Entities {
		if oldSet != nil {
			if oi, ok := oldSet.ByStable(ent.StableID); ok && oldSet.Entities[oi].ContentHash == ent.ContentHash {
				continue
			}
		}
		changed[ent.StableID] = true
	}
	return nil
}

// entitySetAt loads the bound entity set of one blob through the cache. The
// returned key is pinned; the caller releases it.
func (e *Engine) entitySetAt(ctx context.Context, repo *gitrepo.Repo, path, blob string, lang *langs.Language) (*model.EntitySet, cache.Key, error) {
	src := sourceFile{
		path: path,
		cid:  model.ContentID(blob),
		lang: lang,
		read: func(ctx context.Context) ([]byte, error) { return repo.ReadBlob(ctx, blob) },
	}
	key := cache.Key{ContentID: src.cid, Language: lang.Name, RulesVersion: lang.RulesVersion}
	snap, err := e.cache.Acquire(ctx, key, func(ctx context.Context) (*cache.Snapshot, error) {
		return e.buildSnapshot(ctx, src)
	})
	if err != nil {
		return nil, key, err
	}
	// A cached build failure means no entities, which is how the scan side
	// treats the file too.
	return model.BindEntities(path, src.cid, snap.Entities), key, nil
}

// treeCache resolves commit ids to tree ids, reaching into the repository
// for parents outside the mined set.
type treeCache struct {
	repo  *gitrepo.Repo
	mu    sync.Mutex
	trees map[string]string
}

func (t *treeCache) tree(ctx context.Context, commitID string) (string, error) {
	t.mu.Lock()
	if tree, ok := t.trees[commitID]; ok {
		t.mu.Unlock()
		return tree, nil
	}
	t.mu.Unlock()

	commits, err := t.repo.Commits(ctx, []string{commitID})
	if err != nil {
		return "", err
	}
	if len(commits) == 0 {
		return "", fmt.Errorf("commit %s not found", commitID)
	}
	t.mu.Lock()
	t.trees[commitID] = commits[0].Tree
	t.mu.Unlock()
	return commits[0].Tree, nil
}
