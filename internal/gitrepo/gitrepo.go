// Package gitrepo reads commits, trees, and blobs by shelling out to git
// plumbing commands. Only read-only commands are used; the repository is
// never touched.
package gitrepo

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// EmptyTree is the id of git's well-known empty tree, used as the diff base
// for root commits.
const EmptyTree = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// Repo is a handle on a local git repository.
type Repo struct {
	dir string
}

// Open verifies that dir is inside a git work tree and returns a handle.
func Open(ctx context.Context, dir string) (*Repo, error) {
	r := &Repo{dir: dir}
	out, err := r.run(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %s: %w", dir, err)
	}
	if strings.TrimSpace(out) != "true" {
		return nil, fmt.Errorf("not a git work tree: %s", dir)
	}
	return r, nil
}

// Commit is the part of a commit object the miner needs.
type Commit struct {
	ID      string
	Tree    string
	Parents []string
}

// ResolveCommit resolves a revision (branch, tag, abbreviated hash) to a
// full commit id.
func (r *Repo) ResolveCommit(ctx context.Context, rev string) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--verify", rev+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", rev, err)
	}
	return strings.TrimSpace(out), nil
}

// Log returns every commit reachable from rev, newest first.
func (r *Repo) Log(ctx context.Context, rev string) ([]Commit, error) {
	out, err := r.run(ctx, "log", "--pretty=format:%H %T %P", rev)
	if err != nil {
		return nil, fmt.Errorf("listing history of %q: %w", rev, err)
	}
	return parseCommitLines(out)
}

// Commits looks up specific commits by id or revision.
func (r *Repo) Commits(ctx context.Context, revs []string) ([]Commit, error) {
	args := append([]string{"show", "-s", "--pretty=format:%H %T %P"}, revs...)
	out, err := r.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("reading commits: %w", err)
	}
	return parseCommitLines(out)
}

// TreeEntry is one blob in a tree listing.
type TreeEntry struct {
	Path string
	Blob string
}

// ListTree lists every blob under a tree, recursively. Non-blob entries
// (submodules, symlink targets) are skipped.
func (r *Repo) ListTree(ctx context.Context, tree string) ([]TreeEntry, error) {
	out, err := r.run(ctx, "ls-tree", "-r", tree)
	if err != nil {
		return nil, fmt.Errorf("listing tree %s: %w", tree, err)
	}
	var entries []TreeEntry
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		// <mode> <type> <oid>\t<path>
		meta, path, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		fields := strings.Fields(meta)
		if len(fields) != 3 || fields[1] != "blob" || fields[0] == "120000" {
			continue
		}
		entries = append(entries, TreeEntry{Path: path, Blob: fields[2]})
	}
	return entries, nil
}

// ReadBlob returns the content of a blob object.
func (r *Repo) ReadBlob(ctx context.Context, oid string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", r.dir, "cat-file", "blob", oid)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("reading blob %s: %w: %s", oid, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// DiffEntry is one changed path between two trees. A zero OldBlob means the
// file was added; a zero NewBlob means it was deleted.
type DiffEntry struct {
	Path    string
	OldBlob string
	NewBlob string
}

const zeroOID = "0000000000000000000000000000000000000000"

// DiffTrees lists paths whose blobs differ between two trees. Renames are
// not detected, matching how changes are attributed to stable entity ids.
func (r *Repo) DiffTrees(ctx context.Context, oldTree, newTree string) ([]DiffEntry, error) {
	out, err := r.run(ctx, "diff-tree", "-r", "--no-renames", oldTree, newTree)
	if err != nil {
		return nil, fmt.Errorf("diffing %s..%s: %w", oldTree, newTree, err)
	}
	var entries []DiffEntry
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, ":") {
			continue
		}
		// :<oldmode> <newmode> <oldoid> <newoid> <status>\t<path>
		meta, path, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		fields := strings.Fields(meta[1:])
		if len(fields) != 5 {
			continue
		}
		e := DiffEntry{Path: path, OldBlob: fields[2], NewBlob: fields[3]}
		if e.OldBlob == zeroOID {
			e.OldBlob = ""
		}
		if e.NewBlob == zeroOID {
			e.NewBlob = ""
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", r.dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func parseCommitLines(out string) ([]Commit, error) {
	var commits []Commit
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed commit line %q", line)
		}
		commits = append(commits, Commit{ID: fields[0], Tree: fields[1], Parents: fields[2:]})
	}
	return commits, nil
}
