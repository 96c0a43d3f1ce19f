package weft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mlade/weft/internal/langs"
	"github.com/mlade/weft/internal/model"
	"github.com/mlade/weft/internal/scopegraph"
)

// resolveAll runs dependency resolution for every language in the scan and
// fills res.Deps and res.FileDeps. Languages are independent: each gets the
// first usable strategy from the configured order, and a language whose
// resolution fails contributes zero edges plus a warning.
func (s *scanRun) resolveAll(ctx context.Context, files []*fileResult, res *Result) error {
	byPath := make(map[string]*fileResult, len(files))
	byLang := make(map[string][]*fileResult)
	var langOrder []*langs.Language
	for _, f := range files {
		byPath[f.path] = f
		if _, ok := byLang[f.lang.Name]; !ok {
			langOrder = append(langOrder, f.lang)
		}
		byLang[f.lang.Name] = append(byLang[f.lang.Name], f)
	}

	var deps []model.EntityDep
	for _, lang := range langOrder {
		group := byLang[lang.Name]
		var (
			langDeps []model.EntityDep
			err      error
		)
		switch s.pickResolver(lang) {
		case ResolverExternal:
			langDeps = s.resolveExternal(ctx, lang, group, byPath)
		default:
			langDeps, err = s.resolveNative(ctx, group, byPath)
			if err != nil {
				return err
			}
		}
		deps = append(deps, langDeps...)
	}

	res.Deps, res.FileDeps = dedupeDeps(deps, byPath)
	return nil
}

// pickResolver returns the first configured strategy usable for the
// language. The external strategy needs a tool command; without one it is
// skipped with a warning so the scan still produces native results.
func (s *scanRun) pickResolver(lang *langs.Language) string {
	for _, r := range s.resolvers {
		if r == ResolverExternal && len(s.toolCmd) == 0 {
			s.warn(model.Warning{
				Code:     "resolver-unavailable",
				Language: lang.Name,
				Message:  "external resolver configured but no tool command given",
			})
			continue
		}
		return r
	}
	return ResolverNative
}

// resolveNative stitches the language's cached partial paths into
// resolutions and maps both endpoints to their innermost entities.
func (e *Engine) resolveNative(ctx context.Context, group []*fileResult, byPath map[string]*fileResult) ([]model.EntityDep, error) {
	fgs := make([]*scopegraph.FileGraph, len(group))
	for i, f := range group {
		fgs[i] = f.graph
	}
	resolutions, err := scopegraph.Stitch(ctx, fgs, e.jobs)
	if err != nil {
		return nil, err
	}
	var deps []model.EntityDep
	for _, r := range resolutions {
		src, dst := byPath[r.File], byPath[r.TargetFile]
		refSpan := src.graph.Graph.Nodes[r.RefNode].Span
		defSpan := dst.graph.Graph.Nodes[r.TargetNode].Span
		deps = append(deps, model.EntityDep{
			Src:     src.set.Entities[src.set.FindByte(refSpan.StartByte)].ID,
			Dst:     dst.set.Entities[dst.set.FindByte(defSpan.StartByte)].ID,
			Kind:    r.Kind,
			Origin:  ResolverNative,
			SrcSpan: refSpan,
		})
	}
	return deps, nil
}

// External tool output: one dependency per (file, line) pair, the contract
// line-oriented resolvers such as Depends emit.
type externalReport struct {
	Deps []struct {
		Src  externalEndpoint `json:"src"`
		Dest externalEndpoint `json:"dest"`
		Kind string           `json:"kind"`
	} `json:"deps"`
}

type externalEndpoint struct {
	File string `json:"file"`
	Line uint32 `json:"line"` // 1-based
}

// resolveExternal materializes the language's files into a temp directory,
// runs the configured tool on it, and maps the reported file/line pairs to
// entities. Any failure degrades the language to zero edges with a warning.
func (s *scanRun) resolveExternal(ctx context.Context, lang *langs.Language, group []*fileResult, byPath map[string]*fileResult) []model.EntityDep {
	fail := func(err error) []model.EntityDep {
		s.warn(model.Warning{Code: "resolver-failure", Language: lang.Name, Message: err.Error()})
		return nil
	}

	dir, err := os.MkdirTemp("", "weft-resolve-")
	if err != nil {
		return fail(err)
	}
	defer os.RemoveAll(dir)
	for _, f := range group {
		content, err := f.read(ctx)
		if err != nil {
			return fail(fmt.Errorf("materializing %s: %w", f.path, err))
		}
		dst := filepath.Join(dir, filepath.FromSlash(f.path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fail(err)
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return fail(err)
		}
	}

	args := append(append([]string(nil), s.toolCmd[1:]...), lang.Name, dir)
	cmd := exec.CommandContext(ctx, s.toolCmd[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	s.log.Debug("running external resolver", "language", lang.Name, "cmd", s.toolCmd[0])
	if err := cmd.Run(); err != nil {
		return fail(fmt.Errorf("%s: %w: %s", s.toolCmd[0], err, strings.TrimSpace(stderr.String())))
	}

	var report externalReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		return fail(fmt.Errorf("%s: malformed output: %w", s.toolCmd[0], err))
	}

	var deps []model.EntityDep
	for _, d := range report.Deps {
		src, ok := byPath[normalizeToolPath(d.Src.File, dir)]
		if !ok {
			continue
		}
		dst, ok := byPath[normalizeToolPath(d.Dest.File, dir)]
		if !ok {
			continue
		}
		srcEnt := src.set.Entities[src.set.FindRow(oneBasedRow(d.Src.Line))]
		dstEnt := dst.set.Entities[dst.set.FindRow(oneBasedRow(d.Dest.Line))]
		deps = append(deps, model.EntityDep{
			Src:     srcEnt.ID,
			Dst:     dstEnt.ID,
			Kind:    model.ParseDepKind(d.Kind),
			Origin:  ResolverExternal,
			SrcSpan: srcEnt.Span,
		})
	}
	return deps
}

// normalizeToolPath maps a tool-reported path (absolute or relative to the
// materialized directory) back to the scan's relative path.
func normalizeToolPath(p, dir string) string {
	p = filepath.ToSlash(p)
	if rel, err := filepath.Rel(dir, filepath.FromSlash(p)); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return strings.TrimPrefix(p, "./")
}

func oneBasedRow(line uint32) uint32 {
	if line == 0 {
		return 0
	}
	return line - 1
}

// dedupeDeps drops self-edges and duplicates, orders the result, and
// derives the file-level view.
func dedupeDeps(deps []model.EntityDep, byPath map[string]*fileResult) ([]model.EntityDep, []model.FileDep) {
	type depKey struct {
		src, dst string
		kind     model.DepKind
	}
	seen := make(map[depKey]bool)
	entityFile := make(map[string]string)
	for path, f := range byPath {
		for _, ent := range f.set.Entities {
			entityFile[ent.ID] = path
		}
	}

	var out []model.EntityDep
	fileSeen := make(map[depKey]bool)
	var fileDeps []model.FileDep
	for _, d := range deps {
		if d.Src == d.Dst {
			continue
		}
		k := depKey{d.Src, d.Dst, d.Kind}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, d)

		sf, df := entityFile[d.Src], entityFile[d.Dst]
		if sf == df {
			continue
		}
		fk := depKey{sf, df, d.Kind}
		if !fileSeen[fk] {
			fileSeen[fk] = true
			fileDeps = append(fileDeps, model.FileDep{Src: sf, Dst: df, Kind: d.Kind})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Src != out[j].Src {
			return out[i].Src < out[j].Src
		}
		if out[i].Dst != out[j].Dst {
			return out[i].Dst < out[j].Dst
		}
		return out[i].Kind < out[j].Kind
	})
	sort.Slice(fileDeps, func(i, j int) bool {
		if fileDeps[i].Src != fileDeps[j].Src {
			return fileDeps[i].Src < fileDeps[j].Src
		}
		if fileDeps[i].Dst != fileDeps[j].Dst {
			return fileDeps[i].Dst < fileDeps[j].Dst
		}
		return fileDeps[i].Kind < fileDeps[j].Kind
	})
	return out, fileDeps
}
