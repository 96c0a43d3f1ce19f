package weft

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// DSM formats, matching the design-structure-matrix JSON schemas consumers
// of these matrices already read. v2 is entity granularity; v1 is the older
// file-granularity schema.
const (
	FormatJSONV1 = "jsonv1"
	FormatJSONV2 = "jsonv2"
)

type dsmVariable struct {
	ID       int    `json:"id"`
	ParentID *int   `json:"parent_id,omitempty"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

type dsmCell struct {
	Src    int                `json:"src"`
	Dest   int                `json:"dest"`
	Values map[string]float64 `json:"values"`
}

type dsmV2 struct {
	Schema    string        `json:"schemaVersion"`
	Name      string        `json:"name"`
	Variables []dsmVariable `json:"variables"`
	Cells     []dsmCell     `json:"cells"`
}

type dsmV1 struct {
	Schema    string    `json:"schemaVersion"`
	Name      string    `json:"name"`
	Variables []string  `json:"variables"`
	Cells     []dsmCell `json:"cells"`
}

// WriteDSM writes the scan as a design structure matrix. In the v2 schema
// variables are the scanned entities in file order and cell values count
// resolved dependencies by kind, with co-change counts merged in under
// "Cochange". In the v1 schema variables are the scanned filenames, sorted,
// and cells count file-level dependencies.
func (r *Result) WriteDSM(w io.Writer, name, format string) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	switch format {
	case FormatJSONV1:
		return enc.Encode(r.buildV1(name))
	case FormatJSONV2:
		return enc.Encode(r.buildV2(name))
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func (r *Result) buildV2(name string) dsmV2 {
	variables := make([]dsmVariable, 0)
	byID := make(map[string]int)     // content-qualified id -> variable
	byStable := make(map[string]int) // stable id -> variable

	for _, set := range r.Files {
		base := len(variables)
		for _, ent := range set.Entities {
			v := dsmVariable{ID: len(variables), Name: ent.Name, Kind: string(ent.Kind)}
			if ent.Parent >= 0 {
				pid := base + ent.Parent
				v.ParentID = &pid
			}
			variables = append(variables, v)
			byID[ent.ID] = v.ID
			byStable[ent.StableID] = v.ID
		}
	}

	cells := newCellMap()
	for _, d := range r.Deps {
		src, ok := byID[d.Src]
		if !ok {
			continue
		}
		dst, ok := byID[d.Dst]
		if !ok {
			continue
		}
		cells.bump(src, dst, titleKind(string(d.Kind)), 1)
	}
	for _, cc := range r.CoChanges {
		a, ok := byStable[cc.A]
		if !ok {
			continue
		}
		b, ok := byStable[cc.B]
		if !ok {
			continue
		}
		// Co-change is symmetric; emit both directions so either triangle
		// of the matrix carries it.
		cells.bump(a, b, "Cochange", float64(cc.Count))
		cells.bump(b, a, "Cochange", float64(cc.Count))
	}

	return dsmV2{Schema: "2.0", Name: name, Variables: variables, Cells: cells.ordered()}
}

func (r *Result) buildV1(name string) dsmV1 {
	files := make([]string, 0, len(r.Files))
	for _, set := range r.Files {
		files = append(files, set.File)
	}
	sort.Strings(files)
	lookup := make(map[string]int, len(files))
	for i, f := range files {
		lookup[f] = i
	}

	cells := newCellMap()
	for _, d := range r.FileDeps {
		src, ok := lookup[d.Src]
		if !ok {
			continue
		}
		dst, ok := lookup[d.Dst]
		if !ok {
			continue
		}
		cells.bump(src, dst, titleKind(string(d.Kind)), 1)
	}

	return dsmV1{Schema: "1.0", Name: name, Variables: files, Cells: cells.ordered()}
}

type cellMap map[[2]int]map[string]float64

func newCellMap() cellMap {
	return make(cellMap)
}

func (m cellMap) bump(src, dst int, key string, n float64) {
	k := [2]int{src, dst}
	if m[k] == nil {
		m[k] = make(map[string]float64)
	}
	m[k][key] += n
}

func (m cellMap) ordered() []dsmCell {
	keys := make([][2]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	out := make([]dsmCell, 0, len(keys))
	for _, k := range keys {
		out = append(out, dsmCell{Src: k[0], Dest: k[1], Values: m[k]})
	}
	return out
}

func titleKind(k string) string {
	if k == "" {
		return "Use"
	}
	b := []byte(k)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
