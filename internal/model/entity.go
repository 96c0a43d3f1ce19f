package model

import (
	"crypto/sha1"
	"fmt"
	"sort"
)

// EntityProto is the path-free form of an extracted entity, as stored in the
// content-addressed cache. It carries no file identity: the same content seen
// under two paths yields the same protos, and ids are bound at lookup time.
//
// Parent is an index into the proto slice, or -1 for the file itself.
type EntityProto struct {
	Parent      int        `json:"parent"`
	Name        string     `json:"name"`
	Kind        EntityKind `json:"kind"`
	Span        Span       `json:"span"`
	Doc         *Span      `json:"doc,omitempty"`
	ContentHash string     `json:"content_hash"`
}

// Entity is a bound entity: a proto attached to a concrete file version.
//
// StableID survives content edits; it hashes the file path, the containment
// chain, the kind, the name, and an ordinal that disambiguates same-named
// siblings. ID additionally hashes the file's ContentID, so entities of
// different file versions never collide.
type Entity struct {
	ID          string     `json:"id"`
	StableID    string     `json:"stable_id"`
	Parent      int        `json:"parent"`
	Name        string     `json:"name"`
	Kind        EntityKind `json:"kind"`
	Span        Span       `json:"span"`
	ContentHash string     `json:"content_hash"`
}

// EntitySet holds the bound entities of one file version. Index 0 is always
// the file entity; every other entity's Parent points at an earlier index.
type EntitySet struct {
	File      string
	ContentID ContentID
	Entities  []Entity

	byBytes  intervalTable
	byRows   intervalTable
	byStable map[string]int
}

// BindEntities attaches protos to a concrete file version, computing stable
// and content-qualified ids and the position lookup tables. Protos must be in
// document order with parents preceding children, which is how the extractor
// emits them.
func BindEntities(path string, cid ContentID, protos []EntityProto) *EntitySet {
	s := &EntitySet{
		File:      path,
		ContentID: cid,
		Entities:  make([]Entity, 0, len(protos)+1),
		byStable:  make(map[string]int, len(protos)+1),
	}

	fileStable := hashID("file", path)
	s.Entities = append(s.Entities, Entity{
		ID:       hashID(string(cid), fileStable),
		StableID: fileStable,
		Parent:   -1,
		Name:     path,
		Kind:     KindFile,
		Span:     fileSpan(protos),
		// The file's own content hash is its blob id, so edits anywhere in
		// the file show up as a change to the file entity.
		ContentHash: string(cid),
	})

	// Ordinals disambiguate siblings that share (parent, kind, name).
	type sibKey struct {
		parent int
		kind   EntityKind
		name   string
	}
	ordinals := make(map[sibKey]int)

	for _, p := range protos {
		parent := p.Parent + 1 // shift for the file entity at 0
		k := sibKey{parent, p.Kind, p.Name}
		ord := ordinals[k]
		ordinals[k] = ord + 1

		stable := hashID(s.Entities[parent].StableID, string(p.Kind), p.Name, fmt.Sprint(ord))
		s.Entities = append(s.Entities, Entity{
			ID:          hashID(string(cid), stable),
			StableID:    stable,
			Parent:      parent,
			Name:        p.Name,
			Kind:        p.Kind,
			Span:        p.Span,
			ContentHash: p.ContentHash,
		})
	}

	for i, e := range s.Entities {
		if _, dup := s.byStable[e.StableID]; !dup {
			s.byStable[e.StableID] = i
		}
		if i == 0 {
			continue // the file entity is the implicit fallback
		}
		s.byBytes.insert(e.Span.StartByte, e.Span.EndByte, i)
		s.byRows.insert(e.Span.StartRow, e.Span.EndRow+1, i)
	}
	return s
}

// FindByte returns the index of the innermost entity covering the byte
// offset, falling back to the file entity.
func (s *EntitySet) FindByte(b uint32) int {
	if i, ok := s.byBytes.get(b); ok {
		return i
	}
	return 0
}

// FindRow returns the index of the innermost entity covering the zero-based
// row, falling back to the file entity. Row granularity is what
// line-oriented external tools report.
func (s *EntitySet) FindRow(row uint32) int {
	if i, ok := s.byRows.get(row); ok {
		return i
	}
	return 0
}

// ByStable returns the index of the entity with the given stable id.
func (s *EntitySet) ByStable(id string) (int, bool) {
	i, ok := s.byStable[id]
	return i, ok
}

func fileSpan(protos []EntityProto) Span {
	var sp Span
	for _, p := range protos {
		if p.Span.EndByte > sp.EndByte {
			sp.EndByte = p.Span.EndByte
		}
		if p.Span.EndRow > sp.EndRow {
			sp.EndRow = p.Span.EndRow
		}
	}
	return sp
}

func hashID(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d\x00%s", len(p), p)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// SortChanges orders change records for deterministic output.
func SortChanges(cs []Change) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Commit != cs[j].Commit {
			return cs[i].Commit < cs[j].Commit
		}
		return cs[i].Entity < cs[j].Entity
	})
}
