// Package model holds the core data types shared by the extractor, the
// resolver, and the history miner: spans, content ids, entities, dependency
// records, and change records.
package model

import (
	"crypto/sha1"
	"fmt"
	"strings"
)

// Span is a half-open byte range [StartByte, EndByte) with its row/column
// bounds. Rows and columns are zero-based.
type Span struct {
	StartByte uint32 `json:"start_byte"`
	EndByte   uint32 `json:"end_byte"`
	StartRow  uint32 `json:"start_row"`
	StartCol  uint32 `json:"start_col"`
	EndRow    uint32 `json:"end_row"`
	EndCol    uint32 `json:"end_col"`
}

// Contains reports whether other lies entirely within s.
func (s Span) Contains(other Span) bool {
	return s.StartByte <= other.StartByte && other.EndByte <= s.EndByte
}

// ContainsStrictly reports whether other lies within s and the two differ.
func (s Span) ContainsStrictly(other Span) bool {
	return s.Contains(other) && s != other
}

// ContentID identifies file content. It is the git blob object id of the
// content (hex SHA-1 over "blob <len>\x00<content>"), so ids reported by
// git ls-tree can be used as cache keys without re-reading the blob.
type ContentID string

// HashBlob computes the ContentID of content.
func HashBlob(content []byte) ContentID {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return ContentID(fmt.Sprintf("%x", h.Sum(nil)))
}

// FileKey names one version of one file.
type FileKey struct {
	Path      string    `json:"path"`
	ContentID ContentID `json:"content_id"`
}

// EntityKind classifies source entities.
type EntityKind string

const (
	KindFile        EntityKind = "file"
	KindModule      EntityKind = "module"
	KindClass       EntityKind = "class"
	KindInterface   EntityKind = "interface"
	KindEnum        EntityKind = "enum"
	KindAnnotation  EntityKind = "annotation"
	KindMethod      EntityKind = "method"
	KindConstructor EntityKind = "constructor"
	KindField       EntityKind = "field"
	KindFunction    EntityKind = "function"
)

// DepKind classifies dependencies between entities.
type DepKind string

const (
	DepUse       DepKind = "use"
	DepCall      DepKind = "call"
	DepImport    DepKind = "import"
	DepInherit   DepKind = "inherit"
	DepImplement DepKind = "implement"
	DepCreate    DepKind = "create"
	DepCast      DepKind = "cast"
	DepThrow     DepKind = "throw"
	DepContain   DepKind = "contain"
)

// ParseDepKind normalizes a dependency kind string coming from an external
// tool. Kinds are lower-cased and a trailing "(possible)" qualifier is
// dropped; unknown kinds pass through so new tool vocabularies still count.
func ParseDepKind(s string) DepKind {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimSuffix(s, "(possible)")
	if s == "extend" {
		return DepInherit
	}
	return DepKind(s)
}

// EntityDep is one resolved dependency between two entities, identified by
// their content-qualified ids. Origin names the resolver strategy that
// produced the edge ("native" or "external").
type EntityDep struct {
	Src     string  `json:"src"`
	Dst     string  `json:"dst"`
	Kind    DepKind `json:"kind"`
	Origin  string  `json:"origin"`
	SrcSpan Span    `json:"src_span"`
}

// FileDep is a dependency collapsed to file granularity.
type FileDep struct {
	Src  string  `json:"src"`
	Dst  string  `json:"dst"`
	Kind DepKind `json:"kind"`
}

// Change records that a commit touched an entity. Entities are identified by
// their path-stable id so the same logical entity accumulates changes across
// edits.
type Change struct {
	Commit string `json:"commit"`
	Entity string `json:"entity"`
}

// CoChange counts how many commits changed two entities together. A and B
// are path-stable ids with A < B.
type CoChange struct {
	A     string `json:"a"`
	B     string `json:"b"`
	Count int    `json:"count"`
}

// Warning is a non-fatal problem encountered during a scan.
type Warning struct {
	Code     string `json:"code"`
	File     string `json:"file,omitempty"`
	Language string `json:"language,omitempty"`
	Message  string `json:"message"`
}

func (w Warning) String() string {
	var b strings.Builder
	b.WriteString(w.Code)
	if w.Language != "" {
		b.WriteString(" [" + w.Language + "]")
	}
	if w.File != "" {
		b.WriteString(" " + w.File)
	}
	b.WriteString(": " + w.Message)
	return b.String()
}
