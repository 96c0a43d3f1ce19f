// Package langs loads per-language definitions: the grammar, the entity
// tagging query, and the scope graph rule set. Definitions are YAML files,
// embedded by default and overridable from disk.
package langs

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"gopkg.in/yaml.v3"

	"github.com/mlade/weft/internal/scopegraph"
)

// Language is one loaded definition. A definition that fails to load or
// compile is kept in the registry with Err set: its files are skipped with a
// warning, but the rest of the scan proceeds.
type Language struct {
	Name       string
	Extensions []string

	Grammar      *sitter.Language
	Entities     *sitter.Query
	Rules        *scopegraph.RuleSet
	RulesVersion string

	Err error
}

// Registry maps file paths to languages.
type Registry struct {
	ordered []*Language
	byExt   map[string]*Language
}

type definitionYAML struct {
	Language   string   `yaml:"language"`
	Version    string   `yaml:"version"`
	Extensions []string `yaml:"extensions"`
	Entities   struct {
		Query string `yaml:"query"`
	} `yaml:"entities"`
	Graph struct {
		Rules yaml.Node `yaml:"rules"`
	} `yaml:"graph"`
}

// Load reads every *.yaml definition in fsys. only, when non-empty,
// restricts the registry to the named languages.
func Load(fsys fs.FS, only []string) (*Registry, error) {
	names, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	wanted := make(map[string]bool, len(only))
	for _, n := range only {
		wanted[strings.ToLower(n)] = true
	}

	reg := &Registry{byExt: make(map[string]*Language)}
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		lang := loadDefinition(name, raw)
		if len(only) > 0 && !wanted[lang.Name] {
			continue
		}
		reg.ordered = append(reg.ordered, lang)
		for _, ext := range lang.Extensions {
			reg.byExt[ext] = lang
		}
	}
	if len(reg.ordered) == 0 {
		return nil, fmt.Errorf("no language definitions loaded")
	}
	return reg, nil
}

func loadDefinition(file string, raw []byte) *Language {
	var def definitionYAML
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return &Language{Name: strings.TrimSuffix(file, ".yaml"), Err: fmt.Errorf("parsing %s: %w", file, err)}
	}
	lang := &Language{
		Name:       strings.ToLower(def.Language),
		Extensions: def.Extensions,
	}
	if lang.Name == "" {
		lang.Name = strings.TrimSuffix(file, ".yaml")
	}
	sum := sha256.Sum256(raw)
	lang.RulesVersion = fmt.Sprintf("%s-%s-%x", lang.Name, def.Version, sum[:8])

	grammar, ok := grammars[lang.Name]
	if !ok {
		lang.Err = fmt.Errorf("%s: no grammar for language %q", file, lang.Name)
		return lang
	}
	lang.Grammar = grammar

	if def.Entities.Query == "" {
		lang.Err = fmt.Errorf("%s: missing entities query", file)
		return lang
	}
	q, err := sitter.NewQuery([]byte(def.Entities.Query), grammar)
	if err != nil {
		lang.Err = fmt.Errorf("%s: compiling entities query: %w", file, err)
		return lang
	}
	lang.Entities = q

	var rulesRaw []byte
	if !def.Graph.Rules.IsZero() {
		rulesRaw, err = yaml.Marshal(&def.Graph.Rules)
		if err != nil {
			lang.Err = fmt.Errorf("%s: %w", file, err)
			return lang
		}
	}
	rules, err := scopegraph.CompileRules(rulesRaw, grammar)
	if err != nil {
		lang.Err = fmt.Errorf("%s: %w", file, err)
		return lang
	}
	lang.Rules = rules
	return lang
}

// ForPath returns the language owning a path's extension, or nil.
func (r *Registry) ForPath(path string) *Language {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return nil
	}
	return r.byExt[path[i:]]
}

// Languages returns the loaded languages in definition order, including ones
// with a startup error.
func (r *Registry) Languages() []*Language {
	return r.ordered
}

// Pathspecs returns doublestar patterns matching every file the registry
// can handle.
func (r *Registry) Pathspecs() []string {
	var specs []string
	for _, l := range r.ordered {
		if l.Err != nil {
			continue
		}
		for _, ext := range l.Extensions {
			specs = append(specs, "**/*"+ext)
		}
	}
	return specs
}
