package scopegraph

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"gopkg.in/yaml.v3"

	"github.com/mlade/weft/internal/model"
)

// A RuleSet is the declarative graph description for one language: a list of
// (tree-sitter query, actions) pairs. Rule sets are data, never code; the
// builder in this package is the only interpreter, so a graph is fully
// determined by the parse tree and the rule set.
type RuleSet struct {
	Rules []Rule
}

// Rule pairs one compiled query with the actions applied to each match.
type Rule struct {
	Query   string
	Actions Actions

	compiled *sitter.Query
}

// Actions describes what a rule match contributes to the graph. Any subset
// may be set.
type Actions struct {
	// Scope declares a lexical scope spanning the named capture.
	Scope string `yaml:"scope"`
	// Define declares a definition.
	Define *DefineAction `yaml:"define"`
	// Reference declares a (possibly qualified) reference.
	Reference *ReferenceAction `yaml:"reference"`
	// Export makes a scope reachable from other files under a symbol chain.
	Export *ExportAction `yaml:"export"`
	// Gateway forwards unresolved lookups out of a scope under a symbol
	// chain, optionally consuming a local alias first.
	Gateway *GatewayAction `yaml:"gateway"`
}

// DefineAction introduces a pop node for a name in its enclosing scope.
// Body, if set, names a capture whose span becomes the definition's inner
// scope, reachable only through the definition.
type DefineAction struct {
	Name       SymbolSpec `yaml:"name"`
	Body       string     `yaml:"body"`
	Precedence int        `yaml:"precedence"`
}

// ReferenceAction introduces a push chain for a qualified name. Parts are in
// written order: for `a.b`, parts resolve to ["a", "b"] and "a" is resolved
// first. Span optionally names the capture covering the whole reference;
// otherwise the largest part capture is used.
type ReferenceAction struct {
	Parts []SymbolSpec `yaml:"parts"`
	Kind  string       `yaml:"kind"`
	Span  string       `yaml:"span"`
}

// ExportAction wires the root node through a pop chain to a scope. Scope
// names a capture, or the whole file when empty.
type ExportAction struct {
	Symbols []SymbolSpec `yaml:"symbols"`
	Scope   string       `yaml:"scope"`
}

// GatewayAction wires a scope through a push chain to the root node. If
// Alias is set, the gateway first pops the alias, rewriting local names to
// the exported symbol chain.
type GatewayAction struct {
	Symbols []SymbolSpec `yaml:"symbols"`
	Alias   *SymbolSpec  `yaml:"alias"`
	Scope   string       `yaml:"scope"`
}

// SymbolSpec produces symbol text from a rule match. In YAML it is either a
// scalar capture reference ("@name") or a mapping with from/literal plus
// optional transforms. Split breaks the text into several symbols; Base
// strips string quotes and keeps the last path segment (slash- or
// dot-separated), which turns an import path literal into the name it is
// referred to by.
type SymbolSpec struct {
	From    string `yaml:"from"`
	Literal string `yaml:"literal"`
	Split   string `yaml:"split"`
	Base    bool   `yaml:"base"`
}

func (s *SymbolSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		s.From = value.Value
		return nil
	}
	type plain SymbolSpec
	return value.Decode((*plain)(s))
}

// resolve produces the symbol strings for one rule match. A spec whose
// capture is absent from the match resolves to nothing, so optional captures
// silently drop the action.
func (s SymbolSpec) resolve(caps map[string]*sitter.Node, src []byte) []string {
	text := s.Literal
	if s.From != "" {
		n, ok := caps[strings.TrimPrefix(s.From, "@")]
		if !ok {
			return nil
		}
		text = n.Content(src)
	}
	if s.Base {
		text = strings.Trim(text, "\"'`")
		if i := strings.LastIndexAny(text, "/."); i >= 0 {
			text = text[i+1:]
		}
	}
	if text == "" {
		return nil
	}
	if s.Split != "" {
		return strings.Split(text, s.Split)
	}
	return []string{text}
}

type ruleYAML struct {
	Query   string  `yaml:"query"`
	Actions Actions `yaml:"actions"`
}

// CompileRules parses a rule list and compiles its queries against the
// grammar. Any error makes the whole rule set unusable; the caller disables
// the language and surfaces the error once.
func CompileRules(raw []byte, grammar *sitter.Language) (*RuleSet, error) {
	var parsed []ruleYAML
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	rs := &RuleSet{}
	for i, r := range parsed {
		if r.Query == "" {
			return nil, fmt.Errorf("rule %d: missing query", i)
		}
		if r.Actions.Reference != nil && len(r.Actions.Reference.Parts) == 0 {
			return nil, fmt.Errorf("rule %d: reference with no parts", i)
		}
		q, err := sitter.NewQuery([]byte(r.Query), grammar)
		if err != nil {
			return nil, fmt.Errorf("rule %d: compiling query: %w", i, err)
		}
		rs.Rules = append(rs.Rules, Rule{Query: r.Query, Actions: r.Actions, compiled: q})
	}
	return rs, nil
}

func depKind(s string) model.DepKind {
	if s == "" {
		return model.DepUse
	}
	return model.ParseDepKind(s)
}
