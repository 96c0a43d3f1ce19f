package langs

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
)

// grammars maps definition language names to their compiled grammars.
// Adding a language means adding its grammar here and shipping a rules file.
var grammars = map[string]*sitter.Language{
	"go":   golang.GetLanguage(),
	"java": java.GetLanguage(),
}
