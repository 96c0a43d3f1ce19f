// Package rules ships the built-in language definitions: for each language,
// the entity tagging query and the scope graph rules, as one YAML file.
package rules

import "embed"

//go:embed *.yaml
var FS embed.FS
