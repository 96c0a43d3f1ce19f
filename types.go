package weft

import "github.com/mlade/weft/internal/model"

// Public aliases for the model types that appear in the Engine API.
type (
	Span       = model.Span
	ContentID  = model.ContentID
	EntityKind = model.EntityKind
	Entity     = model.Entity
	EntitySet  = model.EntitySet
	DepKind    = model.DepKind
	EntityDep  = model.EntityDep
	FileDep    = model.FileDep
	Change     = model.Change
	CoChange   = model.CoChange
	Warning    = model.Warning
)
