package schema

import "slices"

// Collection names as they appear in snapshots and as store table names.
const (
	Categories    = "categories"
	Todos         = "todos"
	Notebooks     = "notebooks"
	Notes         = "notes"
	Drawings      = "drawings"
	Events        = "events"
	TimerSessions = "timerSessions"
	Profiles      = "profiles"
	ActiveTimers  = "activeTimers"
)

// collections is the canonical order used for export and merge.
var collections = []string{
	Categories,
	Todos,
	Notebooks,
	Notes,
	Drawings,
	Events,
	TimerSessions,
	Profiles,
	ActiveTimers,
}

// Collections returns every collection known to the local schema in
// canonical order.
func Collections() []string {
	return slices.Clone(collections)
}

// IsCollection reports whether name is a collection of the local schema.
func IsCollection(name string) bool {
	return slices.Contains(collections, name)
}

// Reference field names.
const (
	FieldCategoryID = "categoryId"
	FieldNotebookID = "notebookId"
)

// Reference describes a soft foreign key: records in Collection hold the id
// of a Target record in Field.
type Reference struct {
	Collection string
	Field      string
	Target     string
}

// cascades lists the references cleared when their target is deleted.
// Events, timer sessions and the active timer keep their category id.
var cascades = []Reference{
	{Collection: Todos, Field: FieldCategoryID, Target: Categories},
	{Collection: Notebooks, Field: FieldCategoryID, Target: Categories},
	{Collection: Notes, Field: FieldCategoryID, Target: Categories},
	{Collection: Drawings, Field: FieldCategoryID, Target: Categories},
	{Collection: Notes, Field: FieldNotebookID, Target: Notebooks},
}

// Cascades returns the references that must be cleared when a record of the
// target collection is deleted.
func Cascades(target string) []Reference {
	var refs []Reference
	for _, ref := range cascades {
		if ref.Target == target {
			refs = append(refs, ref)
		}
	}
	return refs
}
