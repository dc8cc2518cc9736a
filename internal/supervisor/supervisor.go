package supervisor

import "refinery.app/engine/internal/model"

// Plan is the execution plan produced from a classifier verdict: either a
// single specialist role (shortcut mode) or the full four-role fan-out
// followed by a moderator pass.
type Plan struct {
	Roles          []string
	RequireModerator bool
	ShortcutRole   string // set iff len(Roles) == 1 and RequireModerator == false
}

// Shortcut reports whether the plan dispatches to a single specialist.
func (p Plan) Shortcut() bool {
	return p.ShortcutRole != ""
}

// BuildPlan translates a classifier verdict into an execution plan. The
// supervisor reads no memory and holds no state between calls.
//
// Shortcut mode covers both a specific specialist role and the
// ShortcutModerator target: the latter still dispatches a single Analyzer
// invocation (bound to the moderator's prompt, summarizing prior thread
// state) rather than re-running the full four-specialist fan-out.
func BuildPlan(c model.Classification) Plan {
	if c.ShortcutTarget != "" {
		return Plan{
			Roles:        []string{c.ShortcutTarget},
			ShortcutRole: c.ShortcutTarget,
		}
	}

	return Plan{
		Roles:            append([]string{}, model.SpecialistRoles...),
		RequireModerator: true,
	}
}
