package supervisor

import (
	"testing"

	"refinery.app/engine/internal/model"
)

func TestBuildPlan_FullPipeline(t *testing.T) {
	plan := BuildPlan(model.Classification{QueryKind: model.RoleGeneral})

	if plan.Shortcut() {
		t.Fatalf("Shortcut() = true, want false")
	}
	if !plan.RequireModerator {
		t.Error("RequireModerator = false, want true")
	}
	if len(plan.Roles) != 4 {
		t.Errorf("len(Roles) = %d, want 4", len(plan.Roles))
	}
}

func TestBuildPlan_SpecialistShortcut(t *testing.T) {
	plan := BuildPlan(model.Classification{QueryKind: model.RoleRevenue, IsFollowup: true, ShortcutTarget: model.RoleRevenue})

	if !plan.Shortcut() {
		t.Fatal("Shortcut() = false, want true")
	}
	if plan.RequireModerator {
		t.Error("RequireModerator = true, want false")
	}
	if len(plan.Roles) != 1 || plan.Roles[0] != model.RoleRevenue {
		t.Errorf("Roles = %v, want [revenue]", plan.Roles)
	}
}

func TestBuildPlan_ModeratorShortcut(t *testing.T) {
	plan := BuildPlan(model.Classification{QueryKind: model.RoleGeneral, IsFollowup: true, ShortcutTarget: model.ShortcutModerator})

	if !plan.Shortcut() {
		t.Fatal("Shortcut() = false, want true")
	}
	if plan.Roles[0] != model.ShortcutModerator {
		t.Errorf("Roles = %v, want [moderator]", plan.Roles)
	}
}
