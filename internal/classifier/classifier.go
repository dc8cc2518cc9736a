package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"refinery.app/engine/internal/model"
)

// ErrInvalidInput is returned for an empty query, or one that is only
// whitespace after normalization.
var ErrInvalidInput = fmt.Errorf("query must not be empty")

// keywordSets maps each target role to a word-boundary-anchored pattern over
// its keyword set. Matching on \b prevents short keywords like "ui" from
// firing on substrings of unrelated words ("build", "require"). The order of
// this list does not affect the result; tieBreakOrder below decides.
var keywordSets = []struct {
	role    string
	pattern *regexp.Regexp
}{
	{model.RoleRevenue, regexp.MustCompile(`\b(revenue|money|income|pricing|monetization|profit|earnings)\b`)},
	{model.RoleUXUI, regexp.MustCompile(`\b(ui|ux|design|user experience|interface|usability|accessibility)\b`)},
	{model.RoleTechnical, regexp.MustCompile(`\b(technical|architecture|code|database|api|infrastructure|scalability)\b`)},
	{model.RoleDomain, regexp.MustCompile(`\b(business|domain|market|industry|compliance|regulation)\b`)},
}

// tieBreakOrder fixes the precedence applied when more than one keyword set
// matches: revenue > ux_ui > technical > domain.
var tieBreakOrder = []string{model.RoleRevenue, model.RoleUXUI, model.RoleTechnical, model.RoleDomain}

// Classify inspects query and the thread's history length (zero for a new
// thread) to produce a Classification, per spec.md §4.1. It performs no LLM call and is fully
// deterministic.
func Classify(query string, threadHistoryLen int, focusHint string) (model.Classification, error) {
	normalized := strings.TrimSpace(query)
	if normalized == "" {
		return model.Classification{}, ErrInvalidInput
	}

	isFollowup := threadHistoryLen > 0

	target := scanKeywords(normalized)
	if model.IsSpecialistRole(focusHint) {
		target = focusHint
	}

	queryKind := model.RoleGeneral
	if target != "" {
		queryKind = target
	}

	var shortcutTarget string
	if isFollowup {
		if target != "" {
			shortcutTarget = target
		} else {
			shortcutTarget = model.ShortcutModerator
		}
	}

	return model.Classification{
		QueryKind:      queryKind,
		IsFollowup:     isFollowup,
		ShortcutTarget: shortcutTarget,
	}, nil
}

// scanKeywords lowercases query and scans every keyword set, returning the
// highest-precedence role among all sets that matched, or "" if none did.
func scanKeywords(query string) string {
	lower := strings.ToLower(query)

	matched := make(map[string]bool, len(keywordSets))
	for _, set := range keywordSets {
		if set.pattern.MatchString(lower) {
			matched[set.role] = true
		}
	}

	for _, role := range tieBreakOrder {
		if matched[role] {
			return role
		}
	}
	return ""
}
