package specialist

import (
	"context"
	"fmt"
	"strings"

	"refinery.app/engine/internal/analyzer"
	"refinery.app/engine/internal/model"
)

// DefaultHistoryContextLimit is K in spec.md §4.3: the number of most-recent
// thread entries rendered into a specialist's context.
const DefaultHistoryContextLimit = 10

// prompts holds the role-specific system prompt each specialist binds to.
// Every specialist is otherwise identical: a pure (role, query, history) ->
// text adapter over Analyzer.
var prompts = map[string]string{
	model.RoleDomain: "You are a domain expert evaluating a product requirement from a business, " +
		"market, and regulatory perspective. Identify domain-specific risks, compliance concerns, " +
		"and how the requirement fits the target industry. Be concrete and concise.",
	model.RoleUXUI: "You are a UX/UI specialist evaluating a product requirement. Focus on usability, " +
		"accessibility, information architecture, and interaction design implications. Be concrete and concise.",
	model.RoleTechnical: "You are a technical architect evaluating a product requirement. Focus on " +
		"system design, data model, API surface, infrastructure, and scalability implications. " +
		"Be concrete and concise.",
	model.RoleRevenue: "You are a revenue analyst evaluating a product requirement. Focus on monetization, " +
		"pricing strategy, and business-model impact. Be concrete and concise.",
}

// Pool is a thin registry binding each of the four roles to a prompt and an
// Analyzer to invoke it through.
type Pool struct {
	Analyzer            analyzer.Analyzer
	HistoryContextLimit int
}

// NewPool creates a specialist Pool. A non-positive limit falls back to
// DefaultHistoryContextLimit.
func NewPool(a analyzer.Analyzer, historyContextLimit int) *Pool {
	if historyContextLimit <= 0 {
		historyContextLimit = DefaultHistoryContextLimit
	}
	return &Pool{Analyzer: a, HistoryContextLimit: historyContextLimit}
}

// Run invokes the specialist bound to role with userQuery and the rendered
// thread history, capped at HistoryContextLimit entries.
func (p *Pool) Run(ctx context.Context, role, userQuery string, history []model.ConversationEntry) (string, error) {
	prompt, ok := prompts[role]
	if !ok {
		return "", fmt.Errorf("specialist: unknown role %q", role)
	}

	rendered := RenderContext(userQuery, history, p.HistoryContextLimit)
	return p.Analyzer.Analyze(ctx, role, prompt, rendered)
}

// RenderContext formats the user query and up to limit most-recent history
// entries as "[timestamp] Q: ... / A: ..." blocks joined by blank lines, per
// spec.md §4.3.
func RenderContext(userQuery string, history []model.ConversationEntry, limit int) string {
	var b strings.Builder

	capped := history
	if limit > 0 && len(capped) > limit {
		capped = capped[:limit]
	}

	for _, entry := range capped {
		fmt.Fprintf(&b, "[%s] Q: %s / A: %s\n\n", entry.Timestamp.Format("2006-01-02T15:04:05Z07:00"), entry.UserQuery, entry.FinalAnswer)
	}

	b.WriteString("Current query: ")
	b.WriteString(userQuery)

	return b.String()
}
