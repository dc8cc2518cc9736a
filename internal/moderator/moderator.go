package moderator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"refinery.app/engine/internal/analyzer"
	"refinery.app/engine/internal/model"
)

// role is the Analyzer role tag used for every moderator invocation,
// matching the ShortcutModerator target the classifier can emit.
const role = model.ShortcutModerator

// FinalAnswerMarker is the literal section header the moderator's prompt
// contract requires its output to contain, extracted verbatim by the
// finalizer.
const FinalAnswerMarker = "Final Answer:"

const systemPrompt = `You are the moderator reconciling multiple specialist analyses of a product ` +
	`requirement into one consensus answer. Summarize each present role's key claims. Resolve ` +
	`contradictions using this precedence: for feasibility questions prefer technical > domain > ux_ui > revenue; ` +
	`for market or positioning questions prefer domain > revenue > ux_ui > technical; otherwise merge without ` +
	`ranking. Produce a single narrative. End your response with a section literally labeled "` + FinalAnswerMarker + `" ` +
	`followed by the consolidated, user-facing answer.`

// Moderator aggregates specialist outputs into a consensus text via an
// Analyzer invocation.
type Moderator struct {
	Analyzer analyzer.Analyzer
}

// New creates a Moderator backed by a.
func New(a analyzer.Analyzer) *Moderator {
	return &Moderator{Analyzer: a}
}

// Moderate aggregates outputs (role -> analysis text, present roles only)
// into a consolidated text ending with a Final Answer section.
func (m *Moderator) Moderate(ctx context.Context, userQuery string, outputs map[string]string) (string, error) {
	if len(outputs) == 0 {
		return "", fmt.Errorf("moderator: no specialist outputs to aggregate")
	}

	rendered := renderOutputs(userQuery, outputs)
	return m.Analyzer.Analyze(ctx, role, systemPrompt, rendered)
}

// ModerateHistory handles the ShortcutModerator target: a follow-up query
// whose text gives the classifier no specific role signal, so the moderator
// synthesizes an answer from prior thread state rather than running a fresh
// specialist fan-out.
func (m *Moderator) ModerateHistory(ctx context.Context, userQuery string, history []model.ConversationEntry) (string, error) {
	rendered := renderHistory(userQuery, history)
	return m.Analyzer.Analyze(ctx, role, systemPrompt, rendered)
}

func renderOutputs(userQuery string, outputs map[string]string) string {
	roles := make([]string, 0, len(outputs))
	for r := range outputs {
		roles = append(roles, r)
	}
	sort.Strings(roles)

	var b strings.Builder
	fmt.Fprintf(&b, "User query: %s\n\n", userQuery)
	for _, r := range roles {
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", r, outputs[r])
	}
	return b.String()
}

func renderHistory(userQuery string, history []model.ConversationEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Follow-up query: %s\n\nPrior thread state:\n\n", userQuery)
	for _, entry := range history {
		fmt.Fprintf(&b, "[%s] Q: %s / A: %s\n\n", entry.Timestamp.Format("2006-01-02T15:04:05Z07:00"), entry.UserQuery, entry.FinalAnswer)
	}
	return b.String()
}
