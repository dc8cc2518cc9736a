package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"refinery.app/engine/common/id"
	"refinery.app/engine/common/logger"
	"refinery.app/engine/internal/analyzer"
	"refinery.app/engine/internal/classifier"
	"refinery.app/engine/internal/finalizer"
	"refinery.app/engine/internal/model"
	"refinery.app/engine/internal/moderator"
	"refinery.app/engine/internal/specialist"
	"refinery.app/engine/internal/store"
	"refinery.app/engine/internal/supervisor"
)

// eventStreamCap bounds the orchestrator's event channel per spec.md §5: a
// slow client reading the stream backpressures emission once the channel
// fills, which in turn paces the orchestrator rather than buffering without
// limit.
const eventStreamCap = 64

// Config holds the tunables spec.md §6.4 exposes.
type Config struct {
	HistoryContextLimit int
	AnalyzerTimeout     time.Duration
	RequestTimeout      time.Duration
	Retry               analyzer.RetryConfig
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		HistoryContextLimit: specialist.DefaultHistoryContextLimit,
		AnalyzerTimeout:     45 * time.Second,
		RequestTimeout:      180 * time.Second,
		Retry:               analyzer.DefaultRetryConfig(),
	}
}

// Orchestrator drives the classifier -> supervisor -> specialist fan-out ->
// moderator -> finalizer state machine and emits its progress as a stream of
// Events.
type Orchestrator struct {
	Store       store.MemoryStore
	Specialists *specialist.Pool
	Moderator   *moderator.Moderator
	Finalizer   *finalizer.Finalizer
	Config      Config
}

// New wires an Orchestrator from its component parts.
func New(s store.MemoryStore, a analyzer.Analyzer, cfg Config) *Orchestrator {
	if cfg.HistoryContextLimit <= 0 {
		cfg.HistoryContextLimit = specialist.DefaultHistoryContextLimit
	}
	if cfg.AnalyzerTimeout <= 0 {
		cfg.AnalyzerTimeout = 45 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 180 * time.Second
	}

	return &Orchestrator{
		Store:       s,
		Specialists: specialist.NewPool(a, cfg.HistoryContextLimit),
		Moderator:   moderator.New(a),
		Finalizer:   finalizer.New(s),
		Config:      cfg,
	}
}

// Run drives one request end to end, returning a channel of Events. The
// channel is closed after the terminal event (complete, cancelled, or
// error) is sent. Cancelling ctx stops dispatching new Analyzer calls,
// abandons in-flight ones, and suppresses the finalize/commit step.
func (o *Orchestrator) Run(ctx context.Context, q model.Query) <-chan Event {
	events := make(chan Event, eventStreamCap)

	go func() {
		defer close(events)

		ctx, cancel := context.WithTimeout(ctx, o.Config.RequestTimeout)
		defer cancel()

		sc := logger.StartSpan(ctx, "engine.orchestrator.run")
		ctx = sc.Context()
		defer sc.End()

		if err := o.run(ctx, q, events); err != nil {
			sc.RecordError(err)
			o.emitTerminalError(ctx, events, err)
		}
	}()

	return events
}

func (o *Orchestrator) run(ctx context.Context, q model.Query, events chan<- Event) error {
	threadID := q.ThreadID
	if threadID == "" {
		threadID = strconv.FormatInt(id.New(), 10)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ThreadID:  logger.Ptr(threadID),
		Component: "engine.orchestrator",
	})

	history, err := o.Store.List(ctx, threadID, 0)
	if err != nil {
		return newError(ErrorKindStorageError, "loading thread history", err)
	}

	classification, err := classifier.Classify(q.Text, len(history), q.FocusHint)
	if err != nil {
		return newError(ErrorKindInvalidInput, "classifying query", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	send(ctx, events, Event{Type: EventClassification, State: StateClassified, Classification: &classification})
	ctx = logger.WithLogFields(ctx, logger.LogFields{QueryKind: logger.Ptr(classification.QueryKind)})

	plan := supervisor.BuildPlan(classification)
	send(ctx, events, Event{Type: EventSupervisorPlan, State: StateClassified, Roles: plan.Roles})

	start := time.Now()
	var (
		specialistOutputs map[string]string
		moderatorOutput   string
		routeDecision     string
	)

	if plan.Shortcut() {
		specialistOutputs, err = o.runShortcut(ctx, q, history, plan.ShortcutRole, events)
		routeDecision = model.RouteShortcut(plan.ShortcutRole)
	} else {
		specialistOutputs, moderatorOutput, err = o.runFullPipeline(ctx, q, history, events)
		routeDecision = model.RouteFullPipeline
	}
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var finalAnswer string
	if moderatorOutput != "" {
		finalAnswer = finalizer.ExtractFinalAnswer(moderatorOutput)
	} else {
		for _, text := range specialistOutputs {
			finalAnswer = text
		}
	}
	send(ctx, events, Event{Type: EventFinalAnswer, State: StateFinalizing, Content: finalAnswer})

	entryID := strconv.FormatInt(id.New(), 10)
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EntryID:   logger.Ptr(entryID),
		RouteKind: logger.Ptr(routeDecision),
	})

	entry, err := o.Finalizer.Finalize(ctx, buildFinalizerInput(
		entryID, threadID, q.Text, classification, time.Since(start).Milliseconds(),
		specialistOutputs, moderatorOutput, routeDecision,
	))
	if err != nil {
		send(ctx, events, Event{Type: EventError, State: StateFailed, ErrorKind: string(ErrorKindStorageError), Message: err.Error()})
		return nil // final_answer already emitted; suppress the duplicate terminal error path
	}

	send(ctx, events, Event{Type: EventComplete, State: StateDone, Entry: &entry})
	return nil
}

// runShortcut dispatches a single Analyzer invocation: either a specific
// specialist role, or the moderator summarizing prior thread state.
func (o *Orchestrator) runShortcut(ctx context.Context, q model.Query, history []model.ConversationEntry, role string, events chan<- Event) (map[string]string, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	send(ctx, events, Event{Type: EventSpecialistStart, State: StateShortcutRunning, Role: role})

	var (
		text string
		err  error
	)
	if role == moderatorRole() {
		text, err = analyzer.WithRetry(ctx, o.Config.Retry, role, func(ctx context.Context) (string, error) {
			callCtx, cancel := context.WithTimeout(ctx, o.Config.AnalyzerTimeout)
			defer cancel()
			return o.Moderator.ModerateHistory(callCtx, q.Text, history)
		})
	} else {
		text, err = analyzer.WithRetry(ctx, o.Config.Retry, role, func(ctx context.Context) (string, error) {
			callCtx, cancel := context.WithTimeout(ctx, o.Config.AnalyzerTimeout)
			defer cancel()
			return o.Specialists.Run(callCtx, role, q.Text, history)
		})
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newError(ErrorKindUpstreamUnavailable, fmt.Sprintf("shortcut role %q failed after retries", role), err)
	}
	if role == moderatorRole() {
		// As in the full pipeline, the moderator's answer is its Final Answer
		// section, not the whole narrative.
		text = finalizer.ExtractFinalAnswer(text)
	}

	send(ctx, events, Event{Type: EventSpecialistResult, State: StateShortcutRunning, Role: role, Content: text})
	return map[string]string{role: text}, nil
}

// specialistCompletion carries one specialist's outcome across the
// completion channel, mirroring the teacher's bounded-semaphore fan-out: a
// task produces (role, result-or-error); the barrier collects exactly four
// signals before the moderator stage starts.
type specialistCompletion struct {
	role string
	text string
	err  error
}

func (o *Orchestrator) runFullPipeline(ctx context.Context, q model.Query, history []model.ConversationEntry, events chan<- Event) (map[string]string, string, error) {
	if ctx.Err() != nil {
		return nil, "", ctx.Err()
	}

	roles := model.SpecialistRoles
	completions := make(chan specialistCompletion, len(roles))

	var wg sync.WaitGroup
	for _, role := range roles {
		send(ctx, events, Event{Type: EventSpecialistStart, State: StateFanoutRunning, Role: role})

		wg.Add(1)
		go func(role string) {
			defer wg.Done()

			text, err := analyzer.WithRetry(ctx, o.Config.Retry, role, func(ctx context.Context) (string, error) {
				callCtx, cancel := context.WithTimeout(ctx, o.Config.AnalyzerTimeout)
				defer cancel()
				return o.Specialists.Run(callCtx, role, q.Text, history)
			})
			completions <- specialistCompletion{role: role, text: text, err: err}
		}(role)
	}

	go func() {
		wg.Wait()
		close(completions)
	}()

	outputs := make(map[string]string, len(roles))
	for c := range completions {
		if c.err != nil {
			slog.WarnContext(ctx, "specialist failed after retries, excluding from aggregation", "role", c.role, "error", c.err)
			continue
		}
		outputs[c.role] = c.text
		send(ctx, events, Event{Type: EventSpecialistResult, State: StateFanoutRunning, Role: c.role, Content: c.text})
	}

	if ctx.Err() != nil {
		return nil, "", ctx.Err()
	}
	if len(outputs) == 0 {
		return nil, "", newError(ErrorKindUpstreamUnavailable, "all specialists failed after retries", nil)
	}

	send(ctx, events, Event{Type: EventModeratorStart, State: StateModerating})

	moderatorText, err := analyzer.WithRetry(ctx, o.Config.Retry, moderatorRole(), func(ctx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, o.Config.AnalyzerTimeout)
		defer cancel()
		return o.Moderator.Moderate(callCtx, q.Text, outputs)
	})
	if err != nil {
		// Moderator failure is RECOVERED: fall back to the first successful
		// specialist's text, still carried as moderator_output so the
		// finalizer's full_pipeline invariant (moderator_output present) holds.
		slog.WarnContext(ctx, "moderator failed after retries, falling back to first specialist", "error", err)
		moderatorText = fallbackModeratorText(outputs)
	}

	send(ctx, events, Event{Type: EventModeratorResult, State: StateModerating, Content: moderatorText})
	return outputs, moderatorText, nil
}

func fallbackModeratorText(outputs map[string]string) string {
	for _, role := range model.SpecialistRoles {
		if text, ok := outputs[role]; ok {
			return "Final Answer:\n" + text
		}
	}
	for _, text := range outputs {
		return "Final Answer:\n" + text
	}
	return ""
}

func moderatorRole() string {
	return model.ShortcutModerator
}

func buildFinalizerInput(entryID, threadID, userQuery string, c model.Classification, processingTimeMS int64, specialistOutputs map[string]string, moderatorOutput, routeDecision string) finalizer.Input {
	return finalizer.Input{
		EntryID:           entryID,
		ThreadID:          threadID,
		Timestamp:         time.Now(),
		UserQuery:         userQuery,
		QueryKind:         c.QueryKind,
		IsFollowup:        c.IsFollowup,
		ProcessingTimeMS:  processingTimeMS,
		SpecialistOutputs: specialistOutputs,
		ModeratorOutput:   moderatorOutput,
		RouteDecision:     routeDecision,
	}
}

// send enqueues an event unless ctx is already done, so a cancelled request
// stops growing its own event stream once the caller has given up.
func send(ctx context.Context, events chan<- Event, e Event) {
	select {
	case events <- e:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) emitTerminalError(ctx context.Context, events chan<- Event, err error) {
	var orchErr *Error
	if errors.As(err, &orchErr) {
		events <- Event{Type: EventError, State: StateFailed, ErrorKind: string(orchErr.Kind), Message: orchErr.Error()}
		return
	}

	// DeadlineExceeded must be checked before the generic cancellation
	// fallback below: context.WithTimeout makes ctx.Err() non-nil on
	// expiry too, so a naive "is the context done" check would misreport
	// a whole-request timeout as a plain cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		events <- Event{Type: EventError, State: StateFailed, ErrorKind: string(ErrorKindTimeout), Message: "request deadline exceeded"}
		return
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		events <- Event{Type: EventCancelled, State: StateCancelled}
		return
	}

	events <- Event{Type: EventError, State: StateFailed, ErrorKind: string(ErrorKindInternal), Message: err.Error()}
}

// History returns the most-recent-first entries for a thread, per
// spec.md §4.6.
func (o *Orchestrator) History(ctx context.Context, threadID string, limit int) ([]model.ConversationEntry, error) {
	return o.Store.List(ctx, threadID, limit)
}

// Search matches text against a thread's entries.
func (o *Orchestrator) Search(ctx context.Context, threadID, text string, limit int) ([]model.ConversationEntry, error) {
	return o.Store.Search(ctx, threadID, text, limit)
}

// Clear deletes every entry owned by threadID and returns the count deleted.
func (o *Orchestrator) Clear(ctx context.Context, threadID string) (int, error) {
	return o.Store.DeleteThread(ctx, threadID)
}
