package orchestrator_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"refinery.app/engine/internal/analyzer"
	"refinery.app/engine/internal/model"
	"refinery.app/engine/internal/orchestrator"
	"refinery.app/engine/internal/store"
)

func collectEvents(ch <-chan orchestrator.Event) []orchestrator.Event {
	var events []orchestrator.Event
	for e := range ch {
		events = append(events, e)
	}
	return events
}

func eventTypes(events []orchestrator.Event) []orchestrator.EventType {
	types := make([]orchestrator.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx       context.Context
		mockStore *store.InMemoryStore
		mockLLM   *analyzer.MockAnalyzer
		orch      *orchestrator.Orchestrator
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockStore = store.NewInMemoryStore(5)
		mockLLM = analyzer.NewMockAnalyzer(map[string]string{
			model.RoleDomain:    "Domain analysis.",
			model.RoleUXUI:      "UX analysis.",
			model.RoleTechnical: "Technical analysis.",
			model.RoleRevenue:   "Revenue analysis.",
			model.ShortcutModerator: "Narrative text.\n\nFinal Answer:\nConsolidated plan.",
		})
		orch = orchestrator.New(mockStore, mockLLM, orchestrator.DefaultConfig())
	})

	Describe("full pipeline (initial query, empty thread)", func() {
		It("runs classification, all four specialists, the moderator, then completes", func() {
			events := collectEvents(orch.Run(ctx, model.Query{Text: "Build a food delivery app"}))

			types := eventTypes(events)
			Expect(types).To(ContainElement(orchestrator.EventClassification))
			Expect(types).To(ContainElement(orchestrator.EventModeratorStart))
			Expect(types).To(ContainElement(orchestrator.EventModeratorResult))
			Expect(types[len(types)-1]).To(Equal(orchestrator.EventComplete))

			specialistStarts := 0
			specialistResults := 0
			for _, t := range types {
				if t == orchestrator.EventSpecialistStart {
					specialistStarts++
				}
				if t == orchestrator.EventSpecialistResult {
					specialistResults++
				}
			}
			Expect(specialistStarts).To(Equal(4))
			Expect(specialistResults).To(Equal(4))

			last := events[len(events)-1]
			Expect(last.Entry).NotTo(BeNil())
			Expect(last.Entry.FinalAnswer).To(Equal("Consolidated plan."))
			Expect(last.Entry.RouteDecision).To(Equal(model.RouteFullPipeline))
			Expect(last.Entry.SpecialistOutputs).To(HaveLen(4))
			Expect(last.Entry.ModeratorOutput).NotTo(BeEmpty())
		})
	})

	Describe("shortcut mode (follow-up with a routing signal)", func() {
		It("dispatches only the targeted specialist", func() {
			first := collectEvents(orch.Run(ctx, model.Query{Text: "Build a food delivery app"}))
			threadID := first[len(first)-1].Entry.ThreadID

			events := collectEvents(orch.Run(ctx, model.Query{
				Text:     "What pricing strategy should I use?",
				ThreadID: threadID,
			}))

			types := eventTypes(events)
			Expect(types).To(Equal([]orchestrator.EventType{
				orchestrator.EventClassification,
				orchestrator.EventSupervisorPlan,
				orchestrator.EventSpecialistStart,
				orchestrator.EventSpecialistResult,
				orchestrator.EventFinalAnswer,
				orchestrator.EventComplete,
			}))

			last := events[len(events)-1]
			Expect(last.Entry.RouteDecision).To(Equal(model.RouteShortcut(model.RoleRevenue)))
			Expect(last.Entry.SpecialistOutputs).To(HaveLen(1))
			Expect(last.Entry.ModeratorOutput).To(BeEmpty())
		})
	})

	Describe("shortcut mode request-deadline expiry", func() {
		It("emits a timeout error, not upstream_unavailable, when the request deadline fires mid-call", func() {
			first := collectEvents(orch.Run(ctx, model.Query{Text: "Build a food delivery app"}))
			threadID := first[len(first)-1].Entry.ThreadID

			slowLLM := analyzer.NewMockAnalyzer(map[string]string{
				model.RoleRevenue: "Tiered pricing works well here.",
			})
			slowLLM.Delay = 50 * time.Millisecond

			cfg := orchestrator.DefaultConfig()
			cfg.RequestTimeout = time.Millisecond
			cfg.Retry.MaxAttempts = 1
			orch = orchestrator.New(mockStore, slowLLM, cfg)

			events := collectEvents(orch.Run(ctx, model.Query{
				Text:     "What pricing strategy should I use?",
				ThreadID: threadID,
			}))

			last := events[len(events)-1]
			Expect(last.Type).To(Equal(orchestrator.EventError), "a request-deadline expiry mid-call must not be misreported as upstream_unavailable")
			Expect(last.ErrorKind).To(Equal(string(orchestrator.ErrorKindTimeout)))
		})
	})

	Describe("caller-induced cancellation", func() {
		It("emits cancelled, not a timeout error, when the caller cancels its own context", func() {
			first := collectEvents(orch.Run(ctx, model.Query{Text: "Build a food delivery app"}))
			threadID := first[len(first)-1].Entry.ThreadID

			slowLLM := analyzer.NewMockAnalyzer(map[string]string{
				model.RoleRevenue: "Tiered pricing works well here.",
			})
			slowLLM.Delay = 50 * time.Millisecond

			cfg := orchestrator.DefaultConfig()
			cfg.Retry.MaxAttempts = 1
			orch = orchestrator.New(mockStore, slowLLM, cfg)

			cancelCtx, cancel := context.WithCancel(ctx)
			time.AfterFunc(time.Millisecond, cancel)

			events := collectEvents(orch.Run(cancelCtx, model.Query{
				Text:     "What pricing strategy should I use?",
				ThreadID: threadID,
			}))

			last := events[len(events)-1]
			Expect(last.Type).To(Equal(orchestrator.EventCancelled))
		})
	})

	Describe("invalid input", func() {
		It("rejects an empty query without persisting anything", func() {
			events := collectEvents(orch.Run(ctx, model.Query{Text: ""}))

			Expect(events).To(HaveLen(1))
			Expect(events[0].Type).To(Equal(orchestrator.EventError))
			Expect(events[0].ErrorKind).To(Equal(string(orchestrator.ErrorKindInvalidInput)))

			stats, err := mockStore.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TotalEntries).To(BeZero())
		})
	})

	Describe("upstream unavailable", func() {
		It("surfaces UpstreamUnavailable when every specialist fails after retries", func() {
			failingLLM := analyzer.NewMockAnalyzer(nil)
			for _, role := range model.SpecialistRoles {
				failingLLM.Fail[role] = context.DeadlineExceeded
			}
			failingLLM.Fail[model.ShortcutModerator] = context.DeadlineExceeded

			cfg := orchestrator.DefaultConfig()
			cfg.Retry.MaxAttempts = 1
			orch = orchestrator.New(mockStore, failingLLM, cfg)

			events := collectEvents(orch.Run(ctx, model.Query{Text: "Build a food delivery app"}))

			types := eventTypes(events)
			Expect(types[0]).To(Equal(orchestrator.EventClassification))
			Expect(types[1]).To(Equal(orchestrator.EventSupervisorPlan))
			Expect(types).NotTo(ContainElement(orchestrator.EventSpecialistResult))
			Expect(types).NotTo(ContainElement(orchestrator.EventModeratorStart))

			last := events[len(events)-1]
			Expect(last.Type).To(Equal(orchestrator.EventError))
			Expect(last.ErrorKind).To(Equal(string(orchestrator.ErrorKindUpstreamUnavailable)))

			stats, err := mockStore.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TotalEntries).To(BeZero())
		})
	})

	Describe("whole-request timeout", func() {
		It("emits a timeout error and persists nothing", func() {
			cfg := orchestrator.DefaultConfig()
			cfg.RequestTimeout = time.Millisecond
			mockLLM.Delay = 50 * time.Millisecond
			orch = orchestrator.New(mockStore, mockLLM, cfg)

			events := collectEvents(orch.Run(ctx, model.Query{Text: "Build a food delivery app"}))

			last := events[len(events)-1]
			Expect(last.Type).To(Equal(orchestrator.EventError))
			Expect(last.ErrorKind).To(Equal(string(orchestrator.ErrorKindTimeout)))

			stats, err := mockStore.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TotalEntries).To(BeZero())
		})
	})

	Describe("duplicate detection", func() {
		It("tags the second identical answer as duplicate without rejecting it", func() {
			first := collectEvents(orch.Run(ctx, model.Query{Text: "Build a food delivery app"}))
			threadID := first[len(first)-1].Entry.ThreadID

			second := collectEvents(orch.Run(ctx, model.Query{Text: "Build a food delivery app", ThreadID: threadID}))
			Expect(second[len(second)-1].Type).To(Equal(orchestrator.EventComplete))

			entries, err := mockStore.List(ctx, threadID, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))

			duplicateCount := 0
			for _, e := range entries {
				if e.Duplicate {
					duplicateCount++
				}
			}
			Expect(duplicateCount).To(Equal(1))
		})
	})
})
