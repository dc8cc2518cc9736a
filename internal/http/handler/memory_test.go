package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"refinery.app/engine/internal/analyzer"
	"refinery.app/engine/internal/http/handler"
	"refinery.app/engine/internal/model"
	"refinery.app/engine/internal/orchestrator"
	"refinery.app/engine/internal/store"
)

var _ = Describe("MemoryHandler", func() {
	var (
		router *gin.Engine
		memory *store.InMemoryStore
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		memory = store.NewInMemoryStore(5)
		orch := orchestrator.New(memory, analyzer.NewMockAnalyzer(nil), orchestrator.DefaultConfig())
		h := handler.NewMemoryHandler(orch)
		router.GET("/memory/stats", h.Stats)
		router.GET("/memory/:thread_id", h.History)
		router.GET("/memory/:thread_id/search", h.Search)
		router.DELETE("/memory/:thread_id", h.Clear)
	})

	Describe("History", func() {
		It("returns persisted entries and aggregate stats for a thread", func() {
			Expect(memory.Append(reqCtx(), model.ConversationEntry{
				EntryID: "1", ThreadID: "t1", FinalAnswer: "answer one",
			})).To(Succeed())

			req := httptest.NewRequest(http.MethodGet, "/memory/t1", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]interface{}
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			entries := resp["entries"].([]interface{})
			Expect(entries).To(HaveLen(1))
		})
	})

	Describe("Search", func() {
		It("matches entries by substring", func() {
			Expect(memory.Append(reqCtx(), model.ConversationEntry{
				EntryID: "1", ThreadID: "t1", UserQuery: "pricing tiers", FinalAnswer: "answer one",
			})).To(Succeed())
			Expect(memory.Append(reqCtx(), model.ConversationEntry{
				EntryID: "2", ThreadID: "t1", UserQuery: "onboarding flow", FinalAnswer: "answer two",
			})).To(Succeed())

			req := httptest.NewRequest(http.MethodGet, "/memory/t1/search?q=pricing", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]interface{}
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			results := resp["results"].([]interface{})
			Expect(results).To(HaveLen(1))
		})
	})

	Describe("Clear", func() {
		It("deletes every entry for a thread and reports the count", func() {
			Expect(memory.Append(reqCtx(), model.ConversationEntry{
				EntryID: "1", ThreadID: "t1", FinalAnswer: "answer one",
			})).To(Succeed())

			req := httptest.NewRequest(http.MethodDelete, "/memory/t1", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]interface{}
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["cleared"]).To(Equal(true))
			Expect(resp["count"]).To(Equal(float64(1)))
		})
	})

	Describe("Stats", func() {
		It("reports aggregate counters across threads", func() {
			req := httptest.NewRequest(http.MethodGet, "/memory/stats", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
		})
	})
})

func reqCtx() (ctx context.Context) {
	return context.Background()
}
