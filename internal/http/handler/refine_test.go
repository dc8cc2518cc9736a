package handler_test

import (
	"bytes"
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

var _ = Describe("RefineHandler", func() {
	var (
		router *gin.Engine
	)

	newRouter := func(mock *analyzer.MockAnalyzer) *gin.Engine {
		gin.SetMode(gin.TestMode)
		r := gin.New()
		orch := orchestrator.New(store.NewInMemoryStore(5), mock, orchestrator.DefaultConfig())
		h := handler.NewRefineHandler(orch)
		r.POST("/api/refine-requirements", h.Create)
		r.GET("/api/refine-requirements/schema", h.Schema)
		return r
	}

	Describe("Create", func() {
		It("returns 200 with the consolidated final answer on success", func() {
			mock := analyzer.NewMockAnalyzer(map[string]string{
				model.RoleDomain:       "Domain take.",
				model.RoleUXUI:         "UX take.",
				model.RoleTechnical:    "Technical take.",
				model.RoleRevenue:      "Revenue take.",
				model.ShortcutModerator: "Summary.\n\nFinal Answer:\nShip it.",
			})
			router = newRouter(mock)

			body, _ := json.Marshal(map[string]string{"query": "Build a loyalty program"})
			req := httptest.NewRequest(http.MethodPost, "/api/refine-requirements", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]interface{}
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["final_answer"]).To(Equal("Ship it."))
			Expect(resp["thread_id"]).NotTo(BeEmpty())
		})

		It("returns 400 when the query is empty", func() {
			router = newRouter(analyzer.NewMockAnalyzer(nil))

			body, _ := json.Marshal(map[string]string{"query": ""})
			req := httptest.NewRequest(http.MethodPost, "/api/refine-requirements", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 502 when every specialist fails", func() {
			mock := analyzer.NewMockAnalyzer(nil)
			for _, role := range model.SpecialistRoles {
				mock.Fail[role] = errBoom
			}
			router = newRouter(mock)

			body, _ := json.Marshal(map[string]string{"query": "Build a loyalty program"})
			req := httptest.NewRequest(http.MethodPost, "/api/refine-requirements", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadGateway))
		})
	})

	Describe("Schema", func() {
		It("returns a JSON Schema document for the request and response DTOs", func() {
			router = newRouter(analyzer.NewMockAnalyzer(nil))

			req := httptest.NewRequest(http.MethodGet, "/api/refine-requirements/schema", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]interface{}
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp).To(HaveKey("request"))
			Expect(resp).To(HaveKey("response"))
		})
	})
})

var errBoom = boomError{}

type boomError struct{}

func (boomError) Error() string { return "boom" }
