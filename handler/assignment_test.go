package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/WiesHerd/contractpipeline/model"
	"github.com/WiesHerd/contractpipeline/service"
	"github.com/gin-gonic/gin"
)

func (e *testEnv) assignmentRouter() *gin.Engine {
	h := NewAssignmentHandler(e.tracker, e.sessions)
	s := NewSessionHandler(e.sessions)
	r := e.router()
	r.GET("/assignments", h.List)
	r.GET("/assignments/:providerId", h.Resolve)
	r.PUT("/assignments/:providerId", h.Assign)
	r.DELETE("/assignments/:providerId", h.Unassign)
	r.POST("/assignments/bulk", h.BulkAssign)
	r.POST("/assignments/clear", h.Clear)
	r.POST("/assignments/smart", h.SmartAssign)
	r.PUT("/assignments/selected", h.Select)
	r.POST("/session/logout", s.Logout)
	return r
}

func TestAssignmentHandlerFlow(t *testing.T) {
	env := newTestEnv(t)
	r := env.assignmentRouter()

	w := doJSON(t, r, "PUT", "/assignments/p1", AssignRequest{TemplateID: "t1"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, "GET", "/assignments/p1", nil)
	body := decode[map[string]any](t, w)
	if body["manual_template_id"] != "t1" {
		t.Errorf("Expected manual assignment t1, got %v", body)
	}

	w = doJSON(t, r, "PUT", "/assignments/p1", AssignRequest{TemplateID: "nope"})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown template, got %d", w.Code)
	}

	w = doJSON(t, r, "DELETE", "/assignments/p1", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	w = doJSON(t, r, "GET", "/assignments/p1", nil)
	if body := decode[map[string]any](t, w); body["template"] != nil {
		t.Errorf("Expected no template after unassign, got %v", body["template"])
	}
}

func TestAssignmentHandlerBulkAndClear(t *testing.T) {
	env := newTestEnv(t)
	r := env.assignmentRouter()

	w := doJSON(t, r, "POST", "/assignments/bulk", BulkAssignRequest{TemplateID: "t1", ProviderIDs: []string{"p1", "p2"}})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if n := decode[map[string]int](t, w)["assigned_count"]; n != 2 {
		t.Errorf("Expected 2 assigned, got %d", n)
	}

	w = doJSON(t, r, "GET", "/assignments", nil)
	list := decode[struct {
		Assignments map[string]string `json:"assignments"`
	}](t, w)
	if len(list.Assignments) != 2 || list.Assignments["p2"] != "t1" {
		t.Errorf("Unexpected assignments %v", list.Assignments)
	}

	w = doJSON(t, r, "POST", "/assignments/clear", ClearRequest{ProviderIDs: []string{"p1"}})
	if n := decode[map[string]int](t, w)["cleared_count"]; n != 1 {
		t.Errorf("Expected 1 cleared, got %d", n)
	}
	w = doJSON(t, r, "POST", "/assignments/clear", ClearRequest{All: true})
	if n := decode[map[string]int](t, w)["cleared_count"]; n != 1 {
		t.Errorf("Expected 1 cleared, got %d", n)
	}
	if w := doJSON(t, r, "POST", "/assignments/clear", ClearRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}

	if w := doJSON(t, r, "POST", "/assignments/bulk", map[string]any{"template_id": "t1"}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without provider_ids, got %d", w.Code)
	}
}

func TestAssignmentHandlerSmartAndSelect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.repo.Templates.Save(ctx, &model.Template{ID: "t2", Name: "Cardiology", PreviewContent: "x", ContractYear: 2024}); err != nil {
		t.Fatalf("Failed to seed template: %v", err)
	}
	r := env.assignmentRouter()

	w := doJSON(t, r, "POST", "/assignments/smart", SmartAssignRequest{All: true})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	res := decode[service.SmartAssignResult](t, w)
	if res.AssignedCount != 2 || res.Assignments["p1"] != "t2" || res.Assignments["p2"] != "t1" {
		t.Errorf("Unexpected smart assignment %+v", res)
	}

	w = doJSON(t, r, "PUT", "/assignments/selected", SelectRequest{TemplateID: "t2"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	store, _ := env.sessions.Open(ctx, "s1")
	if store.Selected() != "t2" {
		t.Errorf("Expected selected template t2, got %s", store.Selected())
	}
}

func TestSessionLogout(t *testing.T) {
	env := newTestEnv(t)
	r := env.assignmentRouter()
	doJSON(t, r, "PUT", "/assignments/p1", AssignRequest{TemplateID: "t1"})

	w := doJSON(t, r, "POST", "/session/logout", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	w = doJSON(t, r, "GET", "/assignments", nil)
	list := decode[struct {
		Assignments map[string]string `json:"assignments"`
	}](t, w)
	if len(list.Assignments) != 0 {
		t.Errorf("Expected empty assignments after logout, got %v", list.Assignments)
	}
}

func TestAssignmentHandlerNoSession(t *testing.T) {
	env := newTestEnv(t)
	h := NewAssignmentHandler(env.tracker, env.sessions)
	r := gin.New()
	r.GET("/assignments", h.List)

	if w := doJSON(t, r, "GET", "/assignments", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without a session, got %d", w.Code)
	}
}
