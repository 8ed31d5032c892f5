package handler

import (
	"net/http"

	"github.com/WiesHerd/contractpipeline/service"
	"github.com/gin-gonic/gin"
)

type AssignmentHandler struct {
	tracker  *service.Tracker
	sessions *service.Sessions
}

func NewAssignmentHandler(tracker *service.Tracker, sessions *service.Sessions) *AssignmentHandler {
	return &AssignmentHandler{tracker: tracker, sessions: sessions}
}

// List returns the session's manual assignments and the selected template.
func (h *AssignmentHandler) List(c *gin.Context) {
	store, ok := openSession(c, h.sessions)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"selected_template_id": store.Selected(),
		"assignments":          store.Snapshot(),
	})
}

// Resolve returns the template that applies to one provider, or null.
func (h *AssignmentHandler) Resolve(c *gin.Context) {
	store, ok := openSession(c, h.sessions)
	if !ok {
		return
	}
	providerID := c.Param("providerId")
	tpl, err := h.tracker.ResolveTemplate(c.Request.Context(), store, providerID)
	if err != nil {
		respondError(c, err)
		return
	}
	manual, _ := store.Get(providerID)
	c.JSON(http.StatusOK, gin.H{
		"provider_id":        providerID,
		"manual_template_id": manual,
		"template":           tpl,
	})
}

type AssignRequest struct {
	TemplateID string `json:"template_id" binding:"required"`
}

func (h *AssignmentHandler) Assign(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "template_id is required")
		return
	}
	store, ok := openSession(c, h.sessions)
	if !ok {
		return
	}
	if err := h.tracker.AssignOne(c.Request.Context(), store, c.Param("providerId"), req.TemplateID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider_id": c.Param("providerId"), "template_id": req.TemplateID})
}

func (h *AssignmentHandler) Unassign(c *gin.Context) {
	store, ok := openSession(c, h.sessions)
	if !ok {
		return
	}
	if err := h.tracker.AssignOne(c.Request.Context(), store, c.Param("providerId"), ""); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider_id": c.Param("providerId")})
}

type BulkAssignRequest struct {
	TemplateID  string   `json:"template_id" binding:"required"`
	ProviderIDs []string `json:"provider_ids" binding:"required"`
}

// BulkAssign assigns one template to the filtered provider set.
func (h *AssignmentHandler) BulkAssign(c *gin.Context) {
	var req BulkAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "template_id and provider_ids are required")
		return
	}
	store, ok := openSession(c, h.sessions)
	if !ok {
		return
	}
	n, err := h.tracker.AssignManyFiltered(c.Request.Context(), store, req.TemplateID, req.ProviderIDs, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assigned_count": n})
}

type ClearRequest struct {
	ProviderIDs []string `json:"provider_ids"`
	All         bool     `json:"all"`
}

// Clear removes assignments for the filtered providers, or all of them.
func (h *AssignmentHandler) Clear(c *gin.Context) {
	var req ClearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	store, ok := openSession(c, h.sessions)
	if !ok {
		return
	}
	if req.All {
		c.JSON(http.StatusOK, gin.H{"cleared_count": h.tracker.ClearAll(c.Request.Context(), store)})
		return
	}
	if len(req.ProviderIDs) == 0 {
		badRequest(c, "provider_ids or all is required")
		return
	}
	n, err := h.tracker.ClearManyFiltered(c.Request.Context(), store, req.ProviderIDs, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared_count": n})
}

type SmartAssignRequest struct {
	ProviderIDs []string `json:"provider_ids"`
	All         bool     `json:"all"`
}

func (h *AssignmentHandler) SmartAssign(c *gin.Context) {
	var req SmartAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	ctx := c.Request.Context()
	store, ok := openSession(c, h.sessions)
	if !ok {
		return
	}
	ids := req.ProviderIDs
	if len(ids) == 0 && req.All {
		var err error
		if ids, err = h.tracker.AllProviderIDs(ctx); err != nil {
			respondError(c, err)
			return
		}
	}
	res, err := h.tracker.SmartAssign(ctx, store, ids)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type SelectRequest struct {
	TemplateID string `json:"template_id"`
}

// Select sets the template used for providers without a manual assignment.
// An empty template_id clears the selection.
func (h *AssignmentHandler) Select(c *gin.Context) {
	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	store, ok := openSession(c, h.sessions)
	if !ok {
		return
	}
	if err := h.tracker.SelectTemplate(c.Request.Context(), store, req.TemplateID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected_template_id": req.TemplateID})
}
