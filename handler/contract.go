package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/WiesHerd/contractpipeline/middleware"
	"github.com/WiesHerd/contractpipeline/model"
	"github.com/WiesHerd/contractpipeline/service"
	"github.com/gin-gonic/gin"
)

type ContractHandler struct {
	generator *service.Generator
	jobs      *service.JobRegistry
	tracker   *service.Tracker
	templates *service.TemplateService
	sessions  *service.Sessions
}

func NewContractHandler(gen *service.Generator, jobs *service.JobRegistry, tracker *service.Tracker, templates *service.TemplateService, sessions *service.Sessions) *ContractHandler {
	return &ContractHandler{
		generator: gen,
		jobs:      jobs,
		tracker:   tracker,
		templates: templates,
		sessions:  sessions,
	}
}

type GenerateRequest struct {
	ProviderID string `json:"provider_id" binding:"required"`
	// TemplateID overrides the session's assignment when set.
	TemplateID string `json:"template_id"`
}

// Generate runs the pipeline for one provider and streams the artifact back.
// The outcome travels in X-Contract-* headers. A remote store failure still
// returns the artifact with status PARTIAL_SUCCESS.
func (h *ContractHandler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "provider_id is required")
		return
	}
	ctx := c.Request.Context()

	provider, err := h.tracker.GetProvider(ctx, req.ProviderID)
	if err != nil {
		respondError(c, err)
		return
	}

	var tpl *model.Template
	if req.TemplateID != "" {
		tpl, err = h.templates.Get(ctx, req.TemplateID)
	} else {
		store, ok := openSession(c, h.sessions)
		if !ok {
			return
		}
		tpl, err = h.tracker.ResolveTemplate(ctx, store, req.ProviderID)
		if err == nil && tpl == nil {
			err = fmt.Errorf("%w: %s", service.ErrNoTemplate, req.ProviderID)
		}
	}
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := h.generator.Generate(ctx, service.GenerateRequest{Provider: *provider, Template: *tpl})
	if err != nil {
		respondError(c, err)
		return
	}

	record := res.Contract
	c.Header("X-Contract-Id", record.ContractID)
	c.Header("X-Contract-Record-Id", record.ID)
	c.Header("X-Contract-Status", string(record.Status))
	c.Header("X-Contract-Hash", record.FileHash)
	c.Header("X-Contract-Warnings", strconv.Itoa(len(record.Warnings)))
	if record.PermanentURL != "" {
		c.Header("X-Contract-Url", record.PermanentURL)
	}
	if c.Query("format") == "json" {
		c.JSON(http.StatusOK, record)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Artifact.Filename))
	c.Data(http.StatusOK, res.Artifact.ContentType, res.Artifact.Data)
}

type BulkGenerateRequest struct {
	ProviderIDs []string `json:"provider_ids"`
	// All generates for every provider when ProviderIDs is empty.
	All bool `json:"all"`
	// Notify emails the caller a summary when the job completes.
	Notify bool `json:"notify"`
}

// BulkGenerate starts an asynchronous bulk job and answers 202 with the job.
func (h *ContractHandler) BulkGenerate(c *gin.Context) {
	var req BulkGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	ctx := c.Request.Context()

	ids := req.ProviderIDs
	if len(ids) == 0 && req.All {
		var err error
		if ids, err = h.tracker.AllProviderIDs(ctx); err != nil {
			respondError(c, err)
			return
		}
	}
	if len(ids) == 0 {
		badRequest(c, "provider_ids is required")
		return
	}

	store, ok := openSession(c, h.sessions)
	if !ok {
		return
	}
	notifyTo := ""
	if req.Notify {
		notifyTo = middleware.GetEmail(c)
	}

	job, err := h.jobs.Submit(ctx, "generate", len(ids), notifyTo, func(ctx context.Context, progress service.ProgressFunc) model.BulkResult {
		items := h.tracker.ResolveItems(ctx, store, ids)
		return h.generator.GenerateBulk(ctx, items, progress)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// BulkStatus returns a bulk job with its progress and, once done, its result.
func (h *ContractHandler) BulkStatus(c *gin.Context) {
	job, err := h.jobs.Get(c.Param("jobId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Progress reports the bulk runs in flight; progress is the oldest of them.
func (h *ContractHandler) Progress(c *gin.Context) {
	runs := h.generator.Runs()
	if len(runs) == 0 {
		c.JSON(http.StatusOK, gin.H{"running": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": true, "progress": runs[0], "runs": runs})
}

// Download resolves a fresh link for the latest downloadable generation.
func (h *ContractHandler) Download(c *gin.Context) {
	providerID, templateID := c.Query("providerId"), c.Query("templateId")
	if providerID == "" || templateID == "" {
		badRequest(c, "providerId and templateId are required")
		return
	}

	res, err := h.generator.Download(c.Request.Context(), providerID, templateID)
	if err != nil {
		respondError(c, err)
		return
	}
	if c.Query("redirect") == "true" {
		c.Redirect(http.StatusFound, res.URL)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":      res.URL,
		"contract": res.Contract,
	})
}

type DeleteRecordsRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// DeleteRecords removes generation log records. Stored artifacts are kept.
func (h *ContractHandler) DeleteRecords(c *gin.Context) {
	var req DeleteRecordsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.IDs) == 0 {
		badRequest(c, "ids is required")
		return
	}
	res := h.generator.DeleteRecords(c.Request.Context(), req.IDs, nil)
	c.JSON(http.StatusOK, res)
}
