package service

import (
	"context"
	"fmt"

	"github.com/WiesHerd/contractpipeline/audit"
	"github.com/WiesHerd/contractpipeline/model"
	"github.com/WiesHerd/contractpipeline/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// BulkItem is one (provider, resolved template) pair. A nil Template means the
// provider had nothing assigned. Err records a failure that happened while
// building the item; the item then fails without being generated.
type BulkItem struct {
	Provider model.Provider
	Template *model.Template
	Err      error
}

// GenerateBulk generates every item in batches and never fails as a whole:
// each item gets a result entry. PARTIAL_SUCCESS items count as successful
// and are also counted in Partial.
func (g *Generator) GenerateBulk(ctx context.Context, items []BulkItem, progress ProgressFunc) model.BulkResult {
	ctx, span := tracer.Start(ctx, "service.GenerateBulk", trace.WithAttributes(attribute.Int("bulk.total", len(items))))
	defer span.End()

	run := g.progress.Start(len(items))
	defer run.Finish()

	results := make([]model.BulkItemResult, len(items))
	indexed := make([]int, len(items))
	for i := range items {
		indexed[i] = i
		results[i].ID = items[i].Provider.ID
	}

	errs := runBatches(ctx, g.batch, indexed, chain(run.Update, progress), func(ctx context.Context, i int) error {
		item := items[i]
		if item.Err != nil {
			return item.Err
		}
		if item.Template == nil {
			return fmt.Errorf("%w: %s", ErrNoTemplate, item.Provider.ID)
		}
		res, err := g.Generate(ctx, GenerateRequest{Provider: item.Provider, Template: *item.Template})
		if res != nil && res.Contract != nil {
			results[i].ContractID = res.Contract.ContractID
			results[i].Status = res.Contract.Status
		}
		return err
	})

	out := model.BulkResult{TotalProcessed: len(items), Results: results}
	for i, err := range errs {
		if err != nil {
			results[i].Success = false
			results[i].Error = err.Error()
			results[i].ErrorKind = string(Classify(err))
			if results[i].Status == "" {
				results[i].Status = model.StatusFailed
			}
			out.Failed++
			continue
		}
		results[i].Success = true
		out.Successful++
		if results[i].Status == model.StatusPartialSuccess {
			out.Partial++
		}
	}

	span.SetAttributes(attribute.Int("bulk.successful", out.Successful), attribute.Int("bulk.failed", out.Failed))
	logger.Info(ctx, "bulk generation finished", "total", out.TotalProcessed, "successful", out.Successful, "failed", out.Failed, "partial", out.Partial)
	g.audit.Record(ctx, audit.Event{
		Action:       "CONTRACT_BULK_GENERATED",
		Severity:     bulkSeverity(out),
		Category:     "CONTRACT",
		ResourceType: "contract",
		Metadata: map[string]any{
			"total":      out.TotalProcessed,
			"successful": out.Successful,
			"failed":     out.Failed,
			"partial":    out.Partial,
		},
	})
	return out
}

// DeleteRecords removes generation log records in batches. Stored artifacts
// are immutable and stay where they are.
func (g *Generator) DeleteRecords(ctx context.Context, ids []string, progress ProgressFunc) model.BulkResult {
	run := g.progress.Start(len(ids))
	defer run.Finish()

	errs := runBatches(ctx, g.batch, ids, chain(run.Update, progress), func(ctx context.Context, id string) error {
		n, err := g.contracts.Delete(ctx, []string{id})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("record %s not found", id)
		}
		return nil
	})

	out := model.BulkResult{TotalProcessed: len(ids), Results: make([]model.BulkItemResult, len(ids))}
	for i, err := range errs {
		out.Results[i].ID = ids[i]
		if err != nil {
			out.Results[i].Error = err.Error()
			out.Failed++
			continue
		}
		out.Results[i].Success = true
		out.Successful++
	}

	g.audit.Record(ctx, audit.Event{
		Action:       "CONTRACT_RECORDS_DELETED",
		Severity:     bulkSeverity(out),
		Category:     "CONTRACT",
		ResourceType: "generated_contract",
		Metadata: map[string]any{
			"recordCount": len(ids),
			"recordIds":   ids,
			"deleted":     out.Successful,
			"failed":      out.Failed,
		},
	})
	return out
}

func bulkSeverity(r model.BulkResult) model.Severity {
	if r.Failed > 0 {
		return model.SeverityWarning
	}
	return model.SeverityInfo
}
