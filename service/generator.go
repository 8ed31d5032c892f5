// Package service orchestrates contract generation, retrieval and template assignment.
package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/WiesHerd/contractpipeline/audit"
	"github.com/WiesHerd/contractpipeline/merge"
	"github.com/WiesHerd/contractpipeline/model"
	"github.com/WiesHerd/contractpipeline/packager"
	"github.com/WiesHerd/contractpipeline/pkg/logger"
	"github.com/WiesHerd/contractpipeline/repository"
	"github.com/WiesHerd/contractpipeline/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/WiesHerd/contractpipeline/service")

// Stage is a step of the single-contract state machine.
type Stage string

const (
	StageStart       Stage = "START"
	StageMerge       Stage = "MERGE"
	StagePackage     Stage = "PACKAGE"
	StageLocalSave   Stage = "LOCAL_SAVE"
	StageRemoteStore Stage = "REMOTE_STORE"
	StageDone        Stage = "DONE"
)

// LocalSaver hands the artifact to the caller. ok=false means the user
// cancelled the save.
type LocalSaver interface {
	Save(ctx context.Context, art *packager.Artifact) (ok bool, err error)
}

type LocalSaverFunc func(ctx context.Context, art *packager.Artifact) (bool, error)

func (f LocalSaverFunc) Save(ctx context.Context, art *packager.Artifact) (bool, error) {
	return f(ctx, art)
}

// Auditor is the fire-and-forget audit sink.
type Auditor interface {
	Record(ctx context.Context, e audit.Event)
}

// ContentStore persists and resolves immutable artifacts.
type ContentStore interface {
	Store(ctx context.Context, req storage.StoreRequest) (*storage.StoreResult, error)
	Retrieve(ctx context.Context, loc storage.Locator) (string, error)
}

type Generator struct {
	engine    *merge.Engine
	packager  packager.Packager
	store     ContentStore
	contracts repository.Contracts
	audit     Auditor
	batch     BatchConfig
	progress  ProgressTracker
	clock     func() time.Time
	idGen     func() string
}

type GeneratorDeps struct {
	Engine    *merge.Engine
	Packager  packager.Packager
	Store     ContentStore
	Contracts repository.Contracts
	Audit     Auditor
	Batch     BatchConfig
	Clock     func() time.Time
	IDGen     func() string
}

func NewGenerator(deps GeneratorDeps) (*Generator, error) {
	if deps.Engine == nil || deps.Packager == nil || deps.Store == nil || deps.Contracts == nil {
		return nil, errors.New("generator: engine, packager, store and contracts are required")
	}
	g := &Generator{
		engine:    deps.Engine,
		packager:  deps.Packager,
		store:     deps.Store,
		contracts: deps.Contracts,
		audit:     deps.Audit,
		batch:     deps.Batch.withDefaults(),
		clock:     deps.Clock,
		idGen:     deps.IDGen,
	}
	if g.clock == nil {
		g.clock = time.Now
	}
	if g.idGen == nil {
		g.idGen = uuid.NewString
	}
	if g.audit == nil {
		g.audit = audit.NewRecorder(nil)
	}
	return g, nil
}

type GenerateRequest struct {
	Provider model.Provider
	Template model.Template
	// Saver is optional; without it the local save step is skipped.
	Saver LocalSaver
}

type GenerateResult struct {
	Contract *model.GeneratedContract
	Artifact *packager.Artifact
	// Stage is the last stage reached.
	Stage Stage
}

// Generate runs MERGE -> PACKAGE -> LOCAL_SAVE -> REMOTE_STORE for one
// provider. MERGE and PACKAGE failures are fatal and return an error with a
// FAILED record. A remote store failure only downgrades to PARTIAL_SUCCESS.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	tpl, p := req.Template, req.Provider
	contractID := model.ContractID(p.ID, tpl.ID, tpl.ContractYear)
	ctx = logger.With(ctx, logger.ContractIDKey, contractID)

	ctx, span := tracer.Start(ctx, "service.Generate", trace.WithAttributes(
		attribute.String("contract.id", contractID),
		attribute.String("provider.id", p.ID),
		attribute.String("template.id", tpl.ID),
	))
	defer span.End()

	generatedAt := g.clock().UTC().Truncate(time.Millisecond)
	record := &model.GeneratedContract{
		ID:           g.idGen(),
		ContractID:   contractID,
		ProviderID:   p.ID,
		ProviderName: p.Name,
		TemplateID:   tpl.ID,
		TemplateName: tpl.Name,
		ContractYear: tpl.ContractYear,
		GeneratedAt:  generatedAt,
	}
	result := &GenerateResult{Contract: record, Stage: StageStart}

	fail := func(stage Stage, err error) (*GenerateResult, error) {
		result.Stage = stage
		record.Status = model.StatusFailed
		record.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(stage))
		logger.Warn(ctx, "generation failed", "stage", stage, "kind", Classify(err), "error", err)
		g.log(ctx, record)
		g.audit.Record(ctx, audit.Event{
			Action:       "CONTRACT_GENERATION_FAILED",
			Severity:     model.SeverityWarning,
			Category:     "CONTRACT",
			ResourceType: "contract",
			ResourceID:   contractID,
			Metadata:     map[string]any{"stage": string(stage), "errorKind": string(Classify(err)), "error": err.Error()},
		})
		return result, fmt.Errorf("%s: %w", strings.ToLower(string(stage)), err)
	}

	// MERGE
	result.Stage = StageMerge
	if err := validateInputs(tpl, p); err != nil {
		return fail(StageMerge, err)
	}
	merged := g.engine.MergeTemplate(tpl, p)
	record.Warnings = append(record.Warnings, merged.WarningStrings()...)

	// PACKAGE
	result.Stage = StagePackage
	art, err := g.packager.Package(ctx, packager.Input{
		Markup:       merged.Markup,
		ContractYear: tpl.ContractYear,
		ProviderName: p.Name,
		GeneratedAt:  generatedAt,
	})
	if err != nil {
		return fail(StagePackage, err)
	}
	result.Artifact = art
	record.FileName = art.Filename
	record.FileSize = int64(len(art.Data))
	record.FileHash = storage.Hash(art.Data)
	record.Warnings = append(record.Warnings, art.Warnings...)

	// LOCAL_SAVE
	result.Stage = StageLocalSave
	if req.Saver != nil {
		ok, err := req.Saver.Save(ctx, art)
		switch {
		case err != nil:
			record.Warnings = append(record.Warnings, "local save failed: "+err.Error())
		case !ok:
			record.Warnings = append(record.Warnings, "local save cancelled")
		}
	}

	// REMOTE_STORE
	result.Stage = StageRemoteStore
	stored, err := g.store.Store(ctx, storage.StoreRequest{
		ContractID:  contractID,
		FileName:    art.Filename,
		Data:        art.Data,
		ContentType: art.ContentType,
		GeneratedAt: generatedAt,
		Status:      model.StatusSuccess,
		Provider:    p.Snapshot(),
		Template:    tpl.Snapshot(),
	})
	if err != nil {
		record.Status = model.StatusPartialSuccess
		record.PermanentURL = ""
		record.Warnings = append(record.Warnings, "remote store failed: "+err.Error())
		span.AddEvent("remote store failed", trace.WithAttributes(attribute.String("error", err.Error())))
		logger.Warn(ctx, "remote store failed, keeping local artifact", "error", err)
	} else {
		record.Status = model.StatusSuccess
		record.PermanentURL = stored.PermanentURL
		record.StorageKey = stored.Key
		record.Warnings = append(record.Warnings, stored.Warnings...)
	}

	result.Stage = StageDone
	span.SetAttributes(attribute.String("contract.status", string(record.Status)))
	g.log(ctx, record)
	g.audit.Record(ctx, audit.Event{
		Action:       "CONTRACT_GENERATED",
		Severity:     severityFor(record.Status),
		Category:     "CONTRACT",
		ResourceType: "contract",
		ResourceID:   contractID,
		Metadata: map[string]any{
			"status":     string(record.Status),
			"fileName":   record.FileName,
			"fileHash":   record.FileHash,
			"templateId": tpl.ID,
			"providerId": p.ID,
			"warnings":   len(record.Warnings),
		},
	})
	logger.Info(ctx, "contract generated", "status", record.Status, "file", record.FileName, "warnings", len(record.Warnings))
	return result, nil
}

// log appends the record to the generation log. A log failure is a warning:
// the artifact already exists.
func (g *Generator) log(ctx context.Context, record *model.GeneratedContract) {
	if err := g.contracts.Insert(ctx, record); err != nil {
		logger.Error(ctx, "failed to record generation", "record_id", record.ID, "error", err)
		record.Warnings = append(record.Warnings, "generation log not written: "+err.Error())
	}
}

func validateInputs(tpl model.Template, p model.Provider) error {
	switch {
	case strings.TrimSpace(tpl.ID) == "":
		return model.NewDataError("template.id", "template has no id")
	case strings.TrimSpace(tpl.Content()) == "":
		return model.NewDataError("template.content", "template has no content")
	case tpl.ContractYear <= 0:
		return model.NewDataError("template.contractYear", "contract year is not set")
	case strings.TrimSpace(p.ID) == "":
		return model.NewDataError("provider.id", "provider has no id")
	case strings.TrimSpace(p.Name) == "":
		return model.NewDataError("provider.name", "provider has no name")
	}
	return nil
}

func severityFor(status model.ContractStatus) model.Severity {
	if status == model.StatusSuccess {
		return model.SeverityInfo
	}
	return model.SeverityWarning
}

// Progress returns the oldest bulk run in flight, nil when idle.
func (g *Generator) Progress() *model.BulkProgress {
	return g.progress.Current()
}

// Runs returns the progress of every bulk run in flight, oldest first.
func (g *Generator) Runs() []model.BulkProgress {
	return g.progress.Runs()
}

// DownloadResult is a fresh link to the latest downloadable generation.
type DownloadResult struct {
	URL      string
	Contract *model.GeneratedContract
}

// Download finds the newest SUCCESS or PARTIAL_SUCCESS generation for the pair
// and resolves a link through the storage tiers. Keys are re-derived from the
// record's inputs.
func (g *Generator) Download(ctx context.Context, providerID, templateID string) (*DownloadResult, error) {
	ctx, span := tracer.Start(ctx, "service.Download", trace.WithAttributes(
		attribute.String("provider.id", providerID),
		attribute.String("template.id", templateID),
	))
	defer span.End()

	record, err := g.contracts.Latest(ctx, providerID, templateID, model.StatusSuccess, model.StatusPartialSuccess)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: provider %s, template %s", ErrNotGenerated, providerID, templateID)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to look up generation: %w", err)
	}

	loc := LocatorFor(record)
	ctx = logger.With(ctx, logger.ContractIDKey, loc.ContractID)
	url, err := g.store.Retrieve(ctx, loc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(Classify(err)))
		logger.Warn(ctx, "download failed", "kind", Classify(err), "error", err)
		return nil, err
	}
	return &DownloadResult{URL: url, Contract: record}, nil
}

// LocatorFor derives the storage locator from a record's generation inputs:
// (providerId, templateId, contractYear, providerName, generatedAt, extension).
func LocatorFor(c *model.GeneratedContract) storage.Locator {
	ext := strings.TrimPrefix(path.Ext(c.FileName), ".")
	return storage.Locator{
		ContractID:  model.ContractID(c.ProviderID, c.TemplateID, c.ContractYear),
		GeneratedAt: c.GeneratedAt,
		FileName:    packager.Filename(c.ContractYear, c.ProviderName, c.GeneratedAt, ext),
	}
}
