package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/WiesHerd/contractpipeline/audit"
	"github.com/WiesHerd/contractpipeline/mapper"
	"github.com/WiesHerd/contractpipeline/model"
	"github.com/WiesHerd/contractpipeline/repository"
)

// SaveTemplateRequest carries an uploaded or edited template with its
// placeholder mappings as stored by the mapping editor.
type SaveTemplateRequest struct {
	ID             string                  `json:"id"`
	Name           string                  `json:"name"`
	Tags           []string                `json:"tags"`
	EditedContent  string                  `json:"edited_content"`
	PreviewContent string                  `json:"preview_content"`
	ContractYear   int                     `json:"contract_year"`
	Mappings       []model.RawFieldMapping `json:"mappings"`
}

type TemplateService struct {
	templates repository.Templates
	contracts repository.Contracts
	audit     Auditor
}

func NewTemplateService(templates repository.Templates, contracts repository.Contracts, auditor Auditor) *TemplateService {
	if auditor == nil {
		auditor = audit.NewRecorder(nil)
	}
	return &TemplateService{templates: templates, contracts: contracts, audit: auditor}
}

func (s *TemplateService) Get(ctx context.Context, id string) (*model.Template, error) {
	tpl, err := s.templates.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return tpl, err
}

func (s *TemplateService) List(ctx context.Context) ([]*model.Template, error) {
	return s.templates.List(ctx)
}

// Save normalises the raw mappings and upserts the template.
func (s *TemplateService) Save(ctx context.Context, req SaveTemplateRequest) (*model.Template, error) {
	tpl := &model.Template{
		ID:             strings.TrimSpace(req.ID),
		Name:           strings.TrimSpace(req.Name),
		Tags:           req.Tags,
		EditedContent:  req.EditedContent,
		PreviewContent: req.PreviewContent,
		ContractYear:   req.ContractYear,
		Mappings:       mapper.Normalize(req.Mappings),
	}
	if !tpl.Valid() {
		return nil, model.NewDataError("template", "id and name are required")
	}
	if tpl.ContractYear <= 0 {
		return nil, model.NewDataError("template.contractYear", "contract year is not set")
	}
	if err := s.templates.Save(ctx, tpl); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		Action:       "TEMPLATE_SAVED",
		Severity:     model.SeverityInfo,
		Category:     "TEMPLATE",
		ResourceType: "template",
		ResourceID:   tpl.ID,
		Metadata:     map[string]any{"version": tpl.Version, "mappingCount": len(tpl.Mappings)},
	})
	return tpl, nil
}

// Delete refuses while any generation log record references the template.
func (s *TemplateService) Delete(ctx context.Context, id string) error {
	n, err := s.contracts.CountByTemplate(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count contracts: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %d generated contracts reference %s", ErrTemplateInUse, n, id)
	}
	if err := s.templates.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
		}
		return err
	}

	s.audit.Record(ctx, audit.Event{
		Action:       "TEMPLATE_DELETED",
		Severity:     model.SeverityWarning,
		Category:     "TEMPLATE",
		ResourceType: "template",
		ResourceID:   id,
	})
	return nil
}
