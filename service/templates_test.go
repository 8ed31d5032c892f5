package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WiesHerd/contractpipeline/audit"
	"github.com/WiesHerd/contractpipeline/model"
	"github.com/WiesHerd/contractpipeline/repository"
)

func TestTemplateServiceSave(t *testing.T) {
	repo := repository.NewMemory(0)
	svc := NewTemplateService(repo.Templates, repo.Contracts, audit.NewRecorder(repo.Audit))
	ctx := context.Background()

	saved, err := svc.Save(ctx, SaveTemplateRequest{
		ID:             "t1",
		Name:           " Standard ",
		PreviewContent: "Hello {{ProviderName}} {{FTE}}",
		ContractYear:   2024,
		Mappings: []model.RawFieldMapping{
			{Placeholder: "{{ProviderName}}", MappedColumn: "name"},
			{Placeholder: "FTE", MappedColumn: "dynamic:fte_breakdown"},
			{Placeholder: ""},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "Standard", saved.Name)
	require.Equal(t, 1, saved.Version)
	require.Len(t, saved.Mappings, 2)
	require.Equal(t, model.MappingDynamicBlock, saved.Mappings[1].Kind())

	_, err = svc.Save(ctx, SaveTemplateRequest{ID: "t1", Name: "Standard v2", PreviewContent: "x", ContractYear: 2024})
	require.NoError(t, err)
	got, err := svc.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 2, got.Version)

	_, err = svc.Save(ctx, SaveTemplateRequest{ID: "t2", ContractYear: 2024})
	require.Equal(t, KindData, Classify(err))
}

func TestTemplateServiceDelete(t *testing.T) {
	repo := repository.NewMemory(0)
	svc := NewTemplateService(repo.Templates, repo.Contracts, nil)
	ctx := context.Background()
	require.NoError(t, repo.Templates.Save(ctx, tpl("t1", "Standard")))
	require.NoError(t, repo.Contracts.Insert(ctx, &model.GeneratedContract{ID: "r1", ContractID: "p1-t1-2024", ProviderID: "p1", TemplateID: "t1", Status: model.StatusSuccess}))

	err := svc.Delete(ctx, "t1")
	require.ErrorIs(t, err, ErrTemplateInUse)

	_, err = repo.Contracts.Delete(ctx, []string{"r1"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "t1"))

	_, err = svc.Get(ctx, "t1")
	require.ErrorIs(t, err, ErrTemplateNotFound)
	require.ErrorIs(t, svc.Delete(ctx, "t1"), ErrTemplateNotFound)
}

func TestTemplateServiceDeleteGuardSurvivesLogCleanup(t *testing.T) {
	repo := repository.NewMemory(2)
	svc := NewTemplateService(repo.Templates, repo.Contracts, nil)
	ctx := context.Background()
	require.NoError(t, repo.Templates.Save(ctx, tpl("t1", "Standard")))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, tid := range []string{"t1", "t2", "t2"} {
		require.NoError(t, repo.Contracts.Insert(ctx, &model.GeneratedContract{
			ID: fmt.Sprintf("r%d", i), ContractID: model.ContractID("p1", tid, 2024), ProviderID: "p1",
			TemplateID: tid, Status: model.StatusSuccess, GeneratedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	require.ErrorIs(t, svc.Delete(ctx, "t1"), ErrTemplateInUse)
}
