package mapper

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/WiesHerd/contractpipeline/model"
)

func TestExtractPlaceholders(t *testing.T) {
	got := ExtractPlaceholders("Hello {{ProviderName}}, your salary is {{ BaseSalary }}. Bye {{ProviderName}} {{}}")
	require.Equal(t, []string{"ProviderName", "BaseSalary"}, got)
}

func TestNormalize(t *testing.T) {
	raw := []model.RawFieldMapping{
		{Placeholder: "{{ProviderName}}", MappedColumn: "name"},
		{Placeholder: "FTETable", MappedColumn: "dynamic:fte_breakdown"},
		{Placeholder: "CompTable", MappedDynamicBlock: "compensation_summary"},
		{Placeholder: "BaseSalary", MappedColumn: "BaseSalary"},
		{Placeholder: "Bonus", MappedColumn: "signing", Format: "CURRENCY"},
		{Placeholder: "Nothing"},
		{Placeholder: "", MappedColumn: "name"},
	}

	got := Normalize(raw)
	want := []model.RawFieldMapping{
		{Placeholder: "ProviderName", MappedColumn: "name", Format: "text"},
		{Placeholder: "FTETable", MappedDynamicBlock: "fte_breakdown"},
		{Placeholder: "CompTable", MappedDynamicBlock: "compensation_summary"},
		{Placeholder: "BaseSalary", MappedColumn: "BaseSalary", Format: "currency"},
		{Placeholder: "Bonus", MappedColumn: "signing", Format: "currency"},
	}

	gotRaw := make([]model.RawFieldMapping, len(got))
	for i, m := range got {
		gotRaw[i] = m.Raw()
	}
	if diff := cmp.Diff(want, gotRaw); diff != "" {
		t.Errorf("Normalize mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, model.MappingDynamicBlock, got[1].Kind())
	require.Empty(t, got[1].Column(), "block mapping must clear the column branch")
}

func TestInferFormat(t *testing.T) {
	cases := map[string]model.ValueFormat{
		"BaseSalary":        model.FormatCurrency,
		"conversion_factor": model.FormatCurrency,
		"ClinicalPercent":   model.FormatPercent,
		"StartDate":         model.FormatDate,
		"signed_at":         model.FormatDate,
		"ClinicalFTE":       model.FormatNumber,
		"wRVUTarget":        model.FormatNumber,
		"Specialty":         model.FormatText,
	}
	for column, want := range cases {
		require.Equal(t, want, InferFormat(column), column)
	}
}

func TestResolve(t *testing.T) {
	provider := model.Provider{
		ID:   "p1",
		Name: "Dr. Smith",
		Fields: map[string]any{
			"BaseSalary": 250000.0,
		},
	}
	mappings := []model.FieldMapping{
		model.DirectField("ProviderName", "name", model.FormatText),
		model.DirectField("BaseSalary", "BaseSalary", model.FormatCurrency),
		model.DirectField("StartDate", "StartDate", model.FormatDate),
		model.DynamicBlock("FTETable", "fte_breakdown"),
	}

	res, warnings := Resolve([]string{"ProviderName", "BaseSalary", "StartDate", "FTETable", "Unknown", "ProviderName"}, mappings, provider)

	require.Equal(t, Resolved{Placeholder: "ProviderName", Kind: model.MappingDirect, Value: "Dr. Smith", Format: model.FormatText}, res["ProviderName"])
	require.Equal(t, 250000.0, res["BaseSalary"].Value)
	require.Equal(t, "fte_breakdown", res["FTETable"].BlockID)
	require.NotContains(t, res, "StartDate")
	require.NotContains(t, res, "Unknown")

	require.Equal(t, []Warning{
		{Placeholder: "StartDate", Reason: "provider has no value for column StartDate"},
		{Placeholder: "Unknown", Reason: "no field mapping"},
	}, warnings)
}

func TestWarningString(t *testing.T) {
	require.Equal(t, "{{Name}}: no field mapping", Warning{Placeholder: "Name", Reason: "no field mapping"}.String())
	require.Equal(t, "markup sanitised", Warning{Reason: "markup sanitised"}.String())
}

func TestReplacePlaceholders(t *testing.T) {
	out := ReplacePlaceholders("A {{ x }} B {{y}}", func(name string) string { return "<" + name + ">" })
	require.Equal(t, "A <x> B <y>", out)
}
