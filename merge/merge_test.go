package merge

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WiesHerd/contractpipeline/mapper"
	"github.com/WiesHerd/contractpipeline/model"
)

var fixedClock = func() time.Time { return time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC) }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	f, err := NewFormatter("en-US", "USD", fixedClock)
	require.NoError(t, err)
	return NewEngine(f)
}

func TestMergeSingleProvider(t *testing.T) {
	e := newTestEngine(t)
	tpl := model.Template{
		ID:             "t1",
		PreviewContent: "Hello {{ProviderName}}",
		Mappings:       []model.FieldMapping{model.DirectField("{{ProviderName}}", "name", model.FormatText)},
	}
	provider := model.Provider{ID: "p1", Name: "Dr. Smith"}

	res := e.MergeTemplate(tpl, provider)
	require.Equal(t, "Hello Dr. Smith", res.Markup)
	require.Empty(t, res.Warnings)
}

func TestMergeIsDeterministic(t *testing.T) {
	e := newTestEngine(t)
	tpl := model.Template{
		EditedContent: "<p>{{Name}} earns {{Salary}} starting {{Start}} at {{Clinical}}% clinical.</p>{{FTE}}",
		Mappings: []model.FieldMapping{
			model.DirectField("Name", "name", model.FormatText),
			model.DirectField("Salary", "BaseSalary", model.FormatCurrency),
			model.DirectField("Start", "StartDate", model.FormatDate),
			model.DirectField("Clinical", "ClinicalPercent", model.FormatNumber),
			model.DynamicBlock("FTE", "fte_breakdown"),
		},
	}
	provider := model.Provider{
		ID:   "p1",
		Name: "Dr. Jones",
		Fields: map[string]any{
			"BaseSalary":        250000.0,
			"StartDate":         "2024-07-01",
			"ClinicalPercent":   80.0,
			"ClinicalFTE":       0.8,
			"AdministrativeFTE": 0.2,
		},
	}

	first := e.MergeTemplate(tpl, provider)
	second := e.MergeTemplate(tpl, provider)
	require.Equal(t, first.Markup, second.Markup)
	require.Equal(t, sha256.Sum256([]byte(first.Markup)), sha256.Sum256([]byte(second.Markup)))
	require.Contains(t, first.Markup, "Dr. Jones earns $250,000.00 starting 7/1/2024")
	require.Contains(t, first.Markup, "<caption>FTE Breakdown</caption>")
	require.Contains(t, first.Markup, "<td>Total</td><td>1</td>")
}

func TestMergeUnresolvedTokensBlankedOnce(t *testing.T) {
	e := newTestEngine(t)
	out := e.Merge("A{{Missing}}B{{Missing}}C{{ Other }}", mapper.Resolution{}, model.Provider{})

	require.Equal(t, "ABC", out.Markup)
	require.Equal(t, []mapper.Warning{
		{Placeholder: "Missing", Reason: "unresolved placeholder"},
		{Placeholder: "Other", Reason: "unresolved placeholder"},
	}, out.Warnings)
}

func TestMergeTemplateDoesNotDoubleReport(t *testing.T) {
	e := newTestEngine(t)
	tpl := model.Template{PreviewContent: "{{Unmapped}}"}
	res := e.MergeTemplate(tpl, model.Provider{})
	require.Equal(t, "", res.Markup)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, "no field mapping", res.Warnings[0].Reason)
}

func TestMergeTypeMismatch(t *testing.T) {
	e := newTestEngine(t)
	res := mapper.Resolution{
		"Salary": {Placeholder: "Salary", Kind: model.MappingDirect, Value: "TBD", Format: model.FormatCurrency},
	}
	out := e.Merge("Pay: {{Salary}}", res, model.Provider{})
	require.Equal(t, "Pay: TBD", out.Markup)
	require.Len(t, out.Warnings, 1)
	require.Contains(t, out.Warnings[0].Reason, "type mismatch")
}

func TestMergeDynamicBlockFailures(t *testing.T) {
	e := newTestEngine(t)
	res := mapper.Resolution{
		"Unknown": {Placeholder: "Unknown", Kind: model.MappingDynamicBlock, BlockID: "nope"},
		"Comp":    {Placeholder: "Comp", Kind: model.MappingDynamicBlock, BlockID: "compensation_summary"},
	}
	out := e.Merge("[{{Unknown}}][{{Comp}}]", res, model.Provider{})
	require.Equal(t, "[][]", out.Markup)
	require.Len(t, out.Warnings, 2)
	require.Equal(t, []string{
		"{{Unknown}}: unknown dynamic block nope",
		"{{Comp}}: dynamic block compensation_summary: provider has no values for this block",
	}, out.WarningStrings())
}

func TestMergeCustomBlock(t *testing.T) {
	f, err := NewFormatter("en-US", "USD", fixedClock)
	require.NoError(t, err)
	e := NewEngine(f, WithBlock("signature", func(p model.Provider, _ *Formatter) (string, error) {
		return "<p>Signed: " + p.Name + "</p>", nil
	}))
	res := mapper.Resolution{"Sig": {Placeholder: "Sig", Kind: model.MappingDynamicBlock, BlockID: "signature"}}
	out := e.Merge("{{Sig}}", res, model.Provider{Name: "Dr. Lee"})
	require.Equal(t, "<p>Signed: Dr. Lee</p>", out.Markup)
}

func TestMergeEscapesValues(t *testing.T) {
	e := newTestEngine(t)
	res := mapper.Resolution{"N": {Placeholder: "N", Kind: model.MappingDirect, Value: "<script>x</script>", Format: model.FormatText}}
	out := e.Merge("{{N}}", res, model.Provider{})
	require.Equal(t, "&lt;script&gt;x&lt;/script&gt;", out.Markup)
}
