package merge

import (
	"errors"
	"html"
	"strings"

	"github.com/WiesHerd/contractpipeline/model"
)

// BlockFunc renders a dynamic block for one provider.
type BlockFunc func(p model.Provider, f *Formatter) (string, error)

var errBlockEmpty = errors.New("provider has no values for this block")

type blockRow struct {
	label  string
	column string
	format model.ValueFormat
}

var fteRows = []blockRow{
	{"Clinical", "ClinicalFTE", model.FormatNumber},
	{"Administrative", "AdministrativeFTE", model.FormatNumber},
	{"Research", "ResearchFTE", model.FormatNumber},
	{"Teaching", "TeachingFTE", model.FormatNumber},
	{"Medical Director", "MedicalDirectorFTE", model.FormatNumber},
}

var compensationRows = []blockRow{
	{"Base Salary", "BaseSalary", model.FormatCurrency},
	{"wRVU Target", "wRVUTarget", model.FormatNumber},
	{"Conversion Factor", "ConversionFactor", model.FormatCurrency},
	{"Signing Bonus", "SigningBonus", model.FormatCurrency},
	{"Relocation Bonus", "RelocationBonus", model.FormatCurrency},
	{"Quality Incentive", "QualityIncentive", model.FormatPercent},
}

// DefaultBlocks returns the built-in dynamic blocks.
func DefaultBlocks() map[string]BlockFunc {
	return map[string]BlockFunc{
		"fte_breakdown":        fteBreakdown,
		"compensation_summary": compensationSummary,
	}
}

func fteBreakdown(p model.Provider, f *Formatter) (string, error) {
	rows, total := collectRows(p, f, fteRows)
	if len(rows) == 0 {
		return "", errBlockEmpty
	}
	rows = append(rows, [2]string{"Total", f.Number(total)})
	return renderTable("FTE Breakdown", rows), nil
}

func compensationSummary(p model.Provider, f *Formatter) (string, error) {
	rows, _ := collectRows(p, f, compensationRows)
	if len(rows) == 0 {
		return "", errBlockEmpty
	}
	return renderTable("Compensation", rows), nil
}

func collectRows(p model.Provider, f *Formatter, defs []blockRow) ([][2]string, float64) {
	var (
		rows  [][2]string
		total float64
	)
	for _, def := range defs {
		v, ok := p.Lookup(def.column)
		if !ok {
			continue
		}
		text, _ := f.Format(v, def.format)
		if n, ok := toFloat(v); ok {
			total += n
		}
		rows = append(rows, [2]string{def.label, text})
	}
	return rows, total
}

func renderTable(caption string, rows [][2]string) string {
	var b strings.Builder
	b.WriteString(`<table><caption>`)
	b.WriteString(html.EscapeString(caption))
	b.WriteString(`</caption>`)
	for _, r := range rows {
		b.WriteString(`<tr><td>`)
		b.WriteString(html.EscapeString(r[0]))
		b.WriteString(`</td><td>`)
		b.WriteString(html.EscapeString(r[1]))
		b.WriteString(`</td></tr>`)
	}
	b.WriteString(`</table>`)
	return b.String()
}
