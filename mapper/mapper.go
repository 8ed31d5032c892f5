// Package mapper turns stored placeholder mappings into typed field mappings and
// resolves them against a provider snapshot.
package mapper

import (
	"regexp"
	"strings"

	"github.com/WiesHerd/contractpipeline/model"
)

// DynamicBlockPrefix marks a stored column name that is really a dynamic block reference.
const DynamicBlockPrefix = "dynamic:"

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// ExtractPlaceholders returns the unique placeholder names in order of first appearance.
func ExtractPlaceholders(markup string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(markup, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// ReplacePlaceholders rewrites every {{token}} with fn(token). Delimiters are
// consumed together with the token.
func ReplacePlaceholders(markup string, fn func(name string) string) string {
	return placeholderPattern.ReplaceAllStringFunc(markup, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		return fn(strings.TrimSpace(sub[1]))
	})
}

// Normalize converts stored mapping rows into tagged mappings. The block/column
// decision is made here once; nothing downstream inspects column prefixes again.
// Rows without a placeholder or without any target are dropped.
func Normalize(raw []model.RawFieldMapping) []model.FieldMapping {
	out := make([]model.FieldMapping, 0, len(raw))
	for _, r := range raw {
		placeholder := model.NormalizePlaceholder(r.Placeholder)
		if placeholder == "" {
			continue
		}
		column := strings.TrimSpace(r.MappedColumn)
		block := strings.TrimSpace(r.MappedDynamicBlock)

		switch {
		case strings.HasPrefix(column, DynamicBlockPrefix):
			out = append(out, model.DynamicBlock(placeholder, strings.TrimPrefix(column, DynamicBlockPrefix)))
		case column == "" && block != "":
			out = append(out, model.DynamicBlock(placeholder, block))
		case column != "":
			format := model.ValueFormat(strings.ToLower(strings.TrimSpace(r.Format)))
			if !validFormat(format) {
				format = InferFormat(column)
			}
			out = append(out, model.DirectField(placeholder, column, format))
		}
	}
	return out
}

func validFormat(f model.ValueFormat) bool {
	switch f {
	case model.FormatText, model.FormatCurrency, model.FormatPercent, model.FormatDate, model.FormatNumber:
		return true
	}
	return false
}

// InferFormat guesses a display format from a column name, the same way the grid
// picks a column renderer.
func InferFormat(column string) model.ValueFormat {
	c := strings.ToLower(column)
	switch {
	case strings.Contains(c, "percent") || strings.Contains(c, "pct") || strings.HasSuffix(c, "%"):
		return model.FormatPercent
	case strings.Contains(c, "date") || strings.HasSuffix(c, "_at"):
		return model.FormatDate
	case strings.Contains(c, "salary") || strings.Contains(c, "compensation") ||
		strings.Contains(c, "amount") || strings.Contains(c, "stipend") ||
		strings.Contains(c, "bonus") || strings.Contains(c, "conversionfactor") ||
		strings.Contains(c, "conversion_factor"):
		return model.FormatCurrency
	case strings.Contains(c, "fte") || strings.Contains(c, "wrvu") || strings.Contains(c, "hours"):
		return model.FormatNumber
	default:
		return model.FormatText
	}
}

// Resolved is the outcome for one placeholder.
type Resolved struct {
	Placeholder string
	Kind        model.MappingKind
	Value       any
	Format      model.ValueFormat
	BlockID     string
}

// Resolution maps placeholder name to its resolved value. Unresolved placeholders are absent.
type Resolution map[string]Resolved

// Warning is a non-fatal problem noticed while resolving or merging.
type Warning struct {
	Placeholder string `json:"placeholder"`
	Reason      string `json:"reason"`
}

func (w Warning) String() string {
	if w.Placeholder == "" {
		return w.Reason
	}
	return "{{" + w.Placeholder + "}}: " + w.Reason
}

// Resolve looks up every placeholder. Missing mappings and missing values become
// warnings; Resolve never fails.
func Resolve(placeholders []string, mappings []model.FieldMapping, provider model.Provider) (Resolution, []Warning) {
	byPlaceholder := make(map[string]model.FieldMapping, len(mappings))
	for _, m := range mappings {
		if _, dup := byPlaceholder[m.Placeholder()]; dup {
			continue
		}
		byPlaceholder[m.Placeholder()] = m
	}

	res := make(Resolution, len(placeholders))
	var warnings []Warning
	for _, p := range placeholders {
		p = model.NormalizePlaceholder(p)
		if p == "" {
			continue
		}
		if _, done := res[p]; done {
			continue
		}
		m, ok := byPlaceholder[p]
		if !ok {
			warnings = append(warnings, Warning{Placeholder: p, Reason: "no field mapping"})
			continue
		}

		switch m.Kind() {
		case model.MappingDynamicBlock:
			if m.BlockID() == "" {
				warnings = append(warnings, Warning{Placeholder: p, Reason: "dynamic block id is empty"})
				continue
			}
			res[p] = Resolved{Placeholder: p, Kind: model.MappingDynamicBlock, BlockID: m.BlockID()}
		case model.MappingDirect:
			v, found := provider.Lookup(m.Column())
			if !found {
				warnings = append(warnings, Warning{Placeholder: p, Reason: "provider has no value for column " + m.Column()})
				continue
			}
			res[p] = Resolved{Placeholder: p, Kind: model.MappingDirect, Value: v, Format: m.Format()}
		default:
			warnings = append(warnings, Warning{Placeholder: p, Reason: "mapping has no target"})
		}
	}
	return res, warnings
}
