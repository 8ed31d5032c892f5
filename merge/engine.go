// Package merge substitutes resolved provider values into template markup.
package merge

import (
	"html"

	"github.com/WiesHerd/contractpipeline/mapper"
	"github.com/WiesHerd/contractpipeline/model"
)

// Result is the merged markup plus everything that was substituted with a blank
// or with an unformatted value.
type Result struct {
	Markup   string
	Warnings []mapper.Warning
}

// WarningStrings flattens warnings for logs and generation records.
func (r Result) WarningStrings() []string {
	if len(r.Warnings) == 0 {
		return nil
	}
	out := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		out[i] = w.String()
	}
	return out
}

type Engine struct {
	formatter *Formatter
	blocks    map[string]BlockFunc
}

type Option func(*Engine)

// WithBlock registers or replaces a dynamic block renderer.
func WithBlock(id string, fn BlockFunc) Option {
	return func(e *Engine) {
		if id != "" && fn != nil {
			e.blocks[id] = fn
		}
	}
}

func NewEngine(formatter *Formatter, opts ...Option) *Engine {
	e := &Engine{formatter: formatter, blocks: DefaultBlocks()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Merge replaces every placeholder token in markup. Unresolved tokens become the
// empty string and are reported once per distinct token. Merge is pure: equal
// inputs give byte-identical markup.
func (e *Engine) Merge(markup string, res mapper.Resolution, p model.Provider) Result {
	var warnings []mapper.Warning
	reported := make(map[string]struct{})
	warn := func(placeholder, reason string) {
		if _, ok := reported[placeholder]; ok {
			return
		}
		reported[placeholder] = struct{}{}
		warnings = append(warnings, mapper.Warning{Placeholder: placeholder, Reason: reason})
	}

	out := mapper.ReplacePlaceholders(markup, func(name string) string {
		r, ok := res[name]
		if !ok {
			warn(name, "unresolved placeholder")
			return ""
		}

		switch r.Kind {
		case model.MappingDynamicBlock:
			fn, ok := e.blocks[r.BlockID]
			if !ok {
				warn(name, "unknown dynamic block "+r.BlockID)
				return ""
			}
			rendered, err := fn(p, e.formatter)
			if err != nil {
				warn(name, "dynamic block "+r.BlockID+": "+err.Error())
				return ""
			}
			return rendered
		default:
			text, fits := e.formatter.Format(r.Value, r.Format)
			if !fits {
				warn(name, "type mismatch: expected "+string(r.Format)+" value, got "+text)
			}
			return html.EscapeString(text)
		}
	})

	return Result{Markup: out, Warnings: warnings}
}

// MergeTemplate extracts, resolves and merges in one step. A placeholder the
// resolver already warned about is not reported again by the merge pass.
func (e *Engine) MergeTemplate(tpl model.Template, p model.Provider) Result {
	markup := tpl.Content()
	res, resolveWarnings := mapper.Resolve(mapper.ExtractPlaceholders(markup), tpl.Mappings, p)
	merged := e.Merge(markup, res, p)

	known := make(map[string]struct{}, len(resolveWarnings))
	for _, w := range resolveWarnings {
		known[w.Placeholder] = struct{}{}
	}
	warnings := append([]mapper.Warning(nil), resolveWarnings...)
	for _, w := range merged.Warnings {
		if _, dup := known[w.Placeholder]; dup {
			continue
		}
		warnings = append(warnings, w)
	}
	merged.Warnings = warnings
	return merged
}
