package model

import (
	"encoding/json"
	"strings"
)

// MappingKind tells which branch of a FieldMapping is populated.
type MappingKind int

const (
	MappingDirect MappingKind = iota + 1
	MappingDynamicBlock
)

func (k MappingKind) String() string {
	switch k {
	case MappingDirect:
		return "direct"
	case MappingDynamicBlock:
		return "dynamic_block"
	default:
		return "unknown"
	}
}

// ValueFormat selects the display formatting applied to a direct field value.
type ValueFormat string

const (
	FormatText     ValueFormat = "text"
	FormatCurrency ValueFormat = "currency"
	FormatPercent  ValueFormat = "percent"
	FormatDate     ValueFormat = "date"
	FormatNumber   ValueFormat = "number"
)

// FieldMapping binds a placeholder to either a provider column or a dynamic block.
// Construct it with DirectField or DynamicBlock; the zero value maps nothing.
type FieldMapping struct {
	placeholder string
	kind        MappingKind
	column      string
	blockID     string
	format      ValueFormat
}

func DirectField(placeholder, column string, format ValueFormat) FieldMapping {
	if format == "" {
		format = FormatText
	}
	return FieldMapping{
		placeholder: NormalizePlaceholder(placeholder),
		kind:        MappingDirect,
		column:      strings.TrimSpace(column),
		format:      format,
	}
}

func DynamicBlock(placeholder, blockID string) FieldMapping {
	return FieldMapping{
		placeholder: NormalizePlaceholder(placeholder),
		kind:        MappingDynamicBlock,
		blockID:     strings.TrimSpace(blockID),
	}
}

func (m FieldMapping) Placeholder() string { return m.placeholder }
func (m FieldMapping) Kind() MappingKind   { return m.kind }
func (m FieldMapping) Format() ValueFormat { return m.format }

// Column is empty unless Kind is MappingDirect.
func (m FieldMapping) Column() string { return m.column }

// BlockID is empty unless Kind is MappingDynamicBlock.
func (m FieldMapping) BlockID() string { return m.blockID }

// Raw converts back to the persisted shape. Exactly one branch is set.
func (m FieldMapping) Raw() RawFieldMapping {
	raw := RawFieldMapping{Placeholder: m.placeholder}
	switch m.kind {
	case MappingDirect:
		raw.MappedColumn = m.column
		raw.Format = string(m.format)
	case MappingDynamicBlock:
		raw.MappedDynamicBlock = m.blockID
	}
	return raw
}

func (m FieldMapping) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Raw())
}

// RawFieldMapping is the stored form of a mapping row as the data layer keeps it.
type RawFieldMapping struct {
	Placeholder        string `json:"placeholder"`
	MappedColumn       string `json:"mapped_column,omitempty"`
	MappedDynamicBlock string `json:"mapped_dynamic_block,omitempty"`
	Format             string `json:"format,omitempty"`
}

// NormalizePlaceholder strips token delimiters and surrounding space: "{{ Name }}" -> "Name".
func NormalizePlaceholder(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "{{")
	p = strings.TrimSuffix(p, "}}")
	return strings.TrimSpace(p)
}
