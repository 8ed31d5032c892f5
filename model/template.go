package model

import (
	"strings"
	"time"
)

// Template is an uploaded contract template. ID is immutable; content is edited in place.
type Template struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Tags           []string       `json:"tags,omitempty"`
	EditedContent  string         `json:"edited_content,omitempty"`
	PreviewContent string         `json:"preview_content,omitempty"`
	ContractYear   int            `json:"contract_year"`
	Version        int            `json:"version"`
	Mappings       []FieldMapping `json:"mappings,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Content returns the markup to merge: edited content wins over the upload preview.
func (t Template) Content() string {
	if strings.TrimSpace(t.EditedContent) != "" {
		return t.EditedContent
	}
	return t.PreviewContent
}

// Valid reports whether the template can be the target of an assignment.
func (t Template) Valid() bool {
	return strings.TrimSpace(t.ID) != "" && strings.TrimSpace(t.Name) != ""
}

// Snapshot captures the identity fields written alongside an immutable artifact.
func (t Template) Snapshot() TemplateSnapshot {
	return TemplateSnapshot{
		ID:           t.ID,
		Name:         t.Name,
		Version:      t.Version,
		ContractYear: t.ContractYear,
	}
}

type TemplateSnapshot struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Version      int    `json:"version"`
	ContractYear int    `json:"contract_year"`
}
