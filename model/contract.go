package model

import (
	"fmt"
	"time"
)

// ContractStatus is the terminal outcome of one generation.
type ContractStatus string

const (
	StatusSuccess        ContractStatus = "SUCCESS"
	StatusPartialSuccess ContractStatus = "PARTIAL_SUCCESS"
	StatusFailed         ContractStatus = "FAILED"
)

// Downloadable reports whether an artifact was produced for this status.
func (s ContractStatus) Downloadable() bool {
	return s == StatusSuccess || s == StatusPartialSuccess
}

// ContractID derives the stable identifier shared by every version of one
// provider/template/year contract. It doubles as the storage namespace.
func ContractID(providerID, templateID string, contractYear int) string {
	return fmt.Sprintf("%s-%s-%d", providerID, templateID, contractYear)
}

// GeneratedContract is the generation log entry for one run of the pipeline.
type GeneratedContract struct {
	ID           string         `json:"id"`
	ContractID   string         `json:"contract_id"`
	ProviderID   string         `json:"provider_id"`
	ProviderName string         `json:"provider_name"`
	TemplateID   string         `json:"template_id"`
	TemplateName string         `json:"template_name"`
	ContractYear int            `json:"contract_year"`
	Status       ContractStatus `json:"status"`
	GeneratedAt  time.Time      `json:"generated_at"`
	FileName     string         `json:"file_name,omitempty"`
	FileHash     string         `json:"file_hash,omitempty"`
	FileSize     int64          `json:"file_size,omitempty"`
	PermanentURL string         `json:"permanent_url"`
	StorageKey   string         `json:"storage_key,omitempty"`
	Warnings     []string       `json:"warnings,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// ArtifactMetadata is written once next to each immutable artifact and never updated.
type ArtifactMetadata struct {
	ContractID   string           `json:"contract_id"`
	Provider     ProviderSnapshot `json:"provider"`
	Template     TemplateSnapshot `json:"template"`
	GeneratedAt  string           `json:"generated_at"`
	Status       ContractStatus   `json:"status"`
	FileName     string           `json:"file_name"`
	FileSize     int64            `json:"file_size"`
	FileHash     string           `json:"file_hash"`
	PermanentURL string           `json:"permanent_url"`
	Version      string           `json:"version"`
}
