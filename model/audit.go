package model

import "time"

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// AuditEvent mirrors record(action, severity, category, resourceType, resourceId, metadata).
type AuditEvent struct {
	ID           string         `json:"id"`
	Action       string         `json:"action"`
	Severity     Severity       `json:"severity"`
	Category     string         `json:"category"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Actor        string         `json:"actor,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
