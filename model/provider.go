package model

import "strings"

// Provider is a point-in-time snapshot of a provider record. Fields carries the
// free-form attributes (salary, FTE breakdown, dates, dynamic columns).
type Provider struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Email             string         `json:"email,omitempty"`
	Specialty         string         `json:"specialty,omitempty"`
	ProviderType      string         `json:"provider_type,omitempty"`
	CompensationModel string         `json:"compensation_model,omitempty"`
	Fields            map[string]any `json:"fields,omitempty"`
}

// Lookup resolves a flat column name. Built-in attributes are checked first, then
// an exact Fields key, then a case-insensitive Fields key. No dot or bracket paths.
func (p Provider) Lookup(column string) (any, bool) {
	column = strings.TrimSpace(column)
	if column == "" {
		return nil, false
	}

	switch strings.ToLower(column) {
	case "id", "providerid":
		return p.ID, p.ID != ""
	case "name", "providername":
		return p.Name, p.Name != ""
	case "email":
		return p.Email, p.Email != ""
	case "specialty":
		return p.Specialty, p.Specialty != ""
	case "providertype", "provider_type":
		return p.ProviderType, p.ProviderType != ""
	case "compensationmodel", "compensation_model":
		return p.CompensationModel, p.CompensationModel != ""
	}

	if v, ok := p.Fields[column]; ok {
		return v, v != nil
	}
	// Several case variants resolve to the smallest key so map order never leaks out.
	var (
		found bool
		key   string
		value any
	)
	for k, v := range p.Fields {
		if !strings.EqualFold(k, column) {
			continue
		}
		if !found || k < key {
			found, key, value = true, k, v
		}
	}
	return value, found && value != nil
}

func (p Provider) Snapshot() ProviderSnapshot {
	return ProviderSnapshot{
		ID:        p.ID,
		Name:      p.Name,
		Specialty: p.Specialty,
	}
}

type ProviderSnapshot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty,omitempty"`
}
