package model

import "fmt"

// DataError reports a missing or unusable template/provider field. It is fatal to one
// generation and is never retried.
type DataError struct {
	Field  string
	Reason string
}

func (e *DataError) Error() string {
	if e.Field == "" {
		return "data error: " + e.Reason
	}
	return fmt.Sprintf("data error: %s: %s", e.Field, e.Reason)
}

func NewDataError(field, reason string) *DataError {
	return &DataError{Field: field, Reason: reason}
}
