package storage

import (
	"fmt"
	"time"
)

const (
	immutablePrefix = "contracts/immutable"
	metadataPrefix  = "contracts/metadata"
	secondaryPrefix = "contracts"

	generatedAtLayout = "2006-01-02T15:04:05.000Z"
)

// Locator identifies one stored version of a contract. Every key is a pure
// function of its fields.
type Locator struct {
	ContractID  string
	GeneratedAt time.Time
	FileName    string
}

// FormatGeneratedAt renders the ISO instant used in keys, always UTC with millisecond precision.
func FormatGeneratedAt(t time.Time) string {
	return t.UTC().Format(generatedAtLayout)
}

// ImmutableKey is contracts/immutable/{contractId}/{generatedAtISO}/{fileName}.
func ImmutableKey(l Locator) string {
	return fmt.Sprintf("%s/%s/%s/%s", immutablePrefix, l.ContractID, FormatGeneratedAt(l.GeneratedAt), l.FileName)
}

// MetadataKey is contracts/metadata/{contractId}/{generatedAtISO}.json.
func MetadataKey(l Locator) string {
	return fmt.Sprintf("%s/%s/%s.json", metadataPrefix, l.ContractID, FormatGeneratedAt(l.GeneratedAt))
}

// SecondaryKey is contracts/{contractId}/{generatedAtISO}/{fileName}. The
// timestamp keeps every generation write-once on the secondary tier too.
func SecondaryKey(l Locator) string {
	return fmt.Sprintf("%s/%s/%s/%s", secondaryPrefix, l.ContractID, FormatGeneratedAt(l.GeneratedAt), l.FileName)
}
