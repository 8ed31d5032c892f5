// Package packager turns merged markup into a downloadable document artifact.
package packager

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrPackagingUnavailable means the packaging backend is not ready. It is an
// environment problem: the user should reload, not fix their data.
var ErrPackagingUnavailable = errors.New("document packaging backend unavailable")

const (
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypePDF  = "application/pdf"
)

// Input is everything the packager needs; GeneratedAt only feeds the filename.
type Input struct {
	Markup       string
	ContractYear int
	ProviderName string
	GeneratedAt  time.Time
}

type Artifact struct {
	Filename    string
	Data        []byte
	ContentType string
	Warnings    []string
}

type Packager interface {
	Package(ctx context.Context, in Input) (*Artifact, error)
	// Extension is the fixed file extension of produced artifacts, without the dot.
	Extension() string
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SanitizeName lower-cases a provider name and replaces every non-alphanumeric
// character with an underscore: "Dr. Smith" -> "dr__smith".
func SanitizeName(name string) string {
	return strings.ToLower(nonAlphanumeric.ReplaceAllString(name, "_"))
}

// Filename builds {contractYear}_{sanitizedProviderName}_{YYYYMMDD}.{ext}.
func Filename(contractYear int, providerName string, generatedAt time.Time, ext string) string {
	return fmt.Sprintf("%d_%s_%s.%s", contractYear, SanitizeName(providerName), generatedAt.UTC().Format("20060102"), ext)
}
