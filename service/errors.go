package service

import (
	"context"
	"errors"

	"github.com/WiesHerd/contractpipeline/model"
	"github.com/WiesHerd/contractpipeline/packager"
	"github.com/WiesHerd/contractpipeline/storage"
)

var (
	// ErrNotGenerated means no downloadable generation exists. Remedy: regenerate.
	ErrNotGenerated     = errors.New("contract has not been generated, please regenerate")
	ErrTemplateInUse    = errors.New("template is referenced by generated contracts")
	ErrTemplateNotFound = errors.New("template not found")
	ErrProviderNotFound = errors.New("provider not found")
	ErrNoTemplate       = errors.New("no template assigned to provider")
	ErrJobNotFound      = errors.New("job not found")
	ErrSessionNotFound  = errors.New("assignment session not found")
)

// ErrorKind is the user-facing error taxonomy of the pipeline.
type ErrorKind string

const (
	KindData                 ErrorKind = "DATA"
	KindPackagingUnavailable ErrorKind = "PACKAGING_UNAVAILABLE"
	KindStorageWrite         ErrorKind = "STORAGE_WRITE"
	KindStorageRead          ErrorKind = "STORAGE_READ"
	KindStorageNotFound      ErrorKind = "STORAGE_NOT_FOUND"
	KindNotGenerated         ErrorKind = "NOT_GENERATED"
	KindCancelled            ErrorKind = "CANCELLED"
	KindInternal             ErrorKind = "INTERNAL"
)

// Classify maps err onto its ErrorKind. nil classifies as "".
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var dataErr *model.DataError
	switch {
	case errors.As(err, &dataErr),
		errors.Is(err, ErrTemplateNotFound),
		errors.Is(err, ErrProviderNotFound),
		errors.Is(err, ErrNoTemplate),
		errors.Is(err, ErrTemplateInUse):
		return KindData
	case errors.Is(err, packager.ErrPackagingUnavailable):
		return KindPackagingUnavailable
	case errors.Is(err, ErrNotGenerated):
		return KindNotGenerated
	case errors.Is(err, storage.ErrNotPersisted):
		return KindStorageNotFound
	case errors.Is(err, storage.ErrStorageAccess):
		return KindStorageRead
	case errors.Is(err, storage.ErrWriteFailed):
		return KindStorageWrite
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	}
	return KindInternal
}

// Remedy is the action offered to the user for a kind of failure.
func (k ErrorKind) Remedy() string {
	switch k {
	case KindData:
		return "fix the template or provider data and generate again"
	case KindPackagingUnavailable:
		return "reload the application and try again"
	case KindStorageWrite:
		return "the local copy is available; retry the upload later"
	case KindStorageRead:
		return "the contract exists; retry the download"
	case KindStorageNotFound, KindNotGenerated:
		return "regenerate the contract"
	case KindCancelled:
		return "start the operation again"
	default:
		return "report the problem to support"
	}
}
