package handler

import (
	"errors"
	"net/http"

	"github.com/WiesHerd/contractpipeline/middleware"
	"github.com/WiesHerd/contractpipeline/pkg/logger"
	"github.com/WiesHerd/contractpipeline/service"
	"github.com/gin-gonic/gin"
)

// statusFor maps an error onto an HTTP status through its ErrorKind.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrTemplateNotFound),
		errors.Is(err, service.ErrProviderNotFound),
		errors.Is(err, service.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrTemplateInUse):
		return http.StatusConflict
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusUnauthorized
	}

	switch service.Classify(err) {
	case service.KindData:
		return http.StatusBadRequest
	case service.KindPackagingUnavailable, service.KindStorageRead:
		return http.StatusServiceUnavailable
	case service.KindStorageWrite:
		return http.StatusBadGateway
	case service.KindStorageNotFound, service.KindNotGenerated:
		return http.StatusNotFound
	case service.KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {error, kind, remedy, request_id}. Internal errors are
// not echoed to the caller.
func respondError(c *gin.Context, err error) {
	kind := service.Classify(err)
	status := statusFor(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", "error", err)
		msg = "Internal server error"
	}

	c.Header(middleware.HeaderErrorKind, string(kind))
	c.AbortWithStatusJSON(status, gin.H{
		"error":      msg,
		"kind":       kind,
		"remedy":     kind.Remedy(),
		"request_id": middleware.GetRequestID(c),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.Header(middleware.HeaderErrorKind, string(service.KindData))
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":      msg,
		"kind":       service.KindData,
		"request_id": middleware.GetRequestID(c),
	})
}
