package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/response"
	"github.com/stemsi/exam-portal/internal/service"
)

// errorMapping pairs an engine error with its HTTP status and response code.
type errorMapping struct {
	err    error
	status int
	code   response.ErrCode
}

// Order matters: ErrStoreUnavailable wraps the driver error and must win over
// anything the driver error might match.
var errorMappings = []errorMapping{
	{service.ErrStoreUnavailable, http.StatusServiceUnavailable, response.ErrStoreUnavailable},
	{service.ErrExamNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrQuestionNotFound, http.StatusNotFound, response.ErrQuestionNotFound},
	{service.ErrNotRegistered, http.StatusForbidden, response.ErrNotRegistered},
	{service.ErrIntegrityFault, http.StatusConflict, response.ErrIntegrityFault},
	{service.ErrDeadlinePassed, http.StatusGone, response.ErrAttemptExpired},
	{service.ErrExamNotOpen, http.StatusConflict, response.ErrExamNotOpen},
	{service.ErrExamExpired, http.StatusGone, response.ErrExamExpired},
	{service.ErrAttemptNotStarted, http.StatusConflict, response.ErrAttemptNotStarted},
	{service.ErrSessionNotActive, http.StatusConflict, response.ErrSessionNotActive},
	{service.ErrExamLocked, http.StatusConflict, response.ErrExamLocked},
	{service.ErrNotExamOwner, http.StatusForbidden, response.ErrNotExamOwner},
}

// classify returns the status and code for an engine error.
func classify(err error) (int, response.ErrCode) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, response.ErrValidation
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failWithError writes the response for an engine error. Unexpected errors
// and store outages are logged.
func failWithError(c *gin.Context, log zerolog.Logger, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, verr.Fields)
		return
	}

	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}
