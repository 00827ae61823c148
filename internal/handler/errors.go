package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runner/internal/response"
	"github.com/stemsi/exstem-runner/internal/service"
)

// failFor maps a service error onto the response envelope. Unknown errors
// are logged with the request ID and reported as internal.
func failFor(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
	case errors.Is(err, service.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
	case errors.Is(err, service.ErrExamNotPublished):
		response.Fail(c, http.StatusConflict, response.ErrExamNotPublished)
	case errors.Is(err, service.ErrExamNotDraft):
		response.Fail(c, http.StatusConflict, response.ErrExamNotDraft)
	case errors.Is(err, service.ErrNoQuestions):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrNoQuestions)
	case errors.Is(err, service.ErrInvalidRecords):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidRecords, map[string]string{"detail": err.Error()})
	case errors.Is(err, service.ErrInvalidDuration):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrInvalidDuration)
	default:
		_ = c.Error(err)
		zerolog.Ctx(c.Request.Context()).Error().Err(err).
			Str("route", c.FullPath()).
			Msg("Request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
