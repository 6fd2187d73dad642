package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/pkg/logger"
	"github.com/civictriage/backend/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// toAppError maps a workflow error onto the HTTP envelope: validation
// problems are the caller's fault, missing entities are 404, everything
// else (model, storage) is a server-side failure.
func toAppError(err error) *response.AppError {
	var ve *apperrors.ValidationError
	switch {
	case errors.As(err, &ve):
		return response.NewValidation("validation failed", ve.Fields)
	case errors.Is(err, apperrors.ErrValidation):
		return response.NewBadRequest(err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		return response.NewNotFound(err.Error())
	case errors.Is(err, apperrors.ErrUpstreamUnavailable):
		return response.NewServerError("language model unavailable")
	case errors.Is(err, apperrors.ErrMalformedResponse), errors.Is(err, apperrors.ErrInvalidModelOutput):
		return response.NewServerError("language model returned an unusable response")
	case errors.Is(err, apperrors.ErrPersistence):
		return response.NewServerError("storage error")
	default:
		return response.NewServerError("internal error")
	}
}

// fail writes err and logs server-side failures with their full cause.
func fail(c *gin.Context, err error) {
	appErr := toAppError(err)
	if appErr.HTTPStatus >= 500 {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("[API] Request failed")
	}
	response.Error(c, appErr)
}

// bindingFields turns validator errors into the field map of a 400 response.
// ok is false when err is not a validation failure (e.g. malformed JSON).
func bindingFields(err error) (map[string]string, bool) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, false
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fieldMessage(fe)
	}
	return fields, true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "is invalid"
	}
}

// badBinding responds to a ShouldBind error.
func badBinding(c *gin.Context, err error) {
	if fields, ok := bindingFields(err); ok {
		response.ValidationFailed(c, fields)
		return
	}
	response.BadRequest(c, err.Error())
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil {
		return v
	}
	return fallback
}
