package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/classifieds-messaging/internal/dto"
	"github.com/shinyyama/classifieds-messaging/internal/service"
	"go.uber.org/zap"
)

func NewErrorResponse(code, message string) dto.ErrorResponse {
	return dto.ErrorResponse{
		Error: dto.ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}

// respondError maps service errors to HTTP statuses. Unexpected errors are
// logged and hidden behind a generic message.
func respondError(c echo.Context, logger *zap.Logger, err error, what string) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, NewErrorResponse(dto.CodeNotFound, what+" not found"))
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, NewErrorResponse(dto.CodeForbidden, "not a participant"))
	case errors.Is(err, service.ErrInvalidParticipants):
		return c.JSON(http.StatusBadRequest, NewErrorResponse(dto.CodeInvalidParticipants, err.Error()))
	case errors.Is(err, service.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, NewErrorResponse(dto.CodeInvalidInput, err.Error()))
	}
	logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, NewErrorResponse(dto.CodeInternal, "failed to process "+what))
}
