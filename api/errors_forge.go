package api

import (
	"errors"
	"net/http"

	"github.com/xraph/forge"

	"github.com/graniteshield/outbox"
)

// mapError converts outbox sentinel errors to Forge HTTP errors.
func mapError(err error) error {
	switch {
	case errors.Is(err, outbox.ErrUnauthorized):
		return forge.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, outbox.ErrRecordNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, outbox.ErrOptOutNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, outbox.ErrInvalidDraft):
		return forge.BadRequest(err.Error())
	case errors.Is(err, outbox.ErrPayloadValidationFailed):
		return forge.BadRequest(err.Error())
	case errors.Is(err, outbox.ErrHandlerNotRegistered):
		return forge.BadRequest(err.Error())
	case errors.Is(err, outbox.ErrNotDeadLettered):
		return forge.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, outbox.ErrConflict):
		return forge.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, outbox.ErrNoStore):
		return forge.InternalError(err)
	case errors.Is(err, outbox.ErrStoreClosed):
		return forge.InternalError(err)
	default:
		return forge.InternalError(err)
	}
}
