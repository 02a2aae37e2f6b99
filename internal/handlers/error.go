package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hercules-io/hercules/internal/gateway"
	"github.com/hercules-io/hercules/internal/models"
)

type ApiResponseError struct {
	Status int
	Body   any
}

func (e ApiResponseError) Error() string {
	data, err := json.Marshal(e.Body)
	if err != nil {
		return "ApiResponseError"
	}
	return string(data)
}

func NewApiResponseError(status int, body any) *ApiResponseError {
	return &ApiResponseError{
		Status: status,
		Body:   body,
	}
}

// errorResponse maps a gateway service error to its HTTP response.  It returns nil for
// internal errors.
func errorResponse(resource string, err error, now time.Time) *ApiResponseError {
	var verr *gateway.ValidationError
	var rlerr *gateway.RateLimitError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &verr):
		return NewApiResponseError(http.StatusBadRequest, models.NewFieldValidationError(verr.Field, verr.Reason))
	case errors.As(err, &rlerr):
		seconds := int(rlerr.RetryAfter(now) / time.Second)
		return NewApiResponseError(http.StatusTooManyRequests, models.NewRateLimitedError(seconds))
	case errors.Is(err, gateway.ErrNotFound):
		return NewApiResponseError(http.StatusNotFound, models.NewNotFoundError(resource))
	case errors.Is(err, gateway.ErrExpired):
		return NewApiResponseError(http.StatusGone, models.NewGoneError(resource, err.Error()))
	case errors.Is(err, gateway.ErrAlreadyRedeemed):
		return NewApiResponseError(http.StatusForbidden, models.NewNotAllowedError("already_redeemed"))
	case errors.Is(err, gateway.ErrUnauthorized):
		return NewApiResponseError(http.StatusUnauthorized, models.NewUnauthorizedError())
	case errors.Is(err, gateway.ErrForbidden):
		return NewApiResponseError(http.StatusForbidden, models.NewNotAllowedError(err.Error()))
	case errors.Is(err, gateway.ErrConflict):
		return NewApiResponseError(http.StatusConflict, models.BaseError{Error: err.Error()})
	}
	return nil
}
