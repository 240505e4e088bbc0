package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vango-go/callcoach/pkg/core"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	var authErr *core.AuthenticationError
	if errors.As(err, &authErr) && authErr != nil {
		return &core.Error{
			Type:      core.ErrAuthentication,
			Message:   authErr.Message,
			Code:      string(authErr.Reason),
			RequestID: requestID,
		}, http.StatusUnauthorized
	}

	// Store sentinels.
	switch {
	case errors.Is(err, core.ErrNotFoundRecord):
		return &core.Error{
			Type:      core.ErrNotFound,
			Message:   "not found",
			RequestID: requestID,
		}, http.StatusNotFound
	case errors.Is(err, core.ErrInvalidTransition):
		return &core.Error{
			Type:      core.ErrConflict,
			Message:   err.Error(),
			Code:      "invalid_transition",
			RequestID: requestID,
		}, http.StatusConflict
	case errors.Is(err, core.ErrDuplicateRecord):
		return &core.Error{
			Type:      core.ErrConflict,
			Message:   "already exists",
			Code:      "duplicate",
			RequestID: requestID,
		}, http.StatusConflict
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrConflict:
		return http.StatusConflict
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrOverloaded:
		return 529
	case core.ErrAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
