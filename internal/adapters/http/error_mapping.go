package httpadapter

import (
	"net/http"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrRunNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrInvalidStateTransition),
		domain.IsKind(err, domain.ErrConcurrentUpdate),
		domain.IsKind(err, domain.ErrCancelled):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrConfiguration),
		domain.IsKind(err, domain.ErrExtraction):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
