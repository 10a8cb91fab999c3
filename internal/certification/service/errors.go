package service

import (
	"errors"

	"certflow/internal/certification/authority"
	dErrors "certflow/pkg/domain-errors"
	"certflow/pkg/platform/sentinel"
)

// translateStoreErr maps infrastructure sentinels onto domain codes. Domain
// errors pass through untouched.
func (s *Service) translateStoreErr(err error, op string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "certification not found")
	case errors.Is(err, sentinel.ErrConflict):
		s.metrics.IncrementRaceLoss(op)
		return dErrors.Wrap(err, dErrors.CodeConflict, "certification was changed by another request; reload and retry")
	case errors.Is(err, sentinel.ErrAlreadyClaimed):
		s.metrics.IncrementRaceLoss(op)
		return dErrors.Wrap(err, dErrors.CodeConflict, "a submission for this certification is already in progress")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvalidState, "certification can no longer be changed")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "certification store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "certification store "+op+" failed")
	}
}

// translateAuthorityErr maps an authority failure onto a domain code. The
// authority's own messages stay reachable through authority.MessagesOf.
func translateAuthorityErr(err error) error {
	switch authority.CategoryOf(err) {
	case authority.ErrorTimeout:
		return dErrors.Wrap(err, dErrors.CodeTimeout, "validation authority did not answer in time; try again later")
	case authority.ErrorCanceled:
		return dErrors.Wrap(err, dErrors.CodeTimeout, "request canceled before the validation authority answered")
	case authority.ErrorRejected:
		return dErrors.Wrap(err, dErrors.CodeUpstreamRejected, "validation authority rejected the request")
	case authority.ErrorNotFound:
		return dErrors.Wrap(err, dErrors.CodeUpstreamRejected, "validation authority does not know this certification")
	case authority.ErrorBadData:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "validation authority returned an unreadable response; try again later")
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "validation authority unavailable; try again later")
	}
}
