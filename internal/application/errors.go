package application

import (
	"github.com/wms-platform/ledger-engine/internal/domain"
	"github.com/wms-platform/ledger-engine/pkg/errors"
)

// ToAppError maps ledger failures to API errors.
func ToAppError(err error) *errors.AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr
	}

	kind := domain.KindOf(err)
	var appErr *errors.AppError
	switch kind {
	case domain.KindCompensationFailure:
		appErr = errors.ErrCompensationFailed(err.Error())
	case domain.KindItemNotFound, domain.KindBalanceRecordMissing, domain.KindSerialBalanceMissing:
		appErr = errors.ErrNotFound(err.Error())
	case domain.KindInsufficientUnrestricted, domain.KindInsufficientReserved:
		appErr = errors.ErrUnprocessable(err.Error())
	case domain.KindInvalidInput:
		appErr = errors.ErrValidation(err.Error())
	default:
		return errors.MapDomainError(err)
	}
	return appErr.WithDetail("kind", string(kind)).Wrap(err)
}
