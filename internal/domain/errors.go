package domain

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/timbouc/cart/pkg/errors"
)

// Cart error sentinels. Match them with errors.Is.
var (
	ErrParse           = errors.New("condition value parse error")
	ErrTargetNotFound  = errors.New("condition target not found")
	ErrOperationFailed = errors.New("cart operation failed")
)

// ParseError reports a condition value that is neither a number nor a percentage.
func ParseError(value string) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    "PARSE_ERROR",
		Message: fmt.Sprintf("condition value %q is not a number or percentage", value),
		Status:  http.StatusBadRequest,
		Err:     ErrParse,
	}
}

// TargetNotFound reports a condition whose target item is not in the cart.
func TargetNotFound(target string) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    "TARGET_NOT_FOUND",
		Message: fmt.Sprintf("condition target item %s not found", target),
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrTargetNotFound,
	}
}

// OperationFailed reports a rejected cart operation.
func OperationFailed(op, msg string) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    "OPERATION_FAILED",
		Message: fmt.Sprintf("failed to %s: %s", op, msg),
		Status:  http.StatusBadRequest,
		Err:     ErrOperationFailed,
	}
}

// ItemNotFound reports a missing item id. It matches both ErrOperationFailed and
// apperrors.ErrNotFound.
func ItemNotFound(op, itemID string) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    "OPERATION_FAILED",
		Message: fmt.Sprintf("failed to %s: item %s not found", op, itemID),
		Status:  http.StatusNotFound,
		Err:     fmt.Errorf("%w: %w", ErrOperationFailed, apperrors.ErrNotFound),
	}
}

// ConditionNotFound reports a missing condition name. It matches both
// ErrOperationFailed and apperrors.ErrNotFound.
func ConditionNotFound(op, name string) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    "OPERATION_FAILED",
		Message: fmt.Sprintf("failed to %s: condition %q not found", op, name),
		Status:  http.StatusNotFound,
		Err:     fmt.Errorf("%w: %w", ErrOperationFailed, apperrors.ErrNotFound),
	}
}
