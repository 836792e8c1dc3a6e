// Package storage defines the key/value contract cart sessions are persisted
// through, and a registry that builds named storages from registered drivers.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/timbouc/cart/pkg/errors"
)

// Storage persists serialized cart snapshots keyed by session.
//
// Get returns an error matching apperrors.ErrNotFound when the key is absent.
// Backend failures are wrapped with ErrIO.
type Storage interface {
	Has(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Factory builds a storage instance from the driver-specific config.
type Factory func(config any) (Storage, error)

// Config names the driver of a storage and carries its driver-specific config.
type Config struct {
	Driver string
	Config any
}

var (
	ErrInvalidConfig      = errors.New("invalid storage config")
	ErrDriverNotSupported = errors.New("storage driver not supported")
	ErrIO                 = errors.New("storage io error")
)

// InvalidConfig reports a storage that cannot be resolved from configuration.
func InvalidConfig(message string) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    "INVALID_CONFIG",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     ErrInvalidConfig,
	}
}

// DriverNotSupported reports a storage configured with an unregistered driver.
func DriverNotSupported(driver string) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    "DRIVER_NOT_SUPPORTED",
		Message: fmt.Sprintf("Driver %s is not supported", driver),
		Status:  http.StatusInternalServerError,
		Err:     ErrDriverNotSupported,
	}
}

// IO wraps a backend failure. Clients see a 503 without the backend detail.
func IO(op string, err error) error {
	return apperrors.Unavailable("cart storage", fmt.Errorf("%w: %s: %w", ErrIO, op, err))
}

// KeyNotFound is returned by Get for an absent key.
func KeyNotFound(key string) *apperrors.AppError {
	return apperrors.NotFound("cart session", key)
}
