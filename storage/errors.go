package storage

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

var (
	// ErrNotFound is returned when the addressed document does not exist for
	// the principal performing the write.
	ErrNotFound = errors.New("document not found")
	// ErrPermissionDenied is returned when the access rules reject a write.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnavailable covers transient backend failures.
	ErrUnavailable = errors.New("store unavailable")
)

// classify maps Azure response errors onto the store sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	switch respErr.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case http.StatusForbidden, http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return err
	}
}
