// Package llm holds what the text generator adapters share.
package llm

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

// WrapStatus tags a provider failure with the error kind the call guard
// classifies on. A zero statusCode means no HTTP response was received.
func WrapStatus(operation string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) || domain.IsKind(err, domain.ErrUnauthorized) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return domain.WrapError(domain.ErrUnauthorized, operation, err)
	case IsRetryableStatus(statusCode):
		return domain.WrapError(domain.ErrTemporary, operation, err)
	case statusCode != 0:
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, 529:
		return true
	default:
		return false
	}
}
