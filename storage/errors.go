package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/redis/go-redis/v9"

	"github.com/jmossahebi/jello2/domain"
)

var persistenceKinds = []error{
	domain.ErrPermissionDenied,
	domain.ErrUnavailable,
	domain.ErrMalformed,
	domain.ErrQuotaExceeded,
	domain.ErrOther,
}

// classify wraps err with exactly one persistence sentinel from the domain
// package, keeping the original cause in the chain.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range persistenceKinds {
		if errors.Is(err, kind) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, kindOf(err), err)
}

func kindOf(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch code := respErr.StatusCode; {
		case code == http.StatusUnauthorized, code == http.StatusForbidden:
			return domain.ErrPermissionDenied
		case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
			return domain.ErrUnavailable
		default:
			return domain.ErrOther
		}
	}
	if errors.Is(err, errCredential) {
		return domain.ErrPermissionDenied
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, redis.ErrClosed) {
		return domain.ErrUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.ErrUnavailable
	}
	return domain.ErrOther
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
