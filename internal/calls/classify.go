package calls

import (
	"context"
	"errors"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	utilnet "k8s.io/apimachinery/pkg/util/net"

	"domainop/internal/work"
)

// Classifier marks an error as retryable or fatal for the engine.
type Classifier func(err error) error

// Classify is the default Classifier for Kubernetes API calls.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case work.IsRetryable(err), work.IsFatal(err):
		return err
	case errors.Is(err, context.Canceled):
		// only happens when the fiber is cancelled, which discards the result
		return work.Fatal(err)
	case errors.Is(err, context.DeadlineExceeded):
		return work.Retryable(err)
	case isTransientAPIError(err):
		if seconds, ok := apierrors.SuggestsClientDelay(err); ok && seconds > 0 {
			return work.RetryableAfter(err, time.Duration(seconds)*time.Second)
		}
		return work.Retryable(err)
	case utilnet.IsConnectionReset(err), utilnet.IsConnectionRefused(err), utilnet.IsProbableEOF(err):
		return work.Retryable(err)
	default:
		return work.Fatal(err)
	}
}

func isTransientAPIError(err error) bool {
	return apierrors.IsConflict(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsInternalError(err)
}

// IgnoreNotFound treats a NotFound API error as success.
func IgnoreNotFound(err error) error {
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

// IgnoreAlreadyExists treats an AlreadyExists API error as success.
func IgnoreAlreadyExists(err error) error {
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	return err
}
