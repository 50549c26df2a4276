package calls

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"domainop/internal/work"
)

func TestClassify(t *testing.T) {
	configmaps := schema.GroupResource{Resource: "configmaps"}

	tests := []struct {
		name      string
		err       error
		retryable bool
		hint      time.Duration
	}{
		{"conflict", apierrors.NewConflict(configmaps, "a", errors.New("modified")), true, 0},
		{"too many requests", apierrors.NewTooManyRequests("slow down", 3), true, 3 * time.Second},
		{"server timeout", apierrors.NewServerTimeout(configmaps, "create", 2), true, 2 * time.Second},
		{"timeout", apierrors.NewTimeoutError("watch", 0), true, 0},
		{"unavailable", apierrors.NewServiceUnavailable("etcd"), true, 0},
		{"internal", apierrors.NewInternalError(errors.New("boom")), true, 0},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), true, 0},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true, 0},
		{"not found", apierrors.NewNotFound(configmaps, "a"), false, 0},
		{"forbidden", apierrors.NewForbidden(configmaps, "a", errors.New("rbac")), false, 0},
		{"invalid", errors.New("spec.clusters[0].name is empty"), false, 0},
		{"cancelled", context.Canceled, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.ErrorIs(t, got, tt.err)
			assert.Equal(t, tt.retryable, work.IsRetryable(got))
			assert.Equal(t, !tt.retryable, work.IsFatal(got))

			var re *work.RetryableError
			if tt.hint > 0 && assert.ErrorAs(t, got, &re) {
				assert.Equal(t, tt.hint, re.After)
			}
		})
	}
}

func TestClassify_KeepsExistingMarkers(t *testing.T) {
	retryable := work.Retryable(errors.New("try again"))
	fatal := work.Fatal(apierrors.NewConflict(schema.GroupResource{}, "a", errors.New("x")))

	assert.Same(t, retryable, Classify(retryable))
	assert.Same(t, fatal, Classify(fatal))
	assert.NoError(t, Classify(nil))
}

func TestIgnoreHelpers(t *testing.T) {
	gr := schema.GroupResource{Resource: "configmaps"}

	assert.NoError(t, IgnoreNotFound(apierrors.NewNotFound(gr, "a")))
	assert.Error(t, IgnoreNotFound(apierrors.NewConflict(gr, "a", errors.New("x"))))
	assert.NoError(t, IgnoreAlreadyExists(apierrors.NewAlreadyExists(gr, "a")))
	assert.Error(t, IgnoreAlreadyExists(errors.New("other")))
}
