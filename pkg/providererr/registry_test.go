package providererr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-dispatch/pkg/providererr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassify(t *testing.T) {
	t.Run("Registered code resolves to its entry", func(t *testing.T) {
		c := providererr.Classify(providererr.CodeUnregistered)
		assert.Equal(t, providererr.CodeUnregistered, c.Code)
		assert.Equal(t, codes.NotFound, c.Status)
		assert.Equal(t, http.StatusNotFound, c.HTTPStatus())
		assert.False(t, c.Retryable)
	})

	t.Run("Absent code resolves to Unknown", func(t *testing.T) {
		c := providererr.Classify(99999)
		assert.Equal(t, providererr.Unknown, c)
		assert.Equal(t, providererr.CodeUnknown, c.Code)
		assert.Equal(t, providererr.CategoryServerError, c.Category)
		assert.Equal(t, http.StatusInternalServerError, c.HTTPStatus())
		assert.False(t, c.Retryable)
	})

	t.Run("Retryable is per entry, not per category", func(t *testing.T) {
		img := providererr.Classify(providererr.CodeInvalidImage)
		proc := providererr.Classify(providererr.CodeImageProcessingFailed)
		bad := providererr.Classify(providererr.CodeInvalidRegistration)

		assert.Equal(t, providererr.CategoryClientError, img.Category)
		assert.True(t, img.Retryable)
		assert.True(t, proc.Retryable)
		assert.Equal(t, providererr.CategoryClientError, bad.Category)
		assert.False(t, bad.Retryable)
	})

	t.Run("Lookup distinguishes absent codes", func(t *testing.T) {
		_, ok := providererr.Lookup(99999)
		assert.False(t, ok)
		c, ok := providererr.Lookup(providererr.CodeQuotaExceeded)
		require.True(t, ok)
		assert.True(t, c.Retryable)
	})
}

func TestRegistry_IsSortedAndConsistent(t *testing.T) {
	entries := providererr.Registry()
	require.NotEmpty(t, entries)
	for i, e := range entries {
		if i > 0 {
			assert.Less(t, entries[i-1].Code, e.Code)
		}
		// The registry's own category agrees with the prefix rule for every
		// entry whose prefix is one of the named ones.
		if derived := providererr.CategoryOf(e.Code); derived != providererr.CategoryServerError {
			assert.Equal(t, derived, e.Category, "code %d", e.Code)
		}
	}
}

func TestCategoryOf(t *testing.T) {
	testCases := []struct {
		code int
		want providererr.Category
	}{
		{40103, providererr.CategoryAuthentication},
		{401, providererr.CategoryAuthentication},
		{4011, providererr.CategoryAuthentication},
		{40399, providererr.CategoryAuthorization},
		{400, providererr.CategoryClientError},
		{4000123, providererr.CategoryClientError},
		{42900, providererr.CategoryRateLimit},
		{40801, providererr.CategoryTimeout},
		{50301, providererr.CategoryServerError},
		{40401, providererr.CategoryServerError},
		{40, providererr.CategoryServerError},
		{0, providererr.CategoryServerError},
		{-1, providererr.CategoryServerError},
		{-40101, providererr.CategoryServerError},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprint(tc.code), func(t *testing.T) {
			assert.Equal(t, tc.want, providererr.CategoryOf(tc.code))
		})
	}
}

func TestClassifiedError(t *testing.T) {
	t.Run("Category comes from the prefix even for unregistered codes", func(t *testing.T) {
		cause := errors.New("token expired")
		err := providererr.NewClassifiedError(40103, cause)

		assert.Equal(t, providererr.CategoryAuthentication, err.Category)
		assert.Equal(t, providererr.Unknown, err.Code)
		assert.False(t, err.Retryable())
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "AUTHENTICATION")
		assert.Contains(t, err.Error(), "token expired")
	})

	t.Run("Retryable and canonical status survive wrapping", func(t *testing.T) {
		err := fmt.Errorf("send: %w", providererr.NewClassifiedError(providererr.CodeProviderUnavailable, nil))

		assert.True(t, providererr.IsRetryable(err))

		var ce *providererr.ClassifiedError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, codes.Unavailable, status.Code(ce))
	})

	t.Run("Plain errors are not retryable", func(t *testing.T) {
		assert.False(t, providererr.IsRetryable(errors.New("boom")))
		assert.False(t, providererr.IsRetryable(nil))
	})
}
