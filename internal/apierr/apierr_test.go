package apierr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		assert.Equal(t, "", Sanitize(nil))
	})

	t.Run("development keeps message", func(t *testing.T) {
		t.Setenv("ENVIRONMENT", "development")
		assert.Equal(t, "sql: no rows", Sanitize(errors.New("sql: no rows")))
	})

	t.Run("production hides internals", func(t *testing.T) {
		t.Setenv("ENVIRONMENT", "production")

		cases := map[string]string{
			"sql: connection reset":      "database operation failed",
			"dial tcp 127.0.0.1:6379":    "connection error occurred",
			"context deadline exceeded":  "request timed out",
			"user not found":             "resource not found",
			"something odd happened now": "an error occurred",
		}
		for in, want := range cases {
			assert.Equal(t, want, Sanitize(errors.New(in)), in)
		}
	})
}

func TestNew(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")

	resp := New(CodeDecodeError, "invalid image payload", errors.New("illegal base64 data"))

	assert.Equal(t, CodeDecodeError, resp.Error)
	assert.Equal(t, "invalid image payload", resp.Message)
	assert.Equal(t, "illegal base64 data", resp.Details)
}
