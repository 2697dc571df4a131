package message_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cmux/streamengine/message"
)

func TestClassifyErrorCategories(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want message.ErrorType
	}{
		{"canceled", context.Canceled, message.ErrAborted},
		{"context", errors.New("Error: maximum context length exceeded"), message.ErrContextExceeded},
		{"auth", errors.New("401 Unauthorized: invalid api key"), message.ErrAuthentication},
		{"rate", errors.New("429 rate limit exceeded, please retry"), message.ErrRateLimit},
		{"quota", errors.New("You have exceeded your current quota"), message.ErrQuota},
		{"network", errors.New("dial tcp: connection refused"), message.ErrNetwork},
		{"server", errors.New("503 service unavailable"), message.ErrServerError},
		{"unknown", errors.New("something bizarre happened"), message.ErrUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, message.ClassifyError(tc.err))
		})
	}
}
