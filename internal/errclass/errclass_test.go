package errclass

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
		want    Kind
	}{
		{name: "rate limit 429", err: errors.New("HTTP 429 Too Many Requests"), want: KindTransient},
		{name: "rate limit text", message: "Rate limit reached for requests", want: KindTransient},
		{name: "connection refused", err: errors.New("dial tcp 10.0.0.1:443: connect: connection refused"), want: KindTransient},
		{name: "server error", err: errors.New("upstream returned 503"), want: KindTransient},
		{name: "quota", message: "Quota exceeded for project", want: KindTransient},
		{name: "lock contention", err: errors.New("could not obtain lock on relation"), want: KindTransient},
		{name: "dns", err: errors.New("lookup api.example.com: no such host"), want: KindTransient},
		{name: "unauthorized 401", err: errors.New("HTTP 401"), want: KindPermanent},
		{name: "unauthorized text", message: "Unauthorized: invalid api key", want: KindPermanent},
		{name: "forbidden", err: errors.New("403 Forbidden"), want: KindPermanent},
		{name: "not found", err: errors.New("table does not exist"), want: KindPermanent},
		{name: "duplicate", err: errors.New("duplicate key value violates unique constraint"), want: KindPermanent},
		{name: "deadline", err: context.DeadlineExceeded, want: KindTimeout},
		{name: "wrapped deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), want: KindTimeout},
		{name: "timed out text", message: "operation timed out after 30s", want: KindTimeout},
		{name: "timeout word", err: errors.New("read: timeout waiting for rows"), want: KindTimeout},
		{name: "time out of range", err: errors.New("ERROR: time out of range (SQLSTATE 22008)"), want: KindUnknown},
		{name: "runtime output", err: errors.New("runtime output validation produced no rows"), want: KindUnknown},
		{name: "runtime output validation failed", message: "runtime output validation failed: no rows", want: KindValidation},
		{name: "malformed", err: errors.New("malformed config: missing field"), want: KindValidation},
		{name: "unrecognized", err: errors.New("the flux capacitor is sad"), want: KindUnknown},
		{name: "empty", want: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err, tt.message))
		})
	}
}

func TestClassify_TimeoutBeatsTransient(t *testing.T) {
	// Both a timeout and a 5xx are present; the timeout signal wins.
	assert.Equal(t, KindTimeout, Classify(errors.New("504 gateway timeout"), ""))
}

func TestClassify_ExplicitFailureKind(t *testing.T) {
	err := fmt.Errorf("step: %w", New(KindPermanent, "HTTP 503 but the account is closed"))
	assert.Equal(t, KindPermanent, Classify(err, ""))

	assert.Equal(t, KindValidation, Classify(Validation("unknown processor %q", "nope"), ""))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(KindTransient))
	assert.True(t, IsRetryable(KindTimeout))
	assert.False(t, IsRetryable(KindPermanent))
	assert.False(t, IsRetryable(KindValidation))
	assert.False(t, IsRetryable(KindDependencyFailure))
	assert.False(t, IsRetryable(KindUnknown))
}

func TestRetryabilityOfClassifiedMessages(t *testing.T) {
	assert.True(t, IsRetryable(Classify(nil, "rate limit exceeded")))
	assert.False(t, IsRetryable(Classify(nil, "401 unauthorized")))
	assert.False(t, IsRetryable(Classify(nil, "something odd happened")))
}

func TestFailureError(t *testing.T) {
	cause := errors.New("boom")
	assert.Equal(t, "wrapped: boom", Wrap(KindTransient, "wrapped", cause).Error())
	assert.Equal(t, "boom", Wrap(KindTransient, "", cause).Error())
	assert.Equal(t, "plain", New(KindUnknown, "plain").Error())
	assert.ErrorIs(t, Wrap(KindTransient, "wrapped", cause), cause)
}

func TestAlwaysAborts(t *testing.T) {
	assert.True(t, AlwaysAborts(KindValidation))
	assert.False(t, AlwaysAborts(KindPermanent))
}
