package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassificationSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("submit bracket: %w", Transient("post order", errors.New("timeout")))
	assert.True(t, IsTransient(err))
	assert.False(t, IsPermanent(err))

	err = fmt.Errorf("submit bracket: %w", Permanent("post order", errors.New("rejected")))
	assert.True(t, IsPermanent(err))
	assert.False(t, IsTransient(err))

	assert.Nil(t, Transient("x", nil))
	assert.Nil(t, Permanent("x", nil))
}

func TestDataUnavailable(t *testing.T) {
	err := fmt.Errorf("size: %w", DataUnavailable("atr14"))
	assert.True(t, IsDataUnavailable(err))
	assert.Contains(t, err.Error(), "data_unavailable: atr14")
	assert.False(t, IsTransient(err))
}

func TestFromGRPC(t *testing.T) {
	cases := []struct {
		code      codes.Code
		transient bool
	}{
		{codes.Unavailable, true},
		{codes.DeadlineExceeded, true},
		{codes.ResourceExhausted, true},
		{codes.Internal, true},
		{codes.Aborted, true},
		{codes.InvalidArgument, false},
		{codes.NotFound, false},
		{codes.FailedPrecondition, false},
		{codes.PermissionDenied, false},
	}
	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := FromGRPC("post order", status.Error(tc.code, "boom"))
			assert.Equal(t, tc.transient, IsTransient(err))
			assert.Equal(t, !tc.transient, IsPermanent(err))
		})
	}

	assert.True(t, IsTransient(FromGRPC("op", context.DeadlineExceeded)))
	assert.Nil(t, FromGRPC("op", nil))
}

func TestFromHTTPStatus(t *testing.T) {
	assert.True(t, IsTransient(FromHTTPStatus("chat", 429, errors.New("slow down"))))
	assert.True(t, IsTransient(FromHTTPStatus("chat", 503, errors.New("down"))))
	assert.True(t, IsPermanent(FromHTTPStatus("chat", 401, errors.New("bad key"))))
}

func TestWithTimeout(t *testing.T) {
	v, err := WithTimeout(context.Background(), time.Second, "fast", func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	release := make(chan struct{})
	defer close(release)
	_, err = WithTimeout(context.Background(), 10*time.Millisecond, "slow", func() (int, error) {
		<-release
		return 0, nil
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
