// Package fault classifies failures into the buckets the trading loop reacts to:
// transient (retry with backoff), permanent (record and stop), and missing data (no trade).
package fault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Kind int

const (
	KindTransient Kind = iota + 1
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a classified failure of an external call.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func Permanent(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPermanent, Op: op, Err: err}
}

func IsTransient(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindTransient
}

func IsPermanent(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindPermanent
}

// ErrDataUnavailable marks a snapshot field that sizing or gating needs but the provider did not supply.
var ErrDataUnavailable = errors.New("data_unavailable")

func DataUnavailable(field string) error {
	return fmt.Errorf("%w: %s", ErrDataUnavailable, field)
}

func IsDataUnavailable(err error) bool {
	return errors.Is(err, ErrDataUnavailable)
}

// FromGRPC classifies an error returned by a gRPC backed SDK call.
// Unknown codes are treated as transient so the caller never drops a retryable failure.
func FromGRPC(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(op, err)
	}
	if errors.Is(err, context.Canceled) {
		return Transient(op, err)
	}

	st, ok := status.FromError(err)
	if !ok {
		return Transient(op, err)
	}
	switch st.Code() {
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition,
		codes.PermissionDenied, codes.Unauthenticated, codes.AlreadyExists,
		codes.OutOfRange, codes.Unimplemented:
		return Permanent(op, err)
	default:
		return Transient(op, err)
	}
}

// FromHTTPStatus classifies an HTTP status code of a failed call.
func FromHTTPStatus(op string, code int, err error) error {
	switch {
	case code == 408 || code == 429 || code >= 500:
		return Transient(op, err)
	case code >= 400:
		return Permanent(op, err)
	default:
		return Transient(op, err)
	}
}

// WithTimeout runs fn, which has no context parameter, under a deadline.
// On expiry the call keeps running in the background and its result is discarded.
func WithTimeout[T any](ctx context.Context, d time.Duration, op string, fn func() (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		return fn()
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, Transient(op, ctx.Err())
	}
}
