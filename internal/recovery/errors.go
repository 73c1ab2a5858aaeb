package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind buckets a failure into the recovery strategy that applies to it.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindPermission
	KindData
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindPermission:
		return "permission"
	case KindData:
		return "data"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Classification happens where the underlying
// store or network call fails, so downstream code dispatches on the kind
// instead of matching message text.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err and attaches the operation name. A nil err stays nil
// and an already classified error keeps its original kind and op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}

// KindOf returns the classified kind, or KindUnknown for untyped errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
			return KindNetwork
		case codes.PermissionDenied, codes.Unauthenticated:
			return KindPermission
		case codes.InvalidArgument, codes.DataLoss, codes.FailedPrecondition, codes.NotFound:
			return KindData
		case codes.ResourceExhausted:
			return KindResource
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return KindData
	}
	return KindUnknown
}
