package fetcher

import (
	"errors"
	"fmt"
)

// Kind classifies why a remote call failed.
type Kind int

const (
	// KindNetwork covers transport and connection failures.
	KindNetwork Kind = iota + 1
	// KindHTTPStatus is a non-2xx response.
	KindHTTPStatus
	// KindDecode is a body that does not match the expected shape.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindHTTPStatus:
		return "http_status"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// FetchError is the single failure type returned by the health client.
type FetchError struct {
	Op         string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		if e.Err != nil {
			return fmt.Sprintf("%s: health api error (%d): %v", e.Op, e.StatusCode, e.Err)
		}
		return fmt.Sprintf("%s: health api error (%d)", e.Op, e.StatusCode)
	case KindDecode:
		return fmt.Sprintf("%s: decode response: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a FetchError of kind k.
func IsKind(err error, k Kind) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind == k
	}
	return false
}

// KindOf returns the kind of a FetchError, or 0 for other errors.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

func networkError(op string, err error) *FetchError {
	return &FetchError{Op: op, Kind: KindNetwork, Err: err}
}

func statusError(op string, status int, detail string) *FetchError {
	fe := &FetchError{Op: op, Kind: KindHTTPStatus, StatusCode: status}
	if detail != "" {
		fe.Err = errors.New(detail)
	}
	return fe
}

func decodeError(op string, err error) *FetchError {
	return &FetchError{Op: op, Kind: KindDecode, Err: err}
}
