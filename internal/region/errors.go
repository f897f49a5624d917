package region

import (
	"errors"
	"fmt"
)

// Only OutOfMemory is an expected, recoverable event - the caller backs off or degrades.
// Everything else means host misconfiguration or a broken platform guarantee, and the
// allocator must not keep operating on top of it.
type Kind uint8
const (
	KindOutOfMemory	Kind = iota + 1
	KindConfiguration
	KindInvariant
	KindRegistration
)

func (k Kind) String() string {
	switch k {
	case KindOutOfMemory:	return "out-of-memory"
	case KindConfiguration:	return "configuration"
	case KindInvariant:		return "invariant"
	case KindRegistration:	return "registration"
	default:				return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

var (
	// errors.Is(err, ErrOutOfMemory) matches any *Error of KindOutOfMemory
	ErrOutOfMemory	= errors.New("insufficient hugepage memory")
	// errors.Is(err, ErrFatal) matches any *Error that is not recoverable
	ErrFatal		= errors.New("fatal region error")
)

type Error struct {
	Kind	Kind
	Op		string // failing OS operation or callback, e.g. "shmget"
	Msg		string
	Key		int
	Size	uint64
	Err		error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("hugealloc: %s: %s (key=%d, size=%d)", e.Op, e.Msg, e.Key, e.Size)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrOutOfMemory:	return e.Kind == KindOutOfMemory
	case ErrFatal:			return e.IsFatal()
	}
	return false
}

func (e *Error) IsFatal() bool {
	return e.Kind != KindOutOfMemory
}

// true for *Error values that must not be retried. Non-region errors are treated as fatal too.
func IsFatal(err error) bool {
	if err == nil { return false }
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.IsFatal()
	}
	return true
}
