package dsv3

import "fmt"

// ErrorCode is the legacy service error taxonomy.
type ErrorCode int32

const (
	BadRequest                ErrorCode = 1
	ConcurrentTransaction     ErrorCode = 2
	InternalError             ErrorCode = 3
	NeedIndex                 ErrorCode = 4
	Timeout                   ErrorCode = 5
	PermissionDenied          ErrorCode = 6
	BigtableError             ErrorCode = 7
	CommittedButStillApplying ErrorCode = 8
	CapabilityDisabled        ErrorCode = 9
	TryAlternateBackend       ErrorCode = 10
	SafeTimeTooOld            ErrorCode = 11
	ResourceExhausted         ErrorCode = 12
	NotFound                  ErrorCode = 13
	AlreadyExists             ErrorCode = 14
	FailedPrecondition        ErrorCode = 15
	Unauthenticated           ErrorCode = 16
	Aborted                   ErrorCode = 17
)

// Error is a failure reported by the legacy service.
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("datastore_v3: %s (%d)", e.Msg, e.Code)
}

// Errorf builds an *Error, fmt style.
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}
