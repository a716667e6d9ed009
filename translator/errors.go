package translator

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cloudshims/dsbridge/dsv3"
)

var stubCodes = map[dsv3.ErrorCode]codes.Code{
	dsv3.BadRequest:            codes.InvalidArgument,
	dsv3.ConcurrentTransaction: codes.Aborted,
	dsv3.InternalError:         codes.Internal,
	dsv3.NeedIndex:             codes.FailedPrecondition,
	dsv3.Timeout:               codes.DeadlineExceeded,
	dsv3.PermissionDenied:      codes.PermissionDenied,
	dsv3.BigtableError:         codes.Internal,
	dsv3.ResourceExhausted:     codes.ResourceExhausted,
	dsv3.NotFound:              codes.NotFound,
	dsv3.AlreadyExists:         codes.AlreadyExists,
	dsv3.FailedPrecondition:    codes.FailedPrecondition,
	dsv3.Unauthenticated:       codes.Unauthenticated,
	dsv3.Aborted:               codes.Aborted,
}

// fromStub lifts a legacy service error into the unified taxonomy. Errors
// already carrying a gRPC status pass through; anything unclassified
// becomes UNKNOWN with the original text preserved.
func fromStub(err error) error {
	if err == nil {
		return nil
	}
	var v3err *dsv3.Error
	if errors.As(err, &v3err) {
		code, ok := stubCodes[v3err.Code]
		if !ok {
			code = codes.Unknown
		}
		return status.Error(code, v3err.Msg)
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Unknown, err.Error())
}

func invalidf(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

func unimplementedf(format string, args ...interface{}) error {
	return status.Errorf(codes.Unimplemented, format, args...)
}

func unknownf(format string, args ...interface{}) error {
	return status.Errorf(codes.Unknown, format, args...)
}

// statusMessage extracts the human-readable text of a unified error.
func statusMessage(err error) string {
	return status.Convert(err).Message()
}
