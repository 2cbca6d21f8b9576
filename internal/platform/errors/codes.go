// Package errors provides structured error handling for the calling frontend.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Call link errors
	CodeRoomNotFound         Code = "ROOM_NOT_FOUND"
	CodeAdminPasskeyMismatch Code = "ADMIN_PASSKEY_MISMATCH"
	CodeCredentialForbidden  Code = "CREDENTIAL_FORBIDDEN"
	CodeZKParamsInvalid      Code = "ZKPARAMS_INVALID"

	// Storage errors
	CodeStorageUnexpected Code = "STORAGE_UNEXPECTED"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeRoomNotFound:
		return codes.NotFound
	case CodeAdminPasskeyMismatch, CodeCredentialForbidden:
		return codes.PermissionDenied
	case CodeZKParamsInvalid:
		return codes.InvalidArgument
	case CodeStorageUnexpected:
		return codes.Internal
	default:
		return codes.Unknown
	}
}
