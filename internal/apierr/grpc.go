package apierr

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// KindFromGRPC maps a status-wrapped error (as persistence.Store.EnsureSession
// returns for a missing or foreign-owned session) to the Kind it should
// surface as. err that doesn't carry a grpc status (status.Code(err) ==
// codes.Unknown for anything not built via status.Error/Errorf) falls back
// to KindPersistence, the kind every other persistence failure already
// reports as.
func KindFromGRPC(err error) Kind {
	switch status.Code(err) {
	case codes.NotFound:
		return KindNotFound
	case codes.PermissionDenied:
		return KindCompletionOwnership
	default:
		return KindPersistence
	}
}
