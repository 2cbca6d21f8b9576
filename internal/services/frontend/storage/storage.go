// Package storage defines the persistence contract for call links and call
// records. Implementations coordinate concurrent writers exclusively through
// the backing store's single-item conditional write; there is no in-process
// locking.
package storage

import (
	"context"

	apperrors "github.com/akonradi/Signal-Calling-Service/internal/platform/errors"
	"github.com/akonradi/Signal-Calling-Service/internal/services/frontend/domain/calllink"
)

// ErrRoomNotFound indicates the requested room has no record in the store.
var ErrRoomNotFound = apperrors.New(apperrors.CodeRoomNotFound, "room does not exist")

// ErrAdminPasskeyMismatch indicates a write was refused because the room
// exists with a different admin passkey (or, on creation, different
// established parameters).
var ErrAdminPasskeyMismatch = apperrors.New(apperrors.CodeAdminPasskeyMismatch, "admin passkey did not match")

// Storage persists call link state and call records. Every operation is
// individually boundable through its context; implementations never retry a
// failed conditional write internally.
type Storage interface {
	// GetCallLink fetches the current state for a call link with a strongly
	// consistent read. Returns ErrRoomNotFound when no record exists.
	GetCallLink(ctx context.Context, roomID calllink.RoomID) (calllink.State, error)

	// UpdateCallLink updates some or all of a call link's attributes with a
	// single conditional write.
	//
	// When zkparamsForCreation is non-nil the write runs in creation mode: a
	// missing room is created with fresh defaults and the given parameters,
	// and an identical retry succeeds (creation is idempotent). A room that
	// exists with a different passkey or parameters fails with
	// ErrAdminPasskeyMismatch.
	//
	// When zkparamsForCreation is nil the write runs in update mode: the room
	// must exist and its stored passkey must equal the update's passkey.
	// Failures are classified as ErrRoomNotFound or ErrAdminPasskeyMismatch;
	// the classification read is not linearized with the failed write, so a
	// concurrent create or delete can occasionally misclassify between the
	// two. A wrong *successful* write never occurs.
	UpdateCallLink(ctx context.Context, roomID calllink.RoomID, update calllink.Update, zkparamsForCreation []byte) (calllink.State, error)

	// GetCallLinkAndRecord fetches both the call link state and the call
	// record for a room with one strongly consistent partition read. Either
	// result may be nil; presence of one does not imply the other.
	GetCallLinkAndRecord(ctx context.Context, roomID calllink.RoomID) (*calllink.State, *calllink.CallRecord, error)

	// GetCallRecord fetches the call record for a room. Returns
	// ErrRoomNotFound when no call is in progress.
	GetCallRecord(ctx context.Context, roomID calllink.RoomID) (calllink.CallRecord, error)

	// GetOrAddCallRecord adds the given call, but if a call already exists
	// for the same room it returns that one instead.
	GetOrAddCallRecord(ctx context.Context, call calllink.CallRecord) (calllink.CallRecord, error)

	// RemoveCallRecord removes the room's call record as long as the stored
	// era matches; a non-matching era means the call was already replaced and
	// is not an error.
	RemoveCallRecord(ctx context.Context, roomID calllink.RoomID, eraID string) error

	// GetCallRecordsForRegion lists every call hosted in the given backend
	// region.
	GetCallRecordsForRegion(ctx context.Context, region string) ([]calllink.CallRecord, error)
}
