// Package calllink defines the durable state shared by clients of a call link:
// the room identity, the admin passkey, access-control parameters, a display
// name ciphertext, and an expiration.
package calllink

import (
	"bytes"
	"time"
)

// RoomID uniquely identifies a call link / the room. Immutable after creation.
type RoomID string

// UserID identifies the user that created a call, encoded so clients can
// recognize it.
type UserID string

// RetentionWindow is how long a call link lives past its creation. Records
// are preserved after expiration, at least for a while, so clients can fetch
// the name of an expired link.
const RetentionWindow = 90 * 24 * time.Hour

// Restrictions controls access to the room.
type Restrictions string

const (
	// RestrictionsNone lets anyone with the link join directly.
	RestrictionsNone Restrictions = "none"
	// RestrictionsAdminApproval requires an admin to approve each join.
	RestrictionsAdminApproval Restrictions = "adminApproval"
)

// State is the durable record describing a call link. One exists per room.
type State struct {
	// RoomID uniquely identifies the call link / the room.
	RoomID RoomID
	// AdminPasskey is bytes chosen by the room creator to identify admins.
	// Comparable only for equality.
	AdminPasskey []byte
	// ZKParams is a serialized set of public parameters used to verify
	// credentials for this room. Established at creation, never changed.
	ZKParams []byte
	// Restrictions controls access to the room.
	Restrictions Restrictions
	// EncryptedName is the name of the room, decryptable by clients who know
	// the call link's root key. May be empty.
	EncryptedName []byte
	// Revoked reports whether the call link has been manually revoked.
	Revoked bool
	// Expiration is when the link expires.
	Expiration time.Time
}

// NewState builds a fresh call link record for a room created at now.
func NewState(roomID RoomID, adminPasskey, zkparams []byte, now time.Time) State {
	return State{
		RoomID:        roomID,
		AdminPasskey:  adminPasskey,
		ZKParams:      zkparams,
		Restrictions:  RestrictionsNone,
		EncryptedName: []byte{},
		Revoked:       false,
		Expiration:    now.Add(RetentionWindow),
	}
}

// Equal reports whether two call link records hold the same values.
func (s State) Equal(other State) bool {
	return s.RoomID == other.RoomID &&
		bytes.Equal(s.AdminPasskey, other.AdminPasskey) &&
		bytes.Equal(s.ZKParams, other.ZKParams) &&
		s.Restrictions == other.Restrictions &&
		bytes.Equal(s.EncryptedName, other.EncryptedName) &&
		s.Revoked == other.Revoked &&
		s.Expiration.Equal(other.Expiration)
}

// Update is a partial patch against a call link record. The admin passkey is
// always present; it is asserted against the stored secret unless the write
// creates the room. Nil optional fields are left unchanged.
type Update struct {
	// AdminPasskey is bytes chosen by the room creator to identify admins.
	AdminPasskey []byte
	// Restrictions controls access to the room. If nil, not updated.
	Restrictions *Restrictions
	// EncryptedName is the room name ciphertext. May be empty. If nil, not
	// updated.
	EncryptedName *[]byte
	// Revoked marks the link manually revoked. If nil, not updated.
	Revoked *bool
}

// Apply merges the update's present fields into state and returns the result.
func (u Update) Apply(state State) State {
	state.AdminPasskey = u.AdminPasskey
	if u.Restrictions != nil {
		state.Restrictions = *u.Restrictions
	}
	if u.EncryptedName != nil {
		state.EncryptedName = *u.EncryptedName
	}
	if u.Revoked != nil {
		state.Revoked = *u.Revoked
	}
	return state
}

// CallRecord describes an in-progress call in a room. It shares the room's
// partition with the call link record under a different record discriminant.
type CallRecord struct {
	// RoomID is the room the clients are authorized to join.
	RoomID RoomID
	// EraID is a random id generated and sent back to the client to identify
	// the specific call "in" the room. Also the call ID within the backend.
	EraID string
	// BackendIP is the IP of the backend calling server hosting the call.
	BackendIP string
	// BackendRegion is the region of the backend calling server.
	BackendRegion string
	// Creator is the user that created the call.
	Creator UserID
}
