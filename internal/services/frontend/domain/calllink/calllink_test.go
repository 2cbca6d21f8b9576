package calllink

import (
	"testing"
	"time"
)

func TestNewStateDefaults(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := NewState("abc123", []byte("passkey"), []byte("zkparams"), now)

	if state.Restrictions != RestrictionsNone {
		t.Fatalf("expected no restrictions on a fresh link, got %q", state.Restrictions)
	}
	if state.Revoked {
		t.Fatalf("expected a fresh link not to be revoked")
	}
	if len(state.EncryptedName) != 0 {
		t.Fatalf("expected an empty name on a fresh link")
	}
	if !state.Expiration.Equal(now.Add(90 * 24 * time.Hour)) {
		t.Fatalf("expected expiration 90 days out, got %v", state.Expiration)
	}
}

func TestUpdateApplyMergesPresentFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := NewState("abc123", []byte("passkey"), []byte("zkparams"), now)

	restrictions := RestrictionsAdminApproval
	updated := Update{
		AdminPasskey: []byte("passkey"),
		Restrictions: &restrictions,
	}.Apply(state)

	if updated.Restrictions != RestrictionsAdminApproval {
		t.Fatalf("expected restrictions to be updated")
	}
	if updated.Revoked != state.Revoked || !updated.Expiration.Equal(state.Expiration) {
		t.Fatalf("expected untouched fields to keep prior values")
	}
	if string(updated.EncryptedName) != string(state.EncryptedName) {
		t.Fatalf("expected encrypted name to keep prior value")
	}
}

func TestStateEqual(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewState("abc123", []byte("passkey"), []byte("zkparams"), now)
	b := NewState("abc123", []byte("passkey"), []byte("zkparams"), now)

	if !a.Equal(b) {
		t.Fatalf("expected identical states to be equal")
	}

	b.Revoked = true
	if a.Equal(b) {
		t.Fatalf("expected differing states not to be equal")
	}
}
