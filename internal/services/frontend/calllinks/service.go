// Package calllinks gates call-link reads and writes behind zero-knowledge
// credential verification. Every mutation is authorized against the room's
// established parameters before the store's conditional write runs.
package calllinks

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/akonradi/Signal-Calling-Service/internal/platform/errors"
	"github.com/akonradi/Signal-Calling-Service/internal/services/frontend/domain/calllink"
	"github.com/akonradi/Signal-Calling-Service/internal/services/frontend/storage"
)

// ErrCredentialForbidden indicates the presented credential did not authorize
// the operation.
var ErrCredentialForbidden = apperrors.New(apperrors.CodeCredentialForbidden, "credential verification failed")

// Verifier checks zero-knowledge credential presentations against a room's
// public parameters. Implementations hold the server's secret parameters.
type Verifier interface {
	// VerifyAuthCredential checks an auth credential presentation against the
	// room's parameters at the given time.
	VerifyAuthCredential(presentation []byte, at time.Time, roomZKParams []byte) error
	// VerifyCreateCredential checks a room-creation credential presentation,
	// which binds the room id, against the room's parameters at the given
	// time.
	VerifyCreateCredential(roomID calllink.RoomID, presentation []byte, at time.Time, roomZKParams []byte) error
}

// DenyAll rejects every credential presentation. It is the fallback when no
// verifier is configured so a misconfigured deployment fails closed.
type DenyAll struct{}

func (DenyAll) VerifyAuthCredential(presentation []byte, at time.Time, roomZKParams []byte) error {
	return errors.New("no credential verifier configured")
}

func (DenyAll) VerifyCreateCredential(roomID calllink.RoomID, presentation []byte, at time.Time, roomZKParams []byte) error {
	return errors.New("no credential verifier configured")
}

// UpdateAuth carries the credential material presented with an update. Exactly
// one of CreatePresentation or AuthPresentation should be set; ZKParams
// accompanies a create presentation and establishes the room's parameters.
type UpdateAuth struct {
	CreatePresentation []byte
	ZKParams           []byte
	AuthPresentation   []byte
}

// Service authorizes and applies call-link operations.
type Service struct {
	store    storage.Storage
	verifier Verifier
	clock    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service's time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// New creates a call-link service over the given store and verifier.
func New(store storage.Storage, verifier Verifier, opts ...Option) *Service {
	s := &Service{
		store:    store,
		verifier: verifier,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read returns the room's call link state after verifying the auth credential
// against the stored parameters. A missing room is reported before any
// verification outcome so absence cannot be probed with bad credentials one
// way and good ones another.
func (s *Service) Read(ctx context.Context, roomID calllink.RoomID, authPresentation []byte) (calllink.State, error) {
	state, err := s.store.GetCallLink(ctx, roomID)
	if err != nil {
		return calllink.State{}, err
	}
	if err := s.verifier.VerifyAuthCredential(authPresentation, s.clock(), state.ZKParams); err != nil {
		return calllink.State{}, apperrors.Wrap(apperrors.CodeCredentialForbidden, "verify auth credential", err)
	}
	return state, nil
}

// Update applies the update to the room's call link, creating it when the
// caller presents a create credential. Verification failures never reach the
// store's write path.
func (s *Service) Update(ctx context.Context, roomID calllink.RoomID, update calllink.Update, auth UpdateAuth) (calllink.State, error) {
	switch {
	case auth.CreatePresentation != nil:
		if len(auth.ZKParams) == 0 {
			return calllink.State{}, apperrors.New(apperrors.CodeZKParamsInvalid, "room parameters required to create a call link")
		}
		if err := s.verifier.VerifyCreateCredential(roomID, auth.CreatePresentation, s.clock(), auth.ZKParams); err != nil {
			return calllink.State{}, apperrors.Wrap(apperrors.CodeCredentialForbidden, "verify create credential", err)
		}
		return s.store.UpdateCallLink(ctx, roomID, update, auth.ZKParams)
	case auth.AuthPresentation != nil:
		if auth.ZKParams != nil {
			return calllink.State{}, apperrors.New(apperrors.CodeZKParamsInvalid, "room parameters cannot be changed")
		}
		existing, err := s.store.GetCallLink(ctx, roomID)
		if err != nil {
			return calllink.State{}, err
		}
		if err := s.verifier.VerifyAuthCredential(auth.AuthPresentation, s.clock(), existing.ZKParams); err != nil {
			return calllink.State{}, apperrors.Wrap(apperrors.CodeCredentialForbidden, "verify auth credential", err)
		}
		return s.store.UpdateCallLink(ctx, roomID, update, nil)
	default:
		return calllink.State{}, ErrCredentialForbidden
	}
}

// Peek returns the room's call link state and active call record without
// credential checks. Callers expose it only on surfaces with their own
// authorization.
func (s *Service) Peek(ctx context.Context, roomID calllink.RoomID) (*calllink.State, *calllink.CallRecord, error) {
	return s.store.GetCallLinkAndRecord(ctx, roomID)
}
