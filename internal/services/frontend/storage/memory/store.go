// Package memory provides an in-memory storage implementation with the same
// observable semantics as the DynamoDB store. It backs tests and local runs
// where no table is configured.
package memory

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/akonradi/Signal-Calling-Service/internal/services/frontend/domain/calllink"
	"github.com/akonradi/Signal-Calling-Service/internal/services/frontend/storage"
)

// Store keeps call links and call records in process memory. The mutex plays
// the role of the backing store's per-item write serialization.
type Store struct {
	mu        sync.Mutex
	clock     func() time.Time
	callLinks map[calllink.RoomID]calllink.State
	calls     map[calllink.RoomID]calllink.CallRecord
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for creation timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// New constructs an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:     time.Now,
		callLinks: make(map[calllink.RoomID]calllink.State),
		calls:     make(map[calllink.RoomID]calllink.CallRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneState(state calllink.State) calllink.State {
	state.AdminPasskey = cloneBytes(state.AdminPasskey)
	state.ZKParams = cloneBytes(state.ZKParams)
	state.EncryptedName = cloneBytes(state.EncryptedName)
	return state
}

// GetCallLink fetches the current state for a call link.
func (s *Store) GetCallLink(ctx context.Context, roomID calllink.RoomID) (calllink.State, error) {
	if err := ctx.Err(); err != nil {
		return calllink.State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.callLinks[roomID]
	if !ok {
		return calllink.State{}, storage.ErrRoomNotFound
	}
	return cloneState(state), nil
}

// UpdateCallLink applies the same creation/update protocol as the DynamoDB
// store: one conditional write whose losers fail cleanly.
func (s *Store) UpdateCallLink(ctx context.Context, roomID calllink.RoomID, update calllink.Update, zkparamsForCreation []byte) (calllink.State, error) {
	if err := ctx.Err(); err != nil {
		return calllink.State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.callLinks[roomID]
	if zkparamsForCreation != nil {
		if !exists {
			state := update.Apply(calllink.NewState(roomID, update.AdminPasskey, zkparamsForCreation, s.clock()))
			s.callLinks[roomID] = cloneState(state)
			return cloneState(state), nil
		}
		if !bytes.Equal(existing.AdminPasskey, update.AdminPasskey) || !bytes.Equal(existing.ZKParams, zkparamsForCreation) {
			return calllink.State{}, storage.ErrAdminPasskeyMismatch
		}
		// The room already exists with matching credentials: the creation
		// degenerates into a plain update, which keeps client retries safe.
		state := update.Apply(existing)
		s.callLinks[roomID] = cloneState(state)
		return cloneState(state), nil
	}

	if !exists {
		return calllink.State{}, storage.ErrRoomNotFound
	}
	if !bytes.Equal(existing.AdminPasskey, update.AdminPasskey) {
		return calllink.State{}, storage.ErrAdminPasskeyMismatch
	}
	state := update.Apply(existing)
	s.callLinks[roomID] = cloneState(state)
	return cloneState(state), nil
}

// GetCallLinkAndRecord fetches both records for a room in one step.
func (s *Store) GetCallLinkAndRecord(ctx context.Context, roomID calllink.RoomID) (*calllink.State, *calllink.CallRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var linkState *calllink.State
	var callRecord *calllink.CallRecord
	if state, ok := s.callLinks[roomID]; ok {
		cloned := cloneState(state)
		linkState = &cloned
	}
	if call, ok := s.calls[roomID]; ok {
		callRecord = &call
	}
	return linkState, callRecord, nil
}

// GetCallRecord fetches the call record for a room.
func (s *Store) GetCallRecord(ctx context.Context, roomID calllink.RoomID) (calllink.CallRecord, error) {
	if err := ctx.Err(); err != nil {
		return calllink.CallRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[roomID]
	if !ok {
		return calllink.CallRecord{}, storage.ErrRoomNotFound
	}
	return call, nil
}

// GetOrAddCallRecord adds the given call, or returns the one already stored.
func (s *Store) GetOrAddCallRecord(ctx context.Context, call calllink.CallRecord) (calllink.CallRecord, error) {
	if err := ctx.Err(); err != nil {
		return calllink.CallRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.calls[call.RoomID]; ok {
		return existing, nil
	}
	s.calls[call.RoomID] = call
	return call, nil
}

// RemoveCallRecord removes the room's call record if the era matches.
func (s *Store) RemoveCallRecord(ctx context.Context, roomID calllink.RoomID, eraID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.calls[roomID]; ok && existing.EraID == eraID {
		delete(s.calls, roomID)
	}
	return nil
}

// GetCallRecordsForRegion lists every call hosted in the given region.
func (s *Store) GetCallRecordsForRegion(ctx context.Context, region string) ([]calllink.CallRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []calllink.CallRecord
	for _, call := range s.calls {
		if call.BackendRegion == region {
			records = append(records, call)
		}
	}
	return records, nil
}

var _ storage.Storage = (*Store)(nil)
