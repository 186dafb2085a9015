// Package memory is an in-process Store used by tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository"
	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
)

type state struct {
	mu             sync.Mutex
	visits         map[uuid.UUID]model.Visit
	authorizations map[uuid.UUID]model.Authorization
	claims         map[uuid.UUID]model.Claim
	caregivers     map[uuid.UUID]model.Caregiver
	clients        map[uuid.UUID]model.Client
	outbox         []model.OutboxEvent
	now            func() time.Time
}

type snapshot struct {
	visits         map[uuid.UUID]model.Visit
	authorizations map[uuid.UUID]model.Authorization
	claims         map[uuid.UUID]model.Claim
	outbox         []model.OutboxEvent
}

// Store keeps everything in maps behind one mutex. WithTx holds the mutex
// for the whole callback and restores a snapshot if the callback fails.
type Store struct {
	*state
	inTx bool
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{state: &state{
		visits:         make(map[uuid.UUID]model.Visit),
		authorizations: make(map[uuid.UUID]model.Authorization),
		claims:         make(map[uuid.UUID]model.Claim),
		caregivers:     make(map[uuid.UUID]model.Caregiver),
		clients:        make(map[uuid.UUID]model.Client),
		now:            func() time.Time { return time.Now().UTC() },
	}}
}

// SetNow overrides the timestamp source used for created/updated columns.
func (s *Store) SetNow(now func() time.Time) {
	unlock := s.lock()
	defer unlock()
	s.now = now
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Visits() repository.VisitRepository                 { return &visitRepo{s} }
func (s *Store) Authorizations() repository.AuthorizationRepository { return &authorizationRepo{s} }
func (s *Store) Claims() repository.ClaimRepository                 { return &claimRepo{s} }
func (s *Store) Directory() repository.DirectoryRepository          { return &directoryRepo{s} }
func (s *Store) Outbox() repository.OutboxRepository                { return &outboxRepo{s} }

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) WithTx(ctx context.Context, fn func(repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&Store{state: s.state, inTx: true}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		visits:         cloneMap(s.visits),
		authorizations: cloneMap(s.authorizations),
		claims:         cloneMap(s.claims),
		outbox:         append([]model.OutboxEvent(nil), s.outbox...),
	}
}

func (s *Store) restore(snap snapshot) {
	s.visits = snap.visits
	s.authorizations = snap.authorizations
	s.claims = snap.claims
	s.outbox = snap.outbox
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AddCaregiver seeds the directory.
func (s *Store) AddCaregiver(c model.Caregiver) {
	unlock := s.lock()
	defer unlock()
	s.caregivers[c.ID] = c
}

// AddClient seeds the directory.
func (s *Store) AddClient(c model.Client) {
	unlock := s.lock()
	defer unlock()
	s.clients[c.ID] = c
}

// PutVisit stores v as-is, bypassing lifecycle checks. Test seeding only.
func (s *Store) PutVisit(v model.Visit) {
	unlock := s.lock()
	defer unlock()
	s.visits[v.ID] = v
}

// PutClaim stores c as-is. Test seeding only.
func (s *Store) PutClaim(c model.Claim) {
	unlock := s.lock()
	defer unlock()
	s.claims[c.ID] = c
}

// OutboxEvents returns every recorded event in insertion order.
func (s *Store) OutboxEvents() []model.OutboxEvent {
	unlock := s.lock()
	defer unlock()
	return append([]model.OutboxEvent(nil), s.outbox...)
}

func containsStatus(list []model.VisitStatus, s model.VisitStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortVisits(vs []*model.Visit) {
	sort.Slice(vs, func(i, j int) bool {
		if !vs[i].CreatedAt.Equal(vs[j].CreatedAt) {
			return vs[i].CreatedAt.Before(vs[j].CreatedAt)
		}
		return vs[i].ID.String() < vs[j].ID.String()
	})
}

var errAuthorizationNotFound = apperrors.NewNotFound("authorization", nil)
