// Package store holds the in-memory domain state loaded from the gateway and
// mirrors every local mutation back to it as a full-replacement action.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/circdesk/internal/common"
	"github.com/Veraticus/circdesk/internal/model"
	"github.com/Veraticus/circdesk/internal/service"
)

var (
	// ErrNotLoaded is returned by mutations attempted before a successful Load.
	ErrNotLoaded = errors.New("store not loaded")
	// ErrMissingID is returned when a record without an id is added.
	ErrMissingID = errors.New("missing id")
)

// WarningFunc receives mirroring failures. Local state is never rolled back.
type WarningFunc func(action model.Action, err error)

// Mutation is one local change and the action that mirrors it.
// Apply runs under the store's write lock and must not call back into the
// store. Payload is evaluated after Apply succeeds.
type Mutation struct {
	Apply   func(st *State) error
	Payload func(st *State) (any, error)
	Action  model.ActionName
}

// State is the mutable view handed to a Mutation.
type State struct {
	patrons     map[string]*model.Patron
	titles      map[string]*model.Title
	patronOrder []string
	titleOrder  []string
}

// Patron returns the live patron record for id.
func (st *State) Patron(id string) (*model.Patron, bool) {
	p, ok := st.patrons[id]
	return p, ok
}

// Title returns the live title record for id.
func (st *State) Title(id string) (*model.Title, bool) {
	t, ok := st.titles[id]
	return t, ok
}

func (st *State) putPatron(p model.Patron) {
	if _, exists := st.patrons[p.ID]; !exists {
		st.patronOrder = append(st.patronOrder, p.ID)
	}
	clone := p.Clone()
	st.patrons[p.ID] = &clone
}

func (st *State) putTitle(t model.Title) {
	if _, exists := st.titles[t.ID]; !exists {
		st.titleOrder = append(st.titleOrder, t.ID)
	}
	clone := t.Clone()
	clone.RefreshStatus()
	st.titles[t.ID] = &clone
}

func (st *State) removePatron(id string) {
	delete(st.patrons, id)
	for i, pid := range st.patronOrder {
		if pid == id {
			st.patronOrder = append(st.patronOrder[:i], st.patronOrder[i+1:]...)
			return
		}
	}
}

// Store is the single source of local truth for the circulation desk.
type Store struct {
	gateway     service.Gateway
	sink        service.Sink
	warn        WarningFunc
	now         func() time.Time
	state       State
	subjects    []model.Subject
	acquisition []model.AcquisitionRequest
	marcTags    []model.MarcTagDefinition
	mu          sync.RWMutex
	loaded      bool
}

// Option configures a Store.
type Option func(*Store)

// WithWarningFunc sets the mirroring failure hook.
func WithWarningFunc(fn WarningFunc) Option {
	return func(s *Store) {
		if fn != nil {
			s.warn = fn
		}
	}
}

// WithClock overrides the clock used to stamp actions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty store that loads from gateway and mirrors to sink.
func New(gateway service.Gateway, sink service.Sink, opts ...Option) *Store {
	s := &Store{
		gateway: gateway,
		sink:    sink,
		now:     time.Now,
		warn: func(action model.Action, err error) {
			slog.Warn("Failed to mirror change",
				"action", action.Name,
				"action_id", action.ID,
				"error", err)
		},
	}
	s.reset()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) reset() {
	s.state = State{
		patrons: make(map[string]*model.Patron),
		titles:  make(map[string]*model.Title),
	}
	s.subjects = nil
	s.acquisition = nil
	s.marcTags = nil
	s.loaded = false
}

// Load replaces local state with the gateway's snapshot. On failure the store
// is left empty and unloaded.
func (s *Store) Load(ctx context.Context) error {
	snapshot, err := s.gateway.LoadAll(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snapshot == nil {
		return fmt.Errorf("failed to load snapshot: %w", common.ErrGatewayUnavailable)
	}

	for _, p := range snapshot.Patrons {
		if p.ID == "" {
			continue
		}
		s.state.putPatron(p)
	}
	for _, t := range snapshot.Titles {
		if t.ID == "" {
			continue
		}
		s.state.putTitle(t)
	}
	s.subjects = append([]model.Subject(nil), snapshot.Subjects...)
	s.acquisition = append([]model.AcquisitionRequest(nil), snapshot.AcquisitionRequests...)
	s.marcTags = append([]model.MarcTagDefinition(nil), snapshot.MarcTagDefinitions...)
	s.loaded = true

	slog.Debug("Loaded snapshot",
		"patrons", len(s.state.patrons),
		"titles", len(s.state.titles))
	return nil
}

// Loaded reports whether the last Load succeeded.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Mutate applies m locally and then mirrors it. Mirroring failures go to the
// warning hook and are not returned.
func (s *Store) Mutate(ctx context.Context, m Mutation) error {
	out, err := s.apply(m)
	if err != nil {
		return err
	}
	if out.encodeErr != nil {
		// Local state already changed; only the mirror is lost.
		s.warn(out.action, out.encodeErr)
		return nil
	}

	if err := s.sink.Submit(ctx, out.action); err != nil {
		s.warn(out.action, err)
	}
	return nil
}

type outgoing struct {
	encodeErr error
	action    model.Action
}

func (s *Store) apply(m Mutation) (outgoing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return outgoing{}, ErrNotLoaded
	}
	if err := m.Apply(&s.state); err != nil {
		return outgoing{}, err
	}

	out := outgoing{action: model.Action{
		ID:        uuid.NewString(),
		Name:      m.Action,
		CreatedAt: s.now().UTC(),
	}}
	if m.Payload == nil {
		return out, nil
	}

	payload, err := m.Payload(&s.state)
	if err == nil {
		out.action.Payload, err = model.MarshalPayload(payload)
	}
	if err != nil {
		out.encodeErr = fmt.Errorf("failed to encode payload: %w", err)
	}
	return out, nil
}

// AddPatron inserts a new patron.
func (s *Store) AddPatron(ctx context.Context, p model.Patron) error {
	if p.ID == "" {
		return fmt.Errorf("patron: %w", ErrMissingID)
	}
	return s.Mutate(ctx, Mutation{
		Action: model.ActionAddPatron,
		Apply: func(st *State) error {
			if _, exists := st.patrons[p.ID]; exists {
				return fmt.Errorf("patron %s: %w", p.ID, common.ErrDuplicateEntry)
			}
			st.putPatron(p)
			return nil
		},
		Payload: func(st *State) (any, error) {
			return st.patrons[p.ID], nil
		},
	})
}

// UpdatePatron replaces an existing patron.
func (s *Store) UpdatePatron(ctx context.Context, p model.Patron) error {
	return s.Mutate(ctx, Mutation{
		Action: model.ActionUpdatePatron,
		Apply: func(st *State) error {
			if _, exists := st.patrons[p.ID]; !exists {
				return fmt.Errorf("patron %s: %w", p.ID, common.ErrNotFound)
			}
			st.putPatron(p)
			return nil
		},
		Payload: func(st *State) (any, error) {
			return st.patrons[p.ID], nil
		},
	})
}

// UpdatePatronsBatch replaces many patrons in one action. Every patron must
// already exist; nothing is applied otherwise.
func (s *Store) UpdatePatronsBatch(ctx context.Context, patrons []model.Patron) error {
	if len(patrons) == 0 {
		return nil
	}
	return s.Mutate(ctx, Mutation{
		Action: model.ActionUpdatePatronsBatch,
		Apply: func(st *State) error {
			for _, p := range patrons {
				if _, exists := st.patrons[p.ID]; !exists {
					return fmt.Errorf("patron %s: %w", p.ID, common.ErrNotFound)
				}
			}
			for _, p := range patrons {
				st.putPatron(p)
			}
			return nil
		},
		Payload: func(st *State) (any, error) {
			out := make([]*model.Patron, 0, len(patrons))
			for _, p := range patrons {
				out = append(out, st.patrons[p.ID])
			}
			return out, nil
		},
	})
}

// DeletePatron removes a patron.
func (s *Store) DeletePatron(ctx context.Context, id string) error {
	return s.Mutate(ctx, Mutation{
		Action: model.ActionDeletePatron,
		Apply: func(st *State) error {
			if _, exists := st.patrons[id]; !exists {
				return fmt.Errorf("patron %s: %w", id, common.ErrNotFound)
			}
			st.removePatron(id)
			return nil
		},
		Payload: func(*State) (any, error) {
			return model.DeletePayload{ID: id}, nil
		},
	})
}

// UpdateTitleStatus replaces a title after a circulation status change.
func (s *Store) UpdateTitleStatus(ctx context.Context, t model.Title) error {
	return s.replaceTitle(ctx, model.ActionUpdateBookStatus, t)
}

// UpdateTitleDetails replaces a title after a catalog edit.
func (s *Store) UpdateTitleDetails(ctx context.Context, t model.Title) error {
	return s.replaceTitle(ctx, model.ActionUpdateBookDetails, t)
}

func (s *Store) replaceTitle(ctx context.Context, name model.ActionName, t model.Title) error {
	return s.Mutate(ctx, Mutation{
		Action: name,
		Apply: func(st *State) error {
			if _, exists := st.titles[t.ID]; !exists {
				return fmt.Errorf("title %s: %w", t.ID, common.ErrNotFound)
			}
			st.putTitle(t)
			return nil
		},
		Payload: func(st *State) (any, error) {
			return st.titles[t.ID], nil
		},
	})
}

// Patron returns a copy of the patron with id.
func (s *Store) Patron(id string) (model.Patron, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.state.patrons[id]
	if !ok {
		return model.Patron{}, false
	}
	return p.Clone(), true
}

// Patrons returns copies of all patrons in load order.
func (s *Store) Patrons() []model.Patron {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Patron, 0, len(s.state.patronOrder))
	for _, id := range s.state.patronOrder {
		out = append(out, s.state.patrons[id].Clone())
	}
	return out
}

// Title returns a copy of the title with id.
func (s *Store) Title(id string) (model.Title, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.state.titles[id]
	if !ok {
		return model.Title{}, false
	}
	return t.Clone(), true
}

// Titles returns copies of all titles in load order.
func (s *Store) Titles() []model.Title {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Title, 0, len(s.state.titleOrder))
	for _, id := range s.state.titleOrder {
		out = append(out, s.state.titles[id].Clone())
	}
	return out
}

// FindItem returns the title owning barcode and the item itself.
func (s *Store) FindItem(barcode string) (model.Title, model.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.state.titleOrder {
		t := s.state.titles[id]
		if i := t.ItemIndex(barcode); i >= 0 {
			return t.Clone(), t.Items[i], true
		}
	}
	return model.Title{}, model.Item{}, false
}

// LoanRef locates an open loan.
type LoanRef struct {
	PatronID string
	Loan     model.Loan
	Index    int
}

// FindActiveLoan returns the open loan whose barcode matches code. Loans
// recorded before barcodes were stored are matched by book title instead.
func (s *Store) FindActiveLoan(code string) (LoanRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if code == "" {
		return LoanRef{}, false
	}

	var fallback *LoanRef
	for _, pid := range s.state.patronOrder {
		p := s.state.patrons[pid]
		for i, loan := range p.History {
			if !loan.IsOpen() {
				continue
			}
			if loan.Barcode == code {
				return LoanRef{PatronID: pid, Index: i, Loan: loan}, true
			}
			if fallback == nil && loan.Barcode == "" && loan.BookTitle == code {
				fallback = &LoanRef{PatronID: pid, Index: i, Loan: loan}
			}
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return LoanRef{}, false
}

// HoldRef is one patron's place in a title's hold queue.
type HoldRef struct {
	PatronID string
	Hold     model.Hold
}

// HoldersOf returns the holds on titleID oldest first. Holds placed at the
// same instant are ordered by patron id.
func (s *Store) HoldersOf(titleID string) []HoldRef {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var refs []HoldRef
	for _, pid := range s.state.patronOrder {
		p := s.state.patrons[pid]
		if i := p.HoldIndex(titleID); i >= 0 {
			refs = append(refs, HoldRef{PatronID: pid, Hold: p.Holds[i]})
		}
	}

	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i].Hold.RequestedAt, refs[j].Hold.RequestedAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return refs[i].PatronID < refs[j].PatronID
	})
	return refs
}

// Subjects returns the catalog subjects.
func (s *Store) Subjects() []model.Subject {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Subject(nil), s.subjects...)
}

// AcquisitionRequests returns pending purchase requests.
func (s *Store) AcquisitionRequests() []model.AcquisitionRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.AcquisitionRequest(nil), s.acquisition...)
}

// MarcTagDefinitions returns the MARC tag labels.
func (s *Store) MarcTagDefinitions() []model.MarcTagDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.MarcTagDefinition(nil), s.marcTags...)
}
