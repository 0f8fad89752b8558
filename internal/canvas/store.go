package canvas

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/inkboard/internal/domain"
)

// Snapshot is a consistent copy of a board's live elements at Seq.
type Snapshot struct {
	BoardID  uuid.UUID         `json:"board_id"`
	Seq      int64             `json:"seq"`
	Elements []*domain.Element `json:"elements"`
}

// Commit is a resolved mutation waiting to be persisted and installed.
type Commit struct {
	Before *domain.Element // nil for a create
	After  *domain.Element
	Fields []string
	Event  *domain.BoardEvent
}

// Result is the live element after the commit, nil when it deleted it.
func (c *Commit) Result() *domain.Element {
	if c.After.Deleted {
		return nil
	}
	return c.After
}

// Store holds the authoritative element map for one board, tombstones
// included, together with its event log. A single writer (the board's room)
// calls Prepare and Install; readers take copies through Snapshot and Get.
type Store struct {
	boardID uuid.UUID

	mu       sync.RWMutex
	elements map[uuid.UUID]*domain.Element
	log      *EventLog
}

// NewStore builds a store from persisted elements and log state. Elements are
// owned by the store afterwards.
func NewStore(boardID uuid.UUID, elements []*domain.Element, log *EventLog) *Store {
	s := &Store{
		boardID:  boardID,
		elements: make(map[uuid.UUID]*domain.Element, len(elements)),
		log:      log,
	}
	for _, e := range elements {
		s.elements[e.ID] = e
	}
	return s
}

// Prepare resolves m against the current element and builds the event that
// would record it. Nothing changes until Install.
func (s *Store) Prepare(m domain.Mutation, now time.Time) (*Commit, error) {
	if m.Element != nil && m.Element.BoardID != uuid.Nil && m.Element.BoardID != s.boardID {
		return nil, fmt.Errorf("canvas.Store.Prepare: element belongs to board %s: %w", m.Element.BoardID, domain.ErrInvalidMutation)
	}

	s.mu.RLock()
	current := s.elements[m.TargetID()]
	seq := s.log.LastSeq() + 1
	s.mu.RUnlock()

	after, fields, err := Resolve(current, m, now)
	if err != nil {
		return nil, err
	}
	after.BoardID = s.boardID

	evType := domain.EventElementUpdate
	switch m.Kind {
	case domain.MutationCreate, domain.MutationRestore:
		evType = domain.EventElementCreate
	case domain.MutationDelete:
		evType = domain.EventElementDelete
	}

	return &Commit{
		Before: current,
		After:  after,
		Fields: fields,
		Event: &domain.BoardEvent{
			ID:             uuid.New(),
			BoardID:        s.boardID,
			Seq:            seq,
			Type:           evType,
			ElementID:      after.ID,
			ElementVersion: after.Version,
			Fields:         fields,
			Element:        after.Clone(),
			ActorID:        m.ActorID,
			Origin:         m.Origin,
			RequestID:      m.RequestID,
			CreatedAt:      now,
		},
	}, nil
}

// Install makes a persisted commit visible to readers.
func (s *Store) Install(c *Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.log.Append(c.Event); err != nil {
		return fmt.Errorf("canvas.Store.Install: %w", err)
	}
	s.elements[c.After.ID] = c.After
	return nil
}

// Get returns a copy of a live element.
func (s *Store) Get(id uuid.UUID) (*domain.Element, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.elements[id]
	if !ok || e.Deleted {
		return nil, fmt.Errorf("canvas.Store.Get: element %s: %w", id, domain.ErrNotFound)
	}
	return e.Clone(), nil
}

// Lookup returns a copy of the element, tombstones included.
func (s *Store) Lookup(id uuid.UUID) (*domain.Element, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.elements[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Snapshot copies every live element, ordered by creation time and id.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Element, 0, len(s.elements))
	for _, e := range s.elements {
		if !e.Deleted {
			out = append(out, e.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *domain.Element) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return &Snapshot{BoardID: s.boardID, Seq: s.log.LastSeq(), Elements: out}
}

// Since returns the retained events after seq; see EventLog.Since.
func (s *Store) Since(seq int64) ([]*domain.BoardEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log.Since(seq)
}

// LastSeq returns the sequence of the last installed event.
func (s *Store) LastSeq() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log.LastSeq()
}
