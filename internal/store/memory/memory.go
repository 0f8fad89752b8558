// Package memory keeps boards and canvases in process memory. It backs the
// "memory" database driver used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/gosuda/inkboard/internal/domain"
)

type Store struct {
	mu            sync.RWMutex
	boards        map[uuid.UUID]*domain.Board
	collaborators map[uuid.UUID]map[uuid.UUID]*domain.Collaborator
	elements      map[uuid.UUID]map[uuid.UUID]*domain.Element
	events        map[uuid.UUID][]*domain.BoardEvent
}

func New() *Store {
	return &Store{
		boards:        make(map[uuid.UUID]*domain.Board),
		collaborators: make(map[uuid.UUID]map[uuid.UUID]*domain.Collaborator),
		elements:      make(map[uuid.UUID]map[uuid.UUID]*domain.Element),
		events:        make(map[uuid.UUID][]*domain.BoardEvent),
	}
}

// Canvas returns the store as a CanvasRepository.
func (s *Store) Canvas() domain.CanvasRepository { return canvasRepo{s} }

// Boards returns the store as a BoardRepository.
func (s *Store) Boards() domain.BoardRepository { return boardRepo{s} }

type canvasRepo struct{ s *Store }

func (r canvasRepo) Commit(_ context.Context, e *domain.Element, ev *domain.BoardEvent) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.events[ev.BoardID]
	if n := len(log); n > 0 && log[n-1].Seq >= ev.Seq {
		return nil
	}
	s.events[ev.BoardID] = append(log, cloneEvent(ev))

	els := s.elements[e.BoardID]
	if els == nil {
		els = make(map[uuid.UUID]*domain.Element)
		s.elements[e.BoardID] = els
	}
	if cur, ok := els[e.ID]; !ok || cur.Version < e.Version {
		els[e.ID] = e.Clone()
	}
	return nil
}

func (r canvasRepo) LoadElements(_ context.Context, boardID uuid.UUID) ([]*domain.Element, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Element, 0, len(s.elements[boardID]))
	for _, e := range s.elements[boardID] {
		out = append(out, e.Clone())
	}
	return out, nil
}

func (r canvasRepo) ListEvents(_ context.Context, boardID uuid.UUID, afterSeq int64, limit int) ([]*domain.BoardEvent, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.events[boardID]
	i, _ := slices.BinarySearchFunc(log, afterSeq+1, func(ev *domain.BoardEvent, seq int64) int {
		switch {
		case ev.Seq < seq:
			return -1
		case ev.Seq > seq:
			return 1
		}
		return 0
	})
	var out []*domain.BoardEvent
	for _, ev := range log[i:] {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, cloneEvent(ev))
	}
	return out, nil
}

func (r canvasRepo) LastSeq(_ context.Context, boardID uuid.UUID) (int64, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.events[boardID]
	if len(log) == 0 {
		return 0, nil
	}
	return log[len(log)-1].Seq, nil
}

type boardRepo struct{ s *Store }

func (r boardRepo) Create(_ context.Context, b *domain.Board, owner *domain.Collaborator) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.boards[b.ID]; ok {
		return fmt.Errorf("memory.boardRepo.Create: %w", domain.ErrConflict)
	}
	for _, other := range s.boards {
		if other.TenantID == b.TenantID && other.InviteCode == b.InviteCode {
			return fmt.Errorf("memory.boardRepo.Create: invite code: %w", domain.ErrConflict)
		}
	}
	cp := *b
	s.boards[b.ID] = &cp
	if owner != nil {
		c := *owner
		s.collaborators[b.ID] = map[uuid.UUID]*domain.Collaborator{owner.UserID: &c}
	}
	return nil
}

func (r boardRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*domain.Board, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.boards[id]
	if !ok || b.TenantID != tenantID {
		return nil, fmt.Errorf("memory.boardRepo.GetByID: %w", domain.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (r boardRepo) GetByInviteCode(_ context.Context, tenantID uuid.UUID, code string) (*domain.Board, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.boards {
		if b.TenantID == tenantID && b.InviteCode == code {
			cp := *b
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("memory.boardRepo.GetByInviteCode: %w", domain.ErrNotFound)
}

func (r boardRepo) ListForUser(_ context.Context, tenantID, userID uuid.UUID) ([]*domain.Board, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Board
	for id, b := range s.boards {
		if b.TenantID != tenantID {
			continue
		}
		if _, member := s.collaborators[id][userID]; member {
			cp := *b
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Board) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (r boardRepo) Update(_ context.Context, b *domain.Board) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.boards[b.ID]
	if !ok || cur.TenantID != b.TenantID {
		return fmt.Errorf("memory.boardRepo.Update: %w", domain.ErrNotFound)
	}
	cp := *b
	s.boards[b.ID] = &cp
	return nil
}

func (r boardRepo) Delete(_ context.Context, tenantID, id uuid.UUID) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.boards[id]
	if !ok || b.TenantID != tenantID {
		return fmt.Errorf("memory.boardRepo.Delete: %w", domain.ErrNotFound)
	}
	delete(s.boards, id)
	delete(s.collaborators, id)
	delete(s.elements, id)
	delete(s.events, id)
	return nil
}

func (r boardRepo) UpsertCollaborator(_ context.Context, c *domain.Collaborator) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.boards[c.BoardID]; !ok {
		return fmt.Errorf("memory.boardRepo.UpsertCollaborator: %w", domain.ErrNotFound)
	}
	if s.collaborators[c.BoardID] == nil {
		s.collaborators[c.BoardID] = make(map[uuid.UUID]*domain.Collaborator)
	}
	cp := *c
	if cur, ok := s.collaborators[c.BoardID][c.UserID]; ok {
		cp.CreatedAt = cur.CreatedAt
	}
	s.collaborators[c.BoardID][c.UserID] = &cp
	return nil
}

func (r boardRepo) GetCollaborator(_ context.Context, boardID, userID uuid.UUID) (*domain.Collaborator, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collaborators[boardID][userID]
	if !ok {
		return nil, fmt.Errorf("memory.boardRepo.GetCollaborator: %w", domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (r boardRepo) ListCollaborators(_ context.Context, boardID uuid.UUID) ([]*domain.Collaborator, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Collaborator, 0, len(s.collaborators[boardID]))
	for _, c := range s.collaborators[boardID] {
		cp := *c
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *domain.Collaborator) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (r boardRepo) RemoveCollaborator(_ context.Context, boardID, userID uuid.UUID) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collaborators[boardID][userID]; !ok {
		return fmt.Errorf("memory.boardRepo.RemoveCollaborator: %w", domain.ErrNotFound)
	}
	delete(s.collaborators[boardID], userID)
	return nil
}

func cloneEvent(ev *domain.BoardEvent) *domain.BoardEvent {
	cp := *ev
	cp.Element = ev.Element.Clone()
	cp.Fields = slices.Clone(ev.Fields)
	return &cp
}
