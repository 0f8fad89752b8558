package canvas

import (
	"github.com/google/uuid"

	"github.com/gosuda/inkboard/internal/domain"
)

// Transition records one committed change as element states. From is nil for
// a create and To is nil for a delete; Fields lists the fields an update wrote.
// Stored elements are never mutated once installed, so transitions share them.
type Transition struct {
	From   *domain.Element
	To     *domain.Element
	Fields []string
}

// Revert builds the mutation that takes the board from To back to From.
// current is the element's committed state now, tombstones included. It
// fails with a StaleUndoError when current no longer looks like To: the
// element is gone, or a reverted field was written with another value since.
func (t Transition) Revert(current *domain.Element, actorID uuid.UUID, requestID string, origin domain.Origin) (domain.Mutation, error) {
	m := domain.Mutation{ActorID: actorID, RequestID: requestID, Origin: origin}
	stale := &domain.StaleUndoError{ElementID: t.ElementID()}
	if current != nil && !current.Deleted {
		stale.Current = current.Clone()
	}

	switch {
	case t.From == nil:
		if current == nil || current.Deleted {
			stale.Cause = domain.ErrNotFound
			return m, stale
		}
		m.Kind = domain.MutationDelete
		m.ElementID = current.ID
		m.ExpectedVersion = current.Version
	case t.To == nil:
		if current == nil || !current.Deleted {
			stale.Cause = domain.ErrConflict
			return m, stale
		}
		m.Kind = domain.MutationRestore
		m.Element = t.From.Clone()
	default:
		if current == nil || current.Deleted {
			stale.Cause = domain.ErrNotFound
			return m, stale
		}
		if !current.Matches(t.To, t.Fields) {
			stale.Cause = &domain.ConflictError{Current: current.Clone(), Expected: t.To.Version, Fields: t.Fields}
			return m, stale
		}
		m.Kind = domain.MutationUpdate
		m.ElementID = current.ID
		m.ExpectedVersion = current.Version
		m.Patch = domain.PatchFrom(t.From, t.Fields)
	}
	return m, nil
}

// ElementID returns the element the transition touched.
func (t Transition) ElementID() uuid.UUID {
	if t.To != nil {
		return t.To.ID
	}
	return t.From.ID
}

// History is a board's shared undo and redo stacks. The oldest entries are
// dropped beyond depth. Not safe for concurrent use; only the room touches it.
type History struct {
	undo  []Transition
	redo  []Transition
	depth int
}

func NewHistory(depth int) *History {
	if depth < 1 {
		depth = 1
	}
	return &History{depth: depth}
}

// Record pushes a user change and clears the redo stack.
func (h *History) Record(t Transition) {
	h.undo = push(h.undo, t, h.depth)
	h.redo = h.redo[:0]
}

func (h *History) PopUndo() (Transition, bool) { return pop(&h.undo) }
func (h *History) PopRedo() (Transition, bool) { return pop(&h.redo) }

func (h *History) PushUndo(t Transition) { h.undo = push(h.undo, t, h.depth) }
func (h *History) PushRedo(t Transition) { h.redo = push(h.redo, t, h.depth) }

// Len returns the undo and redo stack depths.
func (h *History) Len() (undo, redo int) { return len(h.undo), len(h.redo) }

func push(stack []Transition, t Transition, depth int) []Transition {
	stack = append(stack, t)
	if over := len(stack) - depth; over > 0 {
		clear(stack[:over])
		stack = stack[over:]
	}
	return stack
}

func pop(stack *[]Transition) (Transition, bool) {
	s := *stack
	if len(s) == 0 {
		return Transition{}, false
	}
	t := s[len(s)-1]
	s[len(s)-1] = Transition{}
	*stack = s[:len(s)-1]
	return t, true
}
