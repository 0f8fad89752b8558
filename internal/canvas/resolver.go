package canvas

import (
	"fmt"
	"time"

	"github.com/gosuda/inkboard/internal/domain"
)

// Resolve applies the optimistic concurrency policy for m against current, the
// committed state of the target element (nil if the id was never used,
// Deleted if it is a tombstone). It returns the element as it will be after
// the mutation and the fields the mutation wrote (nil for whole-element
// writes). Resolve never modifies current.
//
// Policy:
//   - create: id must be unused, tombstones included. Version 1.
//   - update: expected == current is applied directly. A stale expected
//     version is merged when none of the patched fields were written after
//     it; otherwise the result is a ConflictError with the current element.
//     An expected version ahead of the server is always a conflict.
//   - delete: wins over any version while the element is live.
//   - restore: only revives a tombstone.
//
// Updates and deletes against tombstones report ErrNotFound.
func Resolve(current *domain.Element, m domain.Mutation, now time.Time) (*domain.Element, []string, error) {
	switch m.Kind {
	case domain.MutationCreate:
		if current != nil {
			return nil, nil, fmt.Errorf("canvas.Resolve: element %s: %w", current.ID, domain.ErrDuplicateID)
		}
		next := m.Element.Clone()
		next.Version = 1
		next.BaseVersion = 1
		next.FieldVersions = nil
		next.Deleted = false
		next.CreatorID = m.ActorID
		next.CreatedAt = now
		next.UpdatedAt = now
		return next, nil, nil

	case domain.MutationRestore:
		if current == nil {
			return nil, nil, fmt.Errorf("canvas.Resolve: element %s: %w", m.Element.ID, domain.ErrNotFound)
		}
		if !current.Deleted {
			return nil, nil, fmt.Errorf("canvas.Resolve: restore live element: %w", &domain.ConflictError{
				Current:  current.Clone(),
				Expected: current.Version,
			})
		}
		next := m.Element.Clone()
		next.BoardID = current.BoardID
		next.Version = current.Version + 1
		next.BaseVersion = next.Version
		next.FieldVersions = nil
		next.Deleted = false
		next.CreatedAt = current.CreatedAt
		next.UpdatedAt = now
		return next, nil, nil

	case domain.MutationUpdate:
		if current == nil || current.Deleted {
			return nil, nil, fmt.Errorf("canvas.Resolve: element %s: %w", m.ElementID, domain.ErrNotFound)
		}
		fields := m.Patch.Fields()
		switch {
		case m.ExpectedVersion > current.Version:
			return nil, nil, fmt.Errorf("canvas.Resolve: %w", &domain.ConflictError{
				Current:  current.Clone(),
				Expected: m.ExpectedVersion,
				Fields:   fields,
			})
		case m.ExpectedVersion < current.Version:
			if overlap := current.ChangedSince(m.ExpectedVersion, fields); len(overlap) > 0 {
				return nil, nil, fmt.Errorf("canvas.Resolve: %w", &domain.ConflictError{
					Current:  current.Clone(),
					Expected: m.ExpectedVersion,
					Fields:   overlap,
				})
			}
		}
		next := current.Clone()
		next.Apply(m.Patch, current.Version+1, now)
		return next, fields, nil

	case domain.MutationDelete:
		if current == nil || current.Deleted {
			return nil, nil, fmt.Errorf("canvas.Resolve: element %s: %w", m.ElementID, domain.ErrNotFound)
		}
		next := current.Clone()
		next.Deleted = true
		next.Version = current.Version + 1
		next.UpdatedAt = now
		return next, nil, nil

	default:
		return nil, nil, fmt.Errorf("canvas.Resolve: kind %q: %w", m.Kind, domain.ErrInvalidMutation)
	}
}
