package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type MutationKind string

const (
	MutationCreate  MutationKind = "create"
	MutationUpdate  MutationKind = "update"
	MutationDelete  MutationKind = "delete"
	MutationRestore MutationKind = "restore" // history only: revives a tombstone with prior content
)

// Origin records what produced a committed mutation.
type Origin string

const (
	OriginClient  Origin = "client"
	OriginDrawing Origin = "drawing"
	OriginUndo    Origin = "undo"
	OriginRedo    Origin = "redo"
)

// Mutation is a request to change one element. Create carries Element;
// update carries Patch; update and delete carry ExpectedVersion, the version
// the caller last observed.
type Mutation struct {
	Kind            MutationKind
	ElementID       uuid.UUID
	Element         *Element
	Patch           ElementPatch
	ExpectedVersion int64
	ActorID         uuid.UUID
	RequestID       string
	Origin          Origin
}

// Validate checks the shape of a mutation before it reaches the resolver.
func (m Mutation) Validate() error {
	if m.ActorID == uuid.Nil {
		return fmt.Errorf("mutation: actor is required: %w", ErrInvalidMutation)
	}

	switch m.Kind {
	case MutationCreate, MutationRestore:
		if m.Element == nil {
			return fmt.Errorf("mutation: %s requires an element: %w", m.Kind, ErrInvalidMutation)
		}
		if m.Element.ID == uuid.Nil {
			return fmt.Errorf("mutation: element id is required: %w", ErrInvalidMutation)
		}
		if !m.Element.Type.Valid() {
			return fmt.Errorf("mutation: unknown element type %q: %w", m.Element.Type, ErrInvalidMutation)
		}
	case MutationUpdate:
		if m.ElementID == uuid.Nil {
			return fmt.Errorf("mutation: element id is required: %w", ErrInvalidMutation)
		}
		if m.Patch.IsEmpty() {
			return fmt.Errorf("mutation: update patch is empty: %w", ErrInvalidMutation)
		}
		if m.ExpectedVersion < 1 {
			return fmt.Errorf("mutation: expected version must be >= 1: %w", ErrInvalidMutation)
		}
	case MutationDelete:
		if m.ElementID == uuid.Nil {
			return fmt.Errorf("mutation: element id is required: %w", ErrInvalidMutation)
		}
	default:
		return fmt.Errorf("mutation: unknown kind %q: %w", m.Kind, ErrInvalidMutation)
	}

	return nil
}

// TargetID returns the element the mutation addresses.
func (m Mutation) TargetID() uuid.UUID {
	if m.Element != nil {
		return m.Element.ID
	}
	return m.ElementID
}

// NewElement creates an element draft for a create mutation. Version fields are
// assigned when the create commits.
func NewElement(boardID, creatorID uuid.UUID, typ ElementType, data json.RawMessage, pos Point, size *Size, style map[string]string) (*Element, error) {
	if boardID == uuid.Nil {
		return nil, errors.New("element: board ID is required")
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("element: unknown type %q", typ)
	}
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if size != nil && size.IsZero() {
		size = nil
	}
	now := time.Now()
	return &Element{
		ID:        uuid.New(),
		BoardID:   boardID,
		Type:      typ,
		Data:      data,
		Position:  pos,
		Size:      size,
		Style:     style,
		CreatorID: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
