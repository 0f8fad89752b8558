package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventElementCreate EventType = "element-create"
	EventElementUpdate EventType = "element-update"
	EventElementDelete EventType = "element-delete"
	EventCursorMove    EventType = "cursor-move"
	EventUserJoin      EventType = "user-join"
	EventUserLeave     EventType = "user-leave"
)

// IsEphemeral reports event types that never enter the durable log or history.
func (t EventType) IsEphemeral() bool {
	switch t {
	case EventCursorMove, EventUserJoin, EventUserLeave:
		return true
	default:
		return false
	}
}

// BoardEvent is one committed mutation in a board's event log. Seq is the
// board-wide position in the log; ElementVersion is the element's version
// after the mutation.
type BoardEvent struct {
	ID             uuid.UUID `json:"id"`
	BoardID        uuid.UUID `json:"board_id"`
	Seq            int64     `json:"seq"`
	Type           EventType `json:"type"`
	ElementID      uuid.UUID `json:"element_id"`
	ElementVersion int64     `json:"element_version"`
	Fields         []string  `json:"fields,omitempty"`
	Element        *Element  `json:"element"`
	ActorID        uuid.UUID `json:"actor_id"`
	Origin         Origin    `json:"origin"`
	RequestID      string    `json:"request_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CanvasRepository is the durable side of the element store and event log.
// Commit must write the element row and the event atomically and be
// idempotent: replaying an already stored (board, seq) pair is a no-op and an
// element row is only overwritten by a higher version.
type CanvasRepository interface {
	Commit(ctx context.Context, e *Element, ev *BoardEvent) error
	LoadElements(ctx context.Context, boardID uuid.UUID) ([]*Element, error)
	ListEvents(ctx context.Context, boardID uuid.UUID, afterSeq int64, limit int) ([]*BoardEvent, error)
	LastSeq(ctx context.Context, boardID uuid.UUID) (int64, error)
}
