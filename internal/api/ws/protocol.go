package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/gosuda/inkboard/internal/canvas"
	"github.com/gosuda/inkboard/internal/domain"
	"github.com/gosuda/inkboard/internal/presence"
)

type MessageType string

// Inbound.
const (
	TypeJoinBoard       MessageType = "join-board"
	TypeLeaveBoard      MessageType = "leave-board"
	TypeBoardEvent      MessageType = "board-event"
	TypeUndo            MessageType = "undo"
	TypeRedo            MessageType = "redo"
	TypeCursorMove      MessageType = "cursor-move"
	TypeStartDrawing    MessageType = "start-drawing"
	TypeContinueDrawing MessageType = "continue-drawing"
	TypeEndDrawing      MessageType = "end-drawing"
)

// Outbound.
const (
	TypeBoardJoined        MessageType = "board-joined"
	TypeBoardLeft          MessageType = "board-left"
	TypeBoardUpdated       MessageType = "board-updated"
	TypeBoardDeleted       MessageType = "board-deleted"
	TypeCollaboratorJoined MessageType = "collaborator-joined"
	TypeCollaboratorLeft   MessageType = "collaborator-left"
	TypeCursorUpdated      MessageType = "cursor-updated"
	TypeDrawingStarted     MessageType = "drawing-started"
	TypeDrawingContinued   MessageType = "drawing-continued"
	TypeDrawingEnded       MessageType = "drawing-ended"
	TypeError              MessageType = "error"
)

// Message is one frame on the wire in either direction. RequestID is chosen by
// the client and echoed on the resulting board-updated or error frame.
type Message struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Seq       int64           `json:"seq,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func newMessage(typ MessageType, requestID string, seq int64, data any) (Message, error) {
	msg := Message{Type: typ, RequestID: requestID, Seq: seq}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Message{}, fmt.Errorf("ws.newMessage: %s: %w", typ, err)
		}
		msg.Data = raw
	}
	return msg, nil
}

// ---------------------------------------------------------------------------
// Inbound payloads
// ---------------------------------------------------------------------------

type JoinBoardData struct {
	BoardID    uuid.UUID `json:"board_id" validate:"required"`
	InviteCode string    `json:"invite_code,omitempty" validate:"omitempty,max=64"`
	// LastSeq asks for the events after it instead of a full snapshot.
	LastSeq *int64 `json:"last_seq,omitempty" validate:"omitempty,min=0"`
}

type ElementInput struct {
	// ID may be chosen by the client so it can render optimistically.
	ID       uuid.UUID          `json:"id"`
	Type     domain.ElementType `json:"type" validate:"required,oneof=path text sticky-note shape image"`
	Data     json.RawMessage    `json:"data,omitempty" validate:"omitempty,max=262144"`
	Position domain.Point       `json:"position"`
	Size     *domain.Size       `json:"size,omitempty"`
	Style    map[string]string  `json:"style,omitempty" validate:"omitempty,max=32"`
}

type BoardEventData struct {
	Kind            domain.MutationKind  `json:"kind" validate:"required,oneof=create update delete"`
	ElementID       uuid.UUID            `json:"element_id"`
	Element         *ElementInput        `json:"element,omitempty" validate:"required_if=Kind create"`
	Patch           *domain.ElementPatch `json:"patch,omitempty" validate:"required_if=Kind update"`
	ExpectedVersion int64                `json:"expected_version,omitempty" validate:"min=0"`
}

type CursorMoveData struct {
	Position domain.Point `json:"position"`
}

type StartDrawingData struct {
	PathID string            `json:"path_id" validate:"required,max=64"`
	Style  map[string]string `json:"style,omitempty" validate:"omitempty,max=32"`
	Point  domain.Point      `json:"point"`
}

type ContinueDrawingData struct {
	PathID string         `json:"path_id" validate:"required,max=64"`
	Points []domain.Point `json:"points" validate:"required,min=1,max=1000"`
}

type EndDrawingData struct {
	PathID string `json:"path_id" validate:"required,max=64"`
}

// ---------------------------------------------------------------------------
// Outbound payloads
// ---------------------------------------------------------------------------

type JoinMode string

const (
	JoinSnapshot JoinMode = "snapshot"
	JoinCatchUp  JoinMode = "catch-up"
	// JoinResync is sent mid-session when a gap could not be filled from the
	// retained log; the client replaces its state with Elements.
	JoinResync JoinMode = "resync"
)

type BoardJoinedData struct {
	SessionID     string                 `json:"session_id"`
	Board         *domain.Board          `json:"board"`
	Role          domain.Role            `json:"role"`
	Mode          JoinMode               `json:"mode"`
	Seq           int64                  `json:"seq"`
	Elements      []*domain.Element      `json:"elements,omitempty"`
	Events        []*domain.BoardEvent   `json:"events,omitempty"`
	Collaborators []*domain.Collaborator `json:"collaborators,omitempty"`
	Participants  []presence.Participant `json:"participants,omitempty"`
	Paths         []*presence.Path       `json:"paths,omitempty"`
}

type BoardLeftData struct {
	BoardID uuid.UUID `json:"board_id"`
	Reason  string    `json:"reason,omitempty"`
}

// ErrorCode is the stable, machine-readable half of an error frame.
type ErrorCode string

const (
	CodeConflict         ErrorCode = "conflict"
	CodeNotFound         ErrorCode = "not-found"
	CodePermissionDenied ErrorCode = "permission-denied"
	CodeStaleUndoTarget  ErrorCode = "stale-undo-target"
	CodeNothingToUndo    ErrorCode = "nothing-to-undo"
	CodeNothingToRedo    ErrorCode = "nothing-to-redo"
	CodeDuplicateID      ErrorCode = "duplicate-id"
	CodeInvalidMessage   ErrorCode = "invalid-message"
	CodeNotJoined        ErrorCode = "not-joined"
	CodeRateLimited      ErrorCode = "rate-limited"
	CodeLagging          ErrorCode = "lagging"
	CodeInternal         ErrorCode = "internal"
)

type ErrorData struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	// Conflict details, sent only to the originator.
	Current   *domain.Element `json:"current,omitempty"`
	Fields    []string        `json:"fields,omitempty"`
	ElementID *uuid.UUID      `json:"element_id,omitempty"`
}

var (
	errMalformed   = errors.New("ws: malformed message")
	errNotJoined   = errors.New("ws: not joined to a board")
	errRateLimited = errors.New("ws: rate limited")
)

// errorData maps an error onto its wire form.
func errorData(err error) ErrorData {
	var (
		conflict *domain.ConflictError
		stale    *domain.StaleUndoError
		verrs    validator.ValidationErrors
	)
	switch {
	case errors.As(err, &conflict):
		id := conflict.Current.ID
		return ErrorData{Code: CodeConflict, Message: "element changed since expected version",
			Current: conflict.Current, Fields: conflict.Fields, ElementID: &id}
	case errors.As(err, &stale):
		id := stale.ElementID
		return ErrorData{Code: CodeStaleUndoTarget, Message: "undo target changed", Current: stale.Current, ElementID: &id}
	case errors.Is(err, domain.ErrNothingToUndo):
		return ErrorData{Code: CodeNothingToUndo, Message: "nothing to undo"}
	case errors.Is(err, domain.ErrNothingToRedo):
		return ErrorData{Code: CodeNothingToRedo, Message: "nothing to redo"}
	case errors.Is(err, domain.ErrDuplicateID):
		return ErrorData{Code: CodeDuplicateID, Message: "id already in use"}
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrBoardClosed):
		return ErrorData{Code: CodeNotFound, Message: "not found"}
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrUnauthorized):
		msg := "permission denied"
		if errors.Is(err, domain.ErrInvalidInviteKey) {
			msg = "invalid invite code"
		}
		return ErrorData{Code: CodePermissionDenied, Message: msg}
	case errors.As(err, &verrs):
		return ErrorData{Code: CodeInvalidMessage, Message: verrs.Error()}
	case errors.Is(err, errMalformed), errors.Is(err, domain.ErrInvalidMutation):
		return ErrorData{Code: CodeInvalidMessage, Message: err.Error()}
	case errors.Is(err, errNotJoined):
		return ErrorData{Code: CodeNotJoined, Message: "join a board first"}
	case errors.Is(err, errRateLimited):
		return ErrorData{Code: CodeRateLimited, Message: "slow down"}
	default:
		return ErrorData{Code: CodeInternal, Message: "internal error"}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decode unmarshals msg.Data into v and validates it.
func decode[T any](msg Message) (T, error) {
	var v T
	if len(msg.Data) == 0 {
		return v, fmt.Errorf("%w: %s requires data", errMalformed, msg.Type)
	}
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %w", errMalformed, msg.Type, err)
	}
	if err := validate.Struct(v); err != nil {
		return v, err
	}
	return v, nil
}

// mutation converts a board-event payload into an engine mutation.
func (d BoardEventData) mutation(boardID, actorID uuid.UUID, requestID string) (domain.Mutation, error) {
	m := domain.Mutation{
		Kind:            d.Kind,
		ElementID:       d.ElementID,
		ExpectedVersion: d.ExpectedVersion,
		ActorID:         actorID,
		RequestID:       requestID,
		Origin:          domain.OriginClient,
	}
	switch d.Kind {
	case domain.MutationCreate:
		in := d.Element
		e, err := domain.NewElement(boardID, actorID, in.Type, in.Data, in.Position, in.Size, in.Style)
		if err != nil {
			return m, fmt.Errorf("%w: %w", domain.ErrInvalidMutation, err)
		}
		if in.ID != uuid.Nil {
			e.ID = in.ID
		}
		m.Element, m.ElementID = e, e.ID
	case domain.MutationUpdate:
		m.Patch = *d.Patch
	}
	return m, nil
}

// snapshotJoin builds the state a client needs to replace its board.
func snapshotJoin(mode JoinMode, snap *canvas.Snapshot) BoardJoinedData {
	return BoardJoinedData{Mode: mode, Seq: snap.Seq, Elements: snap.Elements}
}
