// Package broker fans board traffic out to every session watching a board.
// Payloads are JSON envelopes published on one channel per board.
package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Broker is a topic pub/sub. Subscribe returns a channel that is closed when
// ctx ends, the cleanup func runs, or the broker drops a subscriber that
// cannot keep up.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

type Kind string

const (
	KindBoardUpdated       Kind = "board-updated"
	KindBoardDeleted       Kind = "board-deleted"
	KindCollaboratorJoined Kind = "collaborator-joined"
	KindCollaboratorLeft   Kind = "collaborator-left"
	KindCursorUpdated      Kind = "cursor-updated"
	KindDrawingStarted     Kind = "drawing-started"
	KindDrawingContinued   Kind = "drawing-continued"
	KindDrawingEnded       Kind = "drawing-ended"
)

// Sequenced reports kinds that carry a board log sequence.
func (k Kind) Sequenced() bool { return k == KindBoardUpdated }

// Envelope is the unit published on a board channel. Origin is the session
// that produced an ephemeral message; committed events leave it empty so they
// reach every session, the author included.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	BoardID uuid.UUID       `json:"board_id"`
	Origin  string          `json:"origin,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// NewEnvelope marshals data into an envelope.
func NewEnvelope(kind Kind, boardID uuid.UUID, origin string, seq int64, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("broker.NewEnvelope: %w", err)
	}
	return Envelope{Kind: kind, BoardID: boardID, Origin: origin, Seq: seq, Data: raw}, nil
}

func (e Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("broker.Envelope.Encode: %w", err)
	}
	return b, nil
}

func Decode(payload []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return Envelope{}, fmt.Errorf("broker.Decode: %w", err)
	}
	if e.Kind == "" {
		return Envelope{}, fmt.Errorf("broker.Decode: missing kind")
	}
	return e, nil
}

// Publish encodes env and publishes it on its board channel.
func Publish(ctx context.Context, b Broker, env Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	if err := b.Publish(ctx, BoardChannel(env.BoardID), payload); err != nil {
		return fmt.Errorf("broker.Publish: %s: %w", env.Kind, err)
	}
	return nil
}

// BoardChannel returns the channel name for a board.
func BoardChannel(boardID uuid.UUID) string {
	return "board:" + boardID.String()
}
