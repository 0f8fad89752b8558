// Package presence tracks who is on a board, where their cursor is, and the
// strokes they are drawing. None of it is persisted.
package presence

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/inkboard/internal/broker"
	"github.com/gosuda/inkboard/internal/domain"
)

// MaxPathPoints caps an in-progress stroke.
const MaxPathPoints = 10_000

var palette = []string{"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4", "#42d4f4", "#f032e6", "#469990"}

type Cursor struct {
	Position  domain.Point `json:"position"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type Participant struct {
	SessionID   string      `json:"session_id"`
	UserID      uuid.UUID   `json:"user_id"`
	DisplayName string      `json:"display_name"`
	Role        domain.Role `json:"role"`
	Color       string      `json:"color"`
	Cursor      *Cursor     `json:"cursor,omitempty"`
	JoinedAt    time.Time   `json:"joined_at"`
}

// Path is a stroke being drawn. ElementID is assigned up front so clients can
// swap the preview for the committed element when it arrives.
type Path struct {
	ID        string            `json:"path_id"`
	ElementID uuid.UUID         `json:"element_id"`
	SessionID string            `json:"session_id"`
	UserID    uuid.UUID         `json:"user_id"`
	Style     map[string]string `json:"style,omitempty"`
	Points    []domain.Point    `json:"points"`
	StartedAt time.Time         `json:"started_at"`
}

// Broadcaster keeps per-board presence state and publishes every change on
// the board channel, tagged with the originating session.
type Broadcaster struct {
	pub broker.Broker
	now func() time.Time

	mu     sync.Mutex
	boards map[uuid.UUID]*boardPresence
}

type boardPresence struct {
	participants map[string]*Participant
	paths        map[string]*Path
	joins        int
}

func New(pub broker.Broker) *Broadcaster {
	return &Broadcaster{pub: pub, now: time.Now, boards: make(map[uuid.UUID]*boardPresence)}
}

// Join registers p and returns everyone on the board, p included.
func (b *Broadcaster) Join(ctx context.Context, boardID uuid.UUID, p Participant) []Participant {
	b.mu.Lock()
	bp := b.boards[boardID]
	if bp == nil {
		bp = &boardPresence{participants: make(map[string]*Participant), paths: make(map[string]*Path)}
		b.boards[boardID] = bp
	}
	p.Color = palette[bp.joins%len(palette)]
	p.JoinedAt = b.now()
	p.Cursor = nil
	bp.joins++
	bp.participants[p.SessionID] = &p
	all := snapshotParticipants(bp)
	b.mu.Unlock()

	b.publish(ctx, broker.KindCollaboratorJoined, boardID, p.SessionID, p)
	return all
}

type leftData struct {
	Participant Participant `json:"participant"`
	// Abandoned lists strokes dropped with the session; clients discard their
	// previews.
	Abandoned []string `json:"abandoned_paths,omitempty"`
}

// Leave removes the session and any strokes it had open. ok is false when the
// session was not on the board.
func (b *Broadcaster) Leave(ctx context.Context, boardID uuid.UUID, sessionID string) (abandoned []string, ok bool) {
	b.mu.Lock()
	bp := b.boards[boardID]
	if bp == nil {
		b.mu.Unlock()
		return nil, false
	}
	p, ok := bp.participants[sessionID]
	if !ok {
		b.mu.Unlock()
		return nil, false
	}
	delete(bp.participants, sessionID)
	for key, path := range bp.paths {
		if path.SessionID == sessionID {
			abandoned = append(abandoned, path.ID)
			delete(bp.paths, key)
		}
	}
	if len(bp.participants) == 0 {
		delete(b.boards, boardID)
	}
	left := *p
	b.mu.Unlock()

	slices.Sort(abandoned)
	b.publish(ctx, broker.KindCollaboratorLeft, boardID, sessionID, leftData{Participant: left, Abandoned: abandoned})
	return abandoned, true
}

// Participants lists the sessions on a board in join order.
func (b *Broadcaster) Participants(boardID uuid.UUID) []Participant {
	b.mu.Lock()
	defer b.mu.Unlock()

	bp := b.boards[boardID]
	if bp == nil {
		return nil
	}
	return snapshotParticipants(bp)
}

// ActiveUsers returns the users with at least one session on the board.
func (b *Broadcaster) ActiveUsers(boardID uuid.UUID) map[uuid.UUID]bool {
	out := make(map[uuid.UUID]bool)
	for _, p := range b.Participants(boardID) {
		out[p.UserID] = true
	}
	return out
}

type cursorData struct {
	SessionID string       `json:"session_id"`
	UserID    uuid.UUID    `json:"user_id"`
	Color     string       `json:"color"`
	Position  domain.Point `json:"position"`
}

// MoveCursor records the latest cursor position. Positions are not versioned:
// the last one received wins.
func (b *Broadcaster) MoveCursor(ctx context.Context, boardID uuid.UUID, sessionID string, at domain.Point) error {
	b.mu.Lock()
	p, err := b.participant(boardID, sessionID)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	p.Cursor = &Cursor{Position: at, UpdatedAt: b.now()}
	data := cursorData{SessionID: sessionID, UserID: p.UserID, Color: p.Color, Position: at}
	b.mu.Unlock()

	b.publish(ctx, broker.KindCursorUpdated, boardID, sessionID, data)
	return nil
}

// StartDrawing opens a stroke at start.
func (b *Broadcaster) StartDrawing(ctx context.Context, boardID uuid.UUID, sessionID, pathID string, style map[string]string, start domain.Point) (*Path, error) {
	b.mu.Lock()
	p, err := b.participant(boardID, sessionID)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	bp := b.boards[boardID]
	key := pathKey(sessionID, pathID)
	if _, exists := bp.paths[key]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("presence.StartDrawing: path %q: %w", pathID, domain.ErrDuplicateID)
	}
	path := &Path{
		ID:        pathID,
		ElementID: uuid.New(),
		SessionID: sessionID,
		UserID:    p.UserID,
		Style:     maps.Clone(style),
		Points:    []domain.Point{start},
		StartedAt: b.now(),
	}
	bp.paths[key] = path
	out := clonePath(path)
	b.mu.Unlock()

	b.publish(ctx, broker.KindDrawingStarted, boardID, sessionID, out)
	return out, nil
}

type continuedData struct {
	PathID    string         `json:"path_id"`
	SessionID string         `json:"session_id"`
	Points    []domain.Point `json:"points"`
}

// ContinueDrawing appends points to an open stroke.
func (b *Broadcaster) ContinueDrawing(ctx context.Context, boardID uuid.UUID, sessionID, pathID string, points []domain.Point) error {
	b.mu.Lock()
	path, err := b.ownPath(boardID, sessionID, pathID)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if len(path.Points)+len(points) > MaxPathPoints {
		b.mu.Unlock()
		return fmt.Errorf("presence.ContinueDrawing: path %q exceeds %d points: %w", pathID, MaxPathPoints, domain.ErrInvalidMutation)
	}
	path.Points = append(path.Points, points...)
	b.mu.Unlock()

	b.publish(ctx, broker.KindDrawingContinued, boardID, sessionID, continuedData{PathID: pathID, SessionID: sessionID, Points: points})
	return nil
}

type endedData struct {
	PathID    string    `json:"path_id"`
	SessionID string    `json:"session_id"`
	ElementID uuid.UUID `json:"element_id"`
	Committed bool      `json:"committed"`
}

// EndDrawing closes the stroke and hands it back for committing. Call
// FinishDrawing once the commit outcome is known.
func (b *Broadcaster) EndDrawing(_ context.Context, boardID uuid.UUID, sessionID, pathID string) (*Path, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path, err := b.ownPath(boardID, sessionID, pathID)
	if err != nil {
		return nil, err
	}
	delete(b.boards[boardID].paths, pathKey(sessionID, pathID))
	return path, nil
}

// FinishDrawing tells other sessions the stroke is over. committed is false
// when the element was rejected and the preview should be dropped.
func (b *Broadcaster) FinishDrawing(ctx context.Context, boardID uuid.UUID, path *Path, committed bool) {
	b.publish(ctx, broker.KindDrawingEnded, boardID, path.SessionID, endedData{
		PathID:    path.ID,
		SessionID: path.SessionID,
		ElementID: path.ElementID,
		Committed: committed,
	})
}

// Paths returns the open strokes on a board.
func (b *Broadcaster) Paths(boardID uuid.UUID) []*Path {
	b.mu.Lock()
	defer b.mu.Unlock()

	bp := b.boards[boardID]
	if bp == nil {
		return nil
	}
	out := make([]*Path, 0, len(bp.paths))
	for _, p := range bp.paths {
		out = append(out, clonePath(p))
	}
	slices.SortFunc(out, func(a, b *Path) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// participant must be called with b.mu held.
func (b *Broadcaster) participant(boardID uuid.UUID, sessionID string) (*Participant, error) {
	bp := b.boards[boardID]
	if bp == nil {
		return nil, fmt.Errorf("presence: session %s not on board %s: %w", sessionID, boardID, domain.ErrNotFound)
	}
	p, ok := bp.participants[sessionID]
	if !ok {
		return nil, fmt.Errorf("presence: session %s not on board %s: %w", sessionID, boardID, domain.ErrNotFound)
	}
	return p, nil
}

// ownPath must be called with b.mu held. Path ids are scoped to the session
// that opened them.
func (b *Broadcaster) ownPath(boardID uuid.UUID, sessionID, pathID string) (*Path, error) {
	bp := b.boards[boardID]
	if bp == nil {
		return nil, fmt.Errorf("presence: path %q: %w", pathID, domain.ErrNotFound)
	}
	path, ok := bp.paths[pathKey(sessionID, pathID)]
	if !ok {
		return nil, fmt.Errorf("presence: path %q: %w", pathID, domain.ErrNotFound)
	}
	return path, nil
}

func pathKey(sessionID, pathID string) string { return sessionID + "/" + pathID }

func (b *Broadcaster) publish(ctx context.Context, kind broker.Kind, boardID uuid.UUID, origin string, data any) {
	env, err := broker.NewEnvelope(kind, boardID, origin, 0, data)
	if err == nil {
		err = broker.Publish(ctx, b.pub, env)
	}
	if err != nil {
		log.Debug().Err(err).Str("board_id", boardID.String()).Str("kind", string(kind)).Msg("presence: publish failed")
	}
}

func snapshotParticipants(bp *boardPresence) []Participant {
	out := make([]Participant, 0, len(bp.participants))
	for _, p := range bp.participants {
		cp := *p
		if p.Cursor != nil {
			c := *p.Cursor
			cp.Cursor = &c
		}
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b Participant) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SessionID, b.SessionID)
	})
	return out
}

func clonePath(p *Path) *Path {
	cp := *p
	cp.Style = maps.Clone(p.Style)
	cp.Points = slices.Clone(p.Points)
	return &cp
}
