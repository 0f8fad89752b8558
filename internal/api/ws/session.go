package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/gosuda/inkboard/internal/board"
	"github.com/gosuda/inkboard/internal/broker"
	"github.com/gosuda/inkboard/internal/domain"
	"github.com/gosuda/inkboard/internal/presence"
)

// State is where a session is in its lifecycle. Sessions only move forward,
// except that leaving a board returns them to StateAuthenticated.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	errSlowClient     = errors.New("ws: client cannot keep up")
	errServerShutdown = errors.New("ws: server shutting down")
)

// outbound maps broker kinds onto the frames forwarded to clients.
var outbound = map[broker.Kind]MessageType{
	broker.KindCollaboratorJoined: TypeCollaboratorJoined,
	broker.KindCollaboratorLeft:   TypeCollaboratorLeft,
	broker.KindCursorUpdated:      TypeCursorUpdated,
	broker.KindDrawingStarted:     TypeDrawingStarted,
	broker.KindDrawingContinued:   TypeDrawingContinued,
	broker.KindDrawingEnded:       TypeDrawingEnded,
}

// membership is a session's attachment to one board.
type membership struct {
	board  *domain.Board
	role   domain.Role
	cancel context.CancelFunc
	done   chan struct{} // closed when the forwarder exits
}

// Session is one authenticated client connection. The reader goroutine
// handles inbound messages one at a time, so a client's own requests reach
// the board in the order it sent them.
type Session struct {
	id    string
	ident domain.Identity
	t     Transport
	hub   *Hub

	outbox chan Message
	cancel context.CancelCauseFunc
	state  atomic.Int32

	ephemeral *rate.Limiter
	mutations *rate.Limiter

	mu     sync.Mutex
	joined *membership
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	// Disconnected is terminal.
	for {
		cur := s.state.Load()
		if State(cur) == StateDisconnected {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

// run pumps the connection until it closes, ctx ends, or the client falls
// behind. The board is left on the way out.
func (s *Session) run(ctx context.Context) error {
	s.setState(StateAuthenticated)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error { return s.heartbeat(gctx) })
	err := g.Wait()

	s.setState(StateDisconnected)
	s.detach(context.WithoutCancel(ctx))

	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errSlowClient):
		_ = s.t.Close(websocket.StatusPolicyViolation, "client too slow")
	case errors.Is(cause, errServerShutdown):
		_ = s.t.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		_ = s.t.Close(websocket.StatusNormalClosure, "")
	}

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		msg, err := s.t.Read(ctx)
		if err != nil {
			if errors.Is(err, errMalformed) {
				s.sendError(ctx, "", err)
				continue
			}
			return fmt.Errorf("ws: read: %w", err)
		}
		s.handle(ctx, msg)
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.outbox:
			wctx, cancel := context.WithTimeout(ctx, s.hub.cfg.WriteTimeout)
			err := s.t.Write(wctx, msg)
			cancel()
			if err != nil {
				return fmt.Errorf("ws: write %s: %w", msg.Type, err)
			}
		}
	}
}

func (s *Session) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(s.hub.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, s.hub.cfg.PingTimeout)
			err := s.t.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("ws: heartbeat: %w", err)
			}
		}
	}
}

// send queues msg for the writer. A full outbox means the client is not
// reading; the session is closed rather than letting it stall its board.
func (s *Session) send(msg Message) {
	select {
	case s.outbox <- msg:
	default:
		s.cancel(errSlowClient)
	}
}

func (s *Session) sendError(ctx context.Context, requestID string, err error) {
	data := errorData(err)
	if data.Code == CodeInternal {
		log.Error().Err(err).Str("session_id", s.id).Str("request_id", requestID).Msg("ws: request failed")
	} else {
		log.Debug().Err(err).Str("session_id", s.id).Str("code", string(data.Code)).Msg("ws: request rejected")
	}
	if ctx.Err() != nil {
		return
	}
	msg, merr := newMessage(TypeError, requestID, 0, data)
	if merr != nil {
		return
	}
	s.send(msg)
}

func (s *Session) handle(ctx context.Context, msg Message) {
	var err error
	switch msg.Type {
	case TypeJoinBoard:
		err = s.join(ctx, msg)
	case TypeLeaveBoard:
		err = s.leave(ctx, msg)
	case TypeBoardEvent:
		err = s.boardEvent(ctx, msg)
	case TypeUndo, TypeRedo:
		err = s.undoRedo(ctx, msg)
	case TypeCursorMove:
		err = s.cursorMove(ctx, msg)
	case TypeStartDrawing:
		err = s.startDrawing(ctx, msg)
	case TypeContinueDrawing:
		err = s.continueDrawing(ctx, msg)
	case TypeEndDrawing:
		err = s.endDrawing(ctx, msg)
	default:
		err = fmt.Errorf("%w: unknown type %q", errMalformed, msg.Type)
	}
	if err != nil {
		s.sendError(ctx, msg.RequestID, err)
	}
}

func (s *Session) member() (*membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined == nil {
		return nil, errNotJoined
	}
	return s.joined, nil
}

// ---------------------------------------------------------------------------
// Join / leave
// ---------------------------------------------------------------------------

func (s *Session) join(ctx context.Context, msg Message) error {
	d, err := decode[JoinBoardData](msg)
	if err != nil {
		return err
	}
	b, role, err := s.hub.boards.Authorize(ctx, s.ident, d.BoardID, d.InviteCode)
	if err != nil {
		return err
	}
	s.detach(ctx)

	// Subscribe before reading state: anything committed from here on is
	// either in the state we send or arrives on the subscription, and the
	// forwarder drops what the state already covers.
	mctx, cancel := context.WithCancel(ctx)
	msgs, unsubscribe, err := s.hub.pub.Subscribe(mctx, broker.BoardChannel(b.ID))
	if err != nil {
		cancel()
		return fmt.Errorf("ws.Session.join: subscribe: %w", err)
	}

	joined, err := s.boardState(ctx, b.ID, d.LastSeq)
	if err != nil {
		unsubscribe()
		cancel()
		return err
	}
	collaborators, err := s.hub.boards.Collaborators(ctx, b.ID)
	if err != nil {
		unsubscribe()
		cancel()
		return err
	}

	joined.SessionID = s.id
	joined.Board = board.Redact(b, role)
	joined.Role = role
	joined.Collaborators = collaborators
	joined.Participants = s.hub.presence.Join(ctx, b.ID, presence.Participant{
		SessionID:   s.id,
		UserID:      s.ident.UserID,
		DisplayName: s.ident.DisplayName,
		Role:        role,
	})
	joined.Paths = s.hub.presence.Paths(b.ID)

	out, err := newMessage(TypeBoardJoined, msg.RequestID, joined.Seq, joined)
	if err != nil {
		s.hub.presence.Leave(ctx, b.ID, s.id)
		unsubscribe()
		cancel()
		return err
	}
	s.send(out)

	m := &membership{board: b, role: role, cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.joined = m
	s.mu.Unlock()
	s.setState(StateJoined)

	log.Info().
		Str("session_id", s.id).
		Str("board_id", b.ID.String()).
		Str("user_id", s.ident.UserID.String()).
		Str("mode", string(joined.Mode)).
		Int64("seq", joined.Seq).
		Msg("ws: joined board")

	go s.forward(mctx, m, msgs, unsubscribe, joined.Seq)
	return nil
}

// boardState returns the events after lastSeq when the retained log still
// covers them, otherwise a full snapshot.
func (s *Session) boardState(ctx context.Context, boardID uuid.UUID, lastSeq *int64) (BoardJoinedData, error) {
	if lastSeq != nil {
		events, ok, err := s.hub.canvas.EventsSince(ctx, boardID, *lastSeq)
		if err != nil {
			return BoardJoinedData{}, err
		}
		if ok {
			seq := *lastSeq
			if n := len(events); n > 0 {
				seq = events[n-1].Seq
			}
			return BoardJoinedData{Mode: JoinCatchUp, Seq: seq, Events: events}, nil
		}
	}

	snap, err := s.hub.canvas.Snapshot(ctx, boardID)
	if err != nil {
		return BoardJoinedData{}, err
	}
	return snapshotJoin(JoinSnapshot, snap), nil
}

func (s *Session) leave(ctx context.Context, msg Message) error {
	m := s.detach(ctx)
	if m == nil {
		return errNotJoined
	}
	out, err := newMessage(TypeBoardLeft, msg.RequestID, 0, BoardLeftData{BoardID: m.board.ID})
	if err != nil {
		return err
	}
	s.send(out)
	return nil
}

// detach leaves the current board, if any, and returns the membership it
// ended. Strokes still open are dropped with the presence entry.
func (s *Session) detach(ctx context.Context) *membership {
	s.mu.Lock()
	m := s.joined
	s.joined = nil
	s.mu.Unlock()
	if m == nil {
		return nil
	}

	m.cancel()
	<-m.done
	s.hub.presence.Leave(ctx, m.board.ID, s.id)
	s.setState(StateAuthenticated)

	log.Info().Str("session_id", s.id).Str("board_id", m.board.ID.String()).Msg("ws: left board")
	return m
}

// lost ends a membership from the forwarder side, when the board went away
// or the broker dropped the subscription.
func (s *Session) lost(ctx context.Context, m *membership) {
	s.mu.Lock()
	current := s.joined == m
	if current {
		s.joined = nil
	}
	s.mu.Unlock()
	if !current {
		return
	}
	s.hub.presence.Leave(context.WithoutCancel(ctx), m.board.ID, s.id)
	s.setState(StateAuthenticated)
}

// ---------------------------------------------------------------------------
// Forwarding
// ---------------------------------------------------------------------------

// forward relays the board channel to the client. seq is the last board
// sequence the client holds: older events are dropped and a jump triggers a
// catch-up so the client never applies events out of order.
func (s *Session) forward(ctx context.Context, m *membership, msgs <-chan []byte, unsubscribe func(), seq int64) {
	defer close(m.done)
	defer unsubscribe()

	boardID := m.board.ID
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				log.Warn().Str("session_id", s.id).Str("board_id", boardID.String()).Msg("ws: subscription dropped")
				s.lost(ctx, m)
				s.sendCode(CodeLagging, "fell behind the board; join again")
				return
			}

			env, err := broker.Decode(raw)
			if err != nil {
				log.Warn().Err(err).Str("board_id", boardID.String()).Msg("ws: undecodable broker message")
				continue
			}

			switch {
			case env.Kind == broker.KindBoardDeleted:
				s.lost(ctx, m)
				if out, err := newMessage(TypeBoardDeleted, "", 0, BoardLeftData{BoardID: boardID, Reason: "deleted"}); err == nil {
					s.send(out)
				}
				return

			case env.Kind.Sequenced():
				if env.Seq <= seq {
					continue
				}
				if env.Seq > seq+1 {
					seq = s.catchUp(ctx, boardID, seq)
					continue
				}
				s.send(Message{Type: TypeBoardUpdated, RequestID: requestIDOf(env.Data), Seq: env.Seq, Data: env.Data})
				seq = env.Seq

			default:
				typ, known := outbound[env.Kind]
				if !known || env.Origin == s.id {
					continue
				}
				s.send(Message{Type: typ, Data: env.Data})
			}
		}
	}
}

// catchUp fills a gap after seq from the retained log, falling back to a
// full resync. It returns the sequence the client holds afterwards.
func (s *Session) catchUp(ctx context.Context, boardID uuid.UUID, seq int64) int64 {
	events, ok, err := s.hub.canvas.EventsSince(ctx, boardID, seq)
	if err == nil && ok {
		for _, ev := range events {
			out, err := newMessage(TypeBoardUpdated, ev.RequestID, ev.Seq, ev)
			if err != nil {
				continue
			}
			s.send(out)
			seq = ev.Seq
		}
		return seq
	}

	snap, err := s.hub.canvas.Snapshot(ctx, boardID)
	if err != nil {
		log.Error().Err(err).Str("board_id", boardID.String()).Msg("ws: resync snapshot failed")
		return seq
	}
	joined := snapshotJoin(JoinResync, snap)
	joined.SessionID = s.id
	if out, err := newMessage(TypeBoardJoined, "", snap.Seq, joined); err == nil {
		s.send(out)
	}
	return snap.Seq
}

func (s *Session) sendCode(code ErrorCode, message string) {
	if out, err := newMessage(TypeError, "", 0, ErrorData{Code: code, Message: message}); err == nil {
		s.send(out)
	}
}

func requestIDOf(data json.RawMessage) string {
	var ev struct {
		RequestID string `json:"request_id"`
	}
	_ = json.Unmarshal(data, &ev)
	return ev.RequestID
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

func (s *Session) boardEvent(ctx context.Context, msg Message) error {
	m, err := s.member()
	if err != nil {
		return err
	}
	d, err := decode[BoardEventData](msg)
	if err != nil {
		return err
	}
	allowed := m.role.CanEdit(m.board.Permissions)
	if d.Kind == domain.MutationDelete {
		allowed = m.role.CanDeleteElements(m.board.Permissions)
	}
	if !allowed {
		return fmt.Errorf("ws: %s as %s: %w", d.Kind, m.role, domain.ErrForbidden)
	}
	if !s.mutations.Allow() {
		return errRateLimited
	}

	mut, err := d.mutation(m.board.ID, s.ident.UserID, msg.RequestID)
	if err != nil {
		return err
	}
	// The committed event comes back through the board channel.
	_, err = s.hub.canvas.Apply(ctx, m.board.ID, mut)
	return err
}

func (s *Session) undoRedo(ctx context.Context, msg Message) error {
	m, err := s.member()
	if err != nil {
		return err
	}
	if !m.role.CanEdit(m.board.Permissions) {
		return fmt.Errorf("ws: %s as %s: %w", msg.Type, m.role, domain.ErrForbidden)
	}
	if !s.mutations.Allow() {
		return errRateLimited
	}

	if msg.Type == TypeUndo {
		_, err = s.hub.canvas.Undo(ctx, m.board.ID, s.ident.UserID, msg.RequestID)
	} else {
		_, err = s.hub.canvas.Redo(ctx, m.board.ID, s.ident.UserID, msg.RequestID)
	}
	return err
}

// ---------------------------------------------------------------------------
// Ephemeral
// ---------------------------------------------------------------------------

func (s *Session) cursorMove(ctx context.Context, msg Message) error {
	m, err := s.member()
	if err != nil {
		return err
	}
	if !s.ephemeral.Allow() {
		return nil
	}
	d, err := decode[CursorMoveData](msg)
	if err != nil {
		return err
	}
	return s.hub.presence.MoveCursor(ctx, m.board.ID, s.id, d.Position)
}

func (s *Session) startDrawing(ctx context.Context, msg Message) error {
	m, err := s.member()
	if err != nil {
		return err
	}
	if !m.role.CanEdit(m.board.Permissions) {
		return fmt.Errorf("ws: draw as %s: %w", m.role, domain.ErrForbidden)
	}
	d, err := decode[StartDrawingData](msg)
	if err != nil {
		return err
	}
	_, err = s.hub.presence.StartDrawing(ctx, m.board.ID, s.id, d.PathID, d.Style, d.Point)
	return err
}

func (s *Session) continueDrawing(ctx context.Context, msg Message) error {
	m, err := s.member()
	if err != nil {
		return err
	}
	if !s.ephemeral.Allow() {
		return nil
	}
	d, err := decode[ContinueDrawingData](msg)
	if err != nil {
		return err
	}
	return s.hub.presence.ContinueDrawing(ctx, m.board.ID, s.id, d.PathID, d.Points)
}

// endDrawing commits the finished stroke as a path element and tells the
// other sessions whether their preview became real.
func (s *Session) endDrawing(ctx context.Context, msg Message) error {
	m, err := s.member()
	if err != nil {
		return err
	}
	d, err := decode[EndDrawingData](msg)
	if err != nil {
		return err
	}
	path, err := s.hub.presence.EndDrawing(ctx, m.board.ID, s.id, d.PathID)
	if err != nil {
		return err
	}

	err = s.commitPath(ctx, m, path, msg.RequestID)
	s.hub.presence.FinishDrawing(context.WithoutCancel(ctx), m.board.ID, path, err == nil)
	return err
}

type pathData struct {
	Points []domain.Point `json:"points"`
}

func (s *Session) commitPath(ctx context.Context, m *membership, path *presence.Path, requestID string) error {
	if !m.role.CanEdit(m.board.Permissions) {
		return fmt.Errorf("ws: draw as %s: %w", m.role, domain.ErrForbidden)
	}

	origin, size := bounds(path.Points)
	rel := make([]domain.Point, len(path.Points))
	for i, p := range path.Points {
		rel[i] = domain.Point{X: p.X - origin.X, Y: p.Y - origin.Y}
	}
	data, err := json.Marshal(pathData{Points: rel})
	if err != nil {
		return fmt.Errorf("ws: encode path: %w", err)
	}

	e, err := domain.NewElement(m.board.ID, s.ident.UserID, domain.ElementPath, data, origin, &size, path.Style)
	if err != nil {
		return fmt.Errorf("ws: path element: %w: %w", domain.ErrInvalidMutation, err)
	}
	e.ID = path.ElementID

	_, err = s.hub.canvas.Apply(ctx, m.board.ID, domain.Mutation{
		Kind:      domain.MutationCreate,
		ElementID: e.ID,
		Element:   e,
		ActorID:   s.ident.UserID,
		RequestID: requestID,
		Origin:    domain.OriginDrawing,
	})
	return err
}

// bounds returns the top-left corner and extent of points.
func bounds(points []domain.Point) (domain.Point, domain.Size) {
	if len(points) == 0 {
		return domain.Point{}, domain.Size{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	return domain.Point{X: minX, Y: minY}, domain.Size{Width: maxX - minX, Height: maxY - minY}
}
