package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/gosuda/inkboard/internal/broker"
	"github.com/gosuda/inkboard/internal/canvas"
	"github.com/gosuda/inkboard/internal/domain"
	"github.com/gosuda/inkboard/internal/presence"
	"github.com/gosuda/inkboard/internal/server/middleware"
)

// Canvas is the slice of the canvas engine sessions drive.
type Canvas interface {
	Apply(ctx context.Context, boardID uuid.UUID, m domain.Mutation) (*domain.BoardEvent, error)
	Undo(ctx context.Context, boardID, actorID uuid.UUID, requestID string) (*domain.BoardEvent, error)
	Redo(ctx context.Context, boardID, actorID uuid.UUID, requestID string) (*domain.BoardEvent, error)
	Snapshot(ctx context.Context, boardID uuid.UUID) (*canvas.Snapshot, error)
	EventsSince(ctx context.Context, boardID uuid.UUID, seq int64) ([]*domain.BoardEvent, bool, error)
}

// Boards authorizes joins and lists board members.
type Boards interface {
	Authorize(ctx context.Context, ident domain.Identity, boardID uuid.UUID, inviteCode string) (*domain.Board, domain.Role, error)
	Collaborators(ctx context.Context, boardID uuid.UUID) ([]*domain.Collaborator, error)
}

type Config struct {
	OutboxSize   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	PingTimeout  time.Duration
	ReadLimit    int64
	// OriginPatterns are extra hosts allowed to open a socket cross-origin.
	OriginPatterns []string

	// Cursor moves and stroke points beyond this rate are dropped.
	EphemeralRate  float64
	EphemeralBurst int
	// Mutations beyond this rate are answered with rate-limited.
	MutationRate  float64
	MutationBurst int
}

func (c Config) withDefaults() Config {
	if c.OutboxSize <= 0 {
		c.OutboxSize = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 10 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.EphemeralRate <= 0 {
		c.EphemeralRate = 60
	}
	if c.EphemeralBurst <= 0 {
		c.EphemeralBurst = 120
	}
	if c.MutationRate <= 0 {
		c.MutationRate = 30
	}
	if c.MutationBurst <= 0 {
		c.MutationBurst = 60
	}
	return c
}

// Hub accepts board sockets and tracks the sessions they carry.
type Hub struct {
	canvas   Canvas
	boards   Boards
	presence *presence.Broadcaster
	pub      broker.Broker
	cfg      Config

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewHub(c Canvas, boards Boards, pres *presence.Broadcaster, pub broker.Broker, cfg Config) *Hub {
	return &Hub{
		canvas:   c,
		boards:   boards,
		presence: pres,
		pub:      pub,
		cfg:      cfg.withDefaults(),
		sessions: make(map[*Session]struct{}),
	}
}

// ServeBoard upgrades an authenticated request to a board socket. The
// client picks a board with join-board once connected.
func (h *Hub) ServeBoard(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	// The server's read and write timeouts would otherwise outlive the
	// upgrade and cut long-lived sockets.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns})
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.cfg.ReadLimit)

	if err := h.Serve(r.Context(), ident, NewConnTransport(conn)); err != nil {
		log.Debug().Err(err).Str("user_id", ident.UserID.String()).Msg("ws: session ended")
	}
}

// Serve runs one session over t until the client goes away, the session
// fails, or the hub shuts down.
func (h *Hub) Serve(ctx context.Context, ident domain.Identity, t Transport) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s := &Session{
		id:        uuid.NewString(),
		ident:     ident,
		t:         t,
		hub:       h,
		outbox:    make(chan Message, h.cfg.OutboxSize),
		cancel:    cancel,
		ephemeral: rate.NewLimiter(rate.Limit(h.cfg.EphemeralRate), h.cfg.EphemeralBurst),
		mutations: rate.NewLimiter(rate.Limit(h.cfg.MutationRate), h.cfg.MutationBurst),
	}
	s.state.Store(int32(StateConnecting))

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = t.Close(websocket.StatusGoingAway, "server shutting down")
		return errServerShutdown
	}
	h.sessions[s] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.sessions, s)
		h.mu.Unlock()
		h.wg.Done()
	}()

	log.Debug().Str("session_id", s.id).Str("user_id", ident.UserID.String()).Msg("ws: session opened")
	err := s.run(ctx)
	log.Debug().Str("session_id", s.id).Msg("ws: session closed")
	return err
}

// Sessions returns the number of open sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown closes every session with going-away and waits for them to
// leave their boards. New connections are refused from here on.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for s := range h.sessions {
		s.cancel(errServerShutdown)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ws.Hub.Shutdown: %w", errors.Join(ctx.Err(), fmt.Errorf("%d sessions still open", h.Sessions())))
	}
}
