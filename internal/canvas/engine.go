// Package canvas is the board sync engine: it orders mutations per board,
// resolves concurrent edits, keeps the element store and event log, and owns
// each board's undo history.
package canvas

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/inkboard/internal/broker"
	"github.com/gosuda/inkboard/internal/domain"
)

type Config struct {
	HistoryDepth   int
	EventRetention int
	QueueSize      int
	CommitTimeout  time.Duration
	LoadTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.HistoryDepth <= 0 {
		c.HistoryDepth = 100
	}
	if c.EventRetention <= 0 {
		c.EventRetention = 1000
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = 5 * time.Second
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 10 * time.Second
	}
	return c
}

type Option func(*Engine)

// WithClock replaces time.Now for commit timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine routes board operations to a per-board room, loading the board from
// the repository the first time it is touched.
type Engine struct {
	cfg  Config
	repo domain.CanvasRepository
	pub  broker.Broker
	now  func() time.Time

	mu     sync.Mutex
	rooms  map[uuid.UUID]*room
	gone   map[uuid.UUID]struct{} // deleted boards; never reloaded
	closed bool
}

func NewEngine(repo domain.CanvasRepository, pub broker.Broker, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:   cfg.withDefaults(),
		repo:  repo,
		pub:   pub,
		now:   time.Now,
		rooms: make(map[uuid.UUID]*room),
		gone:  make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply validates and commits one mutation. The returned event carries the
// board sequence and the element's new version.
func (e *Engine) Apply(ctx context.Context, boardID uuid.UUID, m domain.Mutation) (*domain.BoardEvent, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("canvas.Engine.Apply: %w", err)
	}
	if m.Origin == "" {
		m.Origin = domain.OriginClient
	}
	if m.Origin == domain.OriginUndo || m.Origin == domain.OriginRedo || m.Kind == domain.MutationRestore {
		return nil, fmt.Errorf("canvas.Engine.Apply: %s from origin %s: %w", m.Kind, m.Origin, domain.ErrInvalidMutation)
	}

	r, err := e.room(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return r.submit(ctx, request{op: opApply, mutation: m})
}

// Undo reverts the most recent change in the board's shared history.
func (e *Engine) Undo(ctx context.Context, boardID, actorID uuid.UUID, requestID string) (*domain.BoardEvent, error) {
	r, err := e.room(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return r.submit(ctx, request{op: opUndo, actorID: actorID, requestID: requestID})
}

// Redo re-applies the most recently undone change.
func (e *Engine) Redo(ctx context.Context, boardID, actorID uuid.UUID, requestID string) (*domain.BoardEvent, error) {
	r, err := e.room(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return r.submit(ctx, request{op: opRedo, actorID: actorID, requestID: requestID})
}

func (e *Engine) Snapshot(ctx context.Context, boardID uuid.UUID) (*Snapshot, error) {
	r, err := e.room(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return r.store.Snapshot(), nil
}

func (e *Engine) Get(ctx context.Context, boardID, elementID uuid.UUID) (*domain.Element, error) {
	r, err := e.room(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return r.store.Get(elementID)
}

// EventsSince returns retained events after seq. ok is false when the caller
// is too far behind and must take a snapshot instead.
func (e *Engine) EventsSince(ctx context.Context, boardID uuid.UUID, seq int64) ([]*domain.BoardEvent, bool, error) {
	r, err := e.room(ctx, boardID)
	if err != nil {
		return nil, false, err
	}
	events, ok := r.store.Since(seq)
	return events, ok, nil
}

// History pages through the durable event log.
func (e *Engine) History(ctx context.Context, boardID uuid.UUID, afterSeq int64, limit int) ([]*domain.BoardEvent, error) {
	events, err := e.repo.ListEvents(ctx, boardID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("canvas.Engine.History: %w", err)
	}
	return events, nil
}

// CloseBoard stops the board's room for good and tells its sessions the board
// is gone. It returns once any commit already running has finished, so the
// caller can delete the board's rows without racing the room. Later calls for
// the board fail with ErrNotFound.
func (e *Engine) CloseBoard(ctx context.Context, boardID uuid.UUID) error {
	e.mu.Lock()
	r, ok := e.rooms[boardID]
	delete(e.rooms, boardID)
	e.gone[boardID] = struct{}{}
	e.mu.Unlock()

	if ok {
		r.stop()
		if err := r.wait(ctx); err != nil {
			return fmt.Errorf("canvas.Engine.CloseBoard: %w", err)
		}
	}

	env, err := broker.NewEnvelope(broker.KindBoardDeleted, boardID, "", 0, map[string]uuid.UUID{"board_id": boardID})
	if err != nil {
		return fmt.Errorf("canvas.Engine.CloseBoard: %w", err)
	}
	if err := broker.Publish(ctx, e.pub, env); err != nil {
		return fmt.Errorf("canvas.Engine.CloseBoard: %w", err)
	}
	return nil
}

// Shutdown stops every room and waits for in-flight commits to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	rooms := make([]*room, 0, len(e.rooms))
	for _, r := range e.rooms {
		rooms = append(rooms, r)
	}
	e.rooms = make(map[uuid.UUID]*room)
	e.mu.Unlock()

	for _, r := range rooms {
		r.stop()
	}
	for _, r := range rooms {
		if err := r.wait(ctx); err != nil {
			return fmt.Errorf("canvas.Engine.Shutdown: %w", err)
		}
	}
	return nil
}

// room returns the board's running room, loading it on first use. Loading
// happens outside the engine lock so slow boards do not block others.
func (e *Engine) room(ctx context.Context, boardID uuid.UUID) (*room, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("canvas: engine shut down: %w", domain.ErrBoardClosed)
	}
	if _, deleted := e.gone[boardID]; deleted {
		e.mu.Unlock()
		return nil, fmt.Errorf("canvas: board %s deleted: %w", boardID, domain.ErrNotFound)
	}
	r, ok := e.rooms[boardID]
	if !ok {
		r = &room{
			boardID:       boardID,
			history:       NewHistory(e.cfg.HistoryDepth),
			repo:          e.repo,
			pub:           e.pub,
			now:           e.now,
			commitTimeout: e.cfg.CommitTimeout,
			inbox:         make(chan request, e.cfg.QueueSize),
			ready:         make(chan struct{}),
			done:          make(chan struct{}),
			stopped:       make(chan struct{}),
		}
		e.rooms[boardID] = r
		go e.load(r)
	}
	e.mu.Unlock()

	select {
	case <-r.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return r, nil
}

func (e *Engine) load(r *room) {
	defer close(r.ready)

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.LoadTimeout)
	defer cancel()

	var (
		elements []*domain.Element
		lastSeq  int64
		tail     []*domain.BoardEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		elements, err = e.repo.LoadElements(gctx, r.boardID)
		return err
	})
	g.Go(func() error {
		var err error
		if lastSeq, err = e.repo.LastSeq(gctx, r.boardID); err != nil {
			return err
		}
		tail, err = e.repo.ListEvents(gctx, r.boardID, max(lastSeq-int64(e.cfg.EventRetention), 0), e.cfg.EventRetention)
		return err
	})
	if err := g.Wait(); err != nil {
		r.loadErr = fmt.Errorf("canvas.Engine.load: board %s: %w", r.boardID, err)
		close(r.stopped)
		e.mu.Lock()
		if e.rooms[r.boardID] == r {
			delete(e.rooms, r.boardID)
		}
		e.mu.Unlock()
		log.Error().Err(err).Str("board_id", r.boardID.String()).Msg("canvas: board load failed")
		return
	}

	r.store = NewStore(r.boardID, elements, NewEventLog(e.cfg.EventRetention, lastSeq, tail))
	go r.run()

	log.Debug().
		Str("board_id", r.boardID.String()).
		Int("elements", len(elements)).
		Int64("seq", lastSeq).
		Msg("canvas: board loaded")
}
