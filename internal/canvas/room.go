package canvas

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/inkboard/internal/broker"
	"github.com/gosuda/inkboard/internal/domain"
)

type opKind int

const (
	opApply opKind = iota
	opUndo
	opRedo
)

type request struct {
	ctx       context.Context
	op        opKind
	mutation  domain.Mutation
	actorID   uuid.UUID
	requestID string
	reply     chan reply
}

type reply struct {
	event *domain.BoardEvent
	err   error
}

// room is the single writer for one board. Every mutation, undo and redo
// passes through its inbox, which fixes the board's total order.
type room struct {
	boardID uuid.UUID
	store   *Store
	history *History

	repo          domain.CanvasRepository
	pub           broker.Broker
	now           func() time.Time
	commitTimeout time.Duration

	inbox    chan request
	ready    chan struct{} // closed once loading finished; see loadErr
	loadErr  error
	done     chan struct{} // closed to stop the actor
	stopOnce sync.Once
	stopped  chan struct{} // closed when run returns
}

func (r *room) run() {
	defer close(r.stopped)
	for {
		select {
		case <-r.done:
			return
		case req := <-r.inbox:
			// The sender gave up before we got to it: drop it unapplied.
			if err := req.ctx.Err(); err != nil {
				req.reply <- reply{err: err}
				continue
			}
			ev, err := r.handle(req)
			req.reply <- reply{event: ev, err: err}
		}
	}
}

func (r *room) submit(ctx context.Context, req request) (*domain.BoardEvent, error) {
	req.ctx = ctx
	req.reply = make(chan reply, 1)

	select {
	case r.inbox <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return nil, fmt.Errorf("canvas: board %s: %w", r.boardID, domain.ErrBoardClosed)
	}

	select {
	case res := <-req.reply:
		return res.event, res.err
	case <-r.stopped:
		return nil, fmt.Errorf("canvas: board %s: %w", r.boardID, domain.ErrBoardClosed)
	}
}

func (r *room) stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// wait blocks until a stopped room has finished loading and its actor has
// returned.
func (r *room) wait(ctx context.Context) error {
	select {
	case <-r.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *room) handle(req request) (*domain.BoardEvent, error) {
	switch req.op {
	case opUndo:
		return r.undo(req)
	case opRedo:
		return r.redo(req)
	default:
		c, err := r.commit(req.ctx, req.mutation)
		if err != nil {
			return nil, err
		}
		if req.mutation.Origin == domain.OriginClient || req.mutation.Origin == domain.OriginDrawing {
			r.history.Record(Transition{From: liveOrNil(c.Before), To: c.Result(), Fields: c.Fields})
		}
		return c.Event, nil
	}
}

func (r *room) undo(req request) (*domain.BoardEvent, error) {
	t, ok := r.history.PopUndo()
	if !ok {
		return nil, domain.ErrNothingToUndo
	}
	c, err := r.revert(req, t, domain.OriginUndo)
	if err != nil {
		if !errors.Is(err, domain.ErrStaleUndoTarget) {
			r.history.PushUndo(t)
		}
		return nil, err
	}
	r.history.PushRedo(Transition{From: t.To, To: c.Result(), Fields: t.Fields})
	return c.Event, nil
}

func (r *room) redo(req request) (*domain.BoardEvent, error) {
	t, ok := r.history.PopRedo()
	if !ok {
		return nil, domain.ErrNothingToRedo
	}
	c, err := r.revert(req, t, domain.OriginRedo)
	if err != nil {
		if !errors.Is(err, domain.ErrStaleUndoTarget) {
			r.history.PushRedo(t)
		}
		return nil, err
	}
	r.history.PushUndo(Transition{From: t.To, To: c.Result(), Fields: t.Fields})
	return c.Event, nil
}

// revert commits the inverse of t. A stale entry leaves the board untouched
// and is not pushed back.
func (r *room) revert(req request, t Transition, origin domain.Origin) (*Commit, error) {
	current, _ := r.store.Lookup(t.ElementID())
	m, err := t.Revert(current, req.actorID, req.requestID, origin)
	if err != nil {
		return nil, err
	}
	c, err := r.commit(req.ctx, m)
	if err != nil && (errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict)) {
		return nil, &domain.StaleUndoError{ElementID: t.ElementID(), Current: liveOrNil(current), Cause: err}
	}
	return c, err
}

// commit resolves, persists, installs and broadcasts one mutation. Persistence
// is not cancelled by the caller going away; once it succeeds the mutation is
// part of the board.
func (r *room) commit(ctx context.Context, m domain.Mutation) (*Commit, error) {
	c, err := r.store.Prepare(m, r.now())
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.commitTimeout)
	defer cancel()
	if err := r.repo.Commit(pctx, c.After, c.Event); err != nil {
		return nil, fmt.Errorf("canvas.room.commit: persist seq %d: %w", c.Event.Seq, err)
	}
	if err := r.store.Install(c); err != nil {
		return nil, fmt.Errorf("canvas.room.commit: %w", err)
	}

	r.broadcast(pctx, c.Event)
	return c, nil
}

func (r *room) broadcast(ctx context.Context, ev *domain.BoardEvent) {
	env, err := broker.NewEnvelope(broker.KindBoardUpdated, r.boardID, "", ev.Seq, ev)
	if err == nil {
		err = broker.Publish(ctx, r.pub, env)
	}
	if err != nil {
		// Subscribers notice the sequence gap on the next event and catch up.
		log.Warn().Err(err).
			Str("board_id", r.boardID.String()).
			Int64("seq", ev.Seq).
			Msg("canvas: broadcast failed")
	}
}

func liveOrNil(e *domain.Element) *domain.Element {
	if e == nil || e.Deleted {
		return nil
	}
	return e
}
