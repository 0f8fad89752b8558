package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/inkboard/internal/domain"
)

// CanvasRepo persists board elements and the event log. Commit writes both
// in one transaction.
type CanvasRepo struct {
	pool *pgxpool.Pool
}

func NewCanvasRepo(pool *pgxpool.Pool) *CanvasRepo {
	return &CanvasRepo{pool: pool}
}

func (r *CanvasRepo) Commit(ctx context.Context, e *domain.Element, ev *domain.BoardEvent) error {
	var width, height *float64
	if e.Size != nil {
		width, height = &e.Size.Width, &e.Size.Height
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO board_events (board_id, seq, id, type, element_id, element_version, fields, element, actor_id, origin, request_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (board_id, seq) DO NOTHING`,
			ev.BoardID, ev.Seq, ev.ID, ev.Type, ev.ElementID, ev.ElementVersion, nonNil(ev.Fields), ev.Element,
			ev.ActorID, ev.Origin, ev.RequestID, ev.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Replay of a stored commit.
			return nil
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO board_elements (board_id, id, type, data, pos_x, pos_y, width, height, style, creator_id,
			                             version, base_version, field_versions, deleted, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			 ON CONFLICT (board_id, id) DO UPDATE SET
			     type = EXCLUDED.type, data = EXCLUDED.data, pos_x = EXCLUDED.pos_x, pos_y = EXCLUDED.pos_y,
			     width = EXCLUDED.width, height = EXCLUDED.height, style = EXCLUDED.style,
			     version = EXCLUDED.version, base_version = EXCLUDED.base_version,
			     field_versions = EXCLUDED.field_versions, deleted = EXCLUDED.deleted, updated_at = EXCLUDED.updated_at
			 WHERE board_elements.version < EXCLUDED.version`,
			e.BoardID, e.ID, e.Type, e.Data, e.Position.X, e.Position.Y, width, height, nonNilMap(e.Style), e.CreatorID,
			e.Version, e.BaseVersion, nonNilMap(e.FieldVersions), e.Deleted, e.CreatedAt, e.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert element: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("canvasRepo.Commit: %w", err)
	}

	return nil
}

func (r *CanvasRepo) LoadElements(ctx context.Context, boardID uuid.UUID) ([]*domain.Element, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT board_id, id, type, data, pos_x, pos_y, width, height, style, creator_id,
		        version, base_version, field_versions, deleted, created_at, updated_at
		 FROM board_elements WHERE board_id = $1 ORDER BY created_at, id`,
		boardID,
	)
	if err != nil {
		return nil, fmt.Errorf("canvasRepo.LoadElements: %w", err)
	}
	defer rows.Close()

	var out []*domain.Element
	for rows.Next() {
		var (
			e             domain.Element
			width, height *float64
		)
		err := rows.Scan(&e.BoardID, &e.ID, &e.Type, &e.Data, &e.Position.X, &e.Position.Y, &width, &height, &e.Style,
			&e.CreatorID, &e.Version, &e.BaseVersion, &e.FieldVersions, &e.Deleted, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("canvasRepo.LoadElements: scan: %w", err)
		}
		if width != nil && height != nil {
			e.Size = &domain.Size{Width: *width, Height: *height}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("canvasRepo.LoadElements: rows: %w", err)
	}

	return out, nil
}

func (r *CanvasRepo) ListEvents(ctx context.Context, boardID uuid.UUID, afterSeq int64, limit int) ([]*domain.BoardEvent, error) {
	query := `SELECT board_id, seq, id, type, element_id, element_version, fields, element, actor_id, origin, request_id, created_at
		 FROM board_events WHERE board_id = $1 AND seq > $2 ORDER BY seq`
	args := []any{boardID, afterSeq}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("canvasRepo.ListEvents: %w", err)
	}
	defer rows.Close()

	var out []*domain.BoardEvent
	for rows.Next() {
		var ev domain.BoardEvent
		err := rows.Scan(&ev.BoardID, &ev.Seq, &ev.ID, &ev.Type, &ev.ElementID, &ev.ElementVersion, &ev.Fields,
			&ev.Element, &ev.ActorID, &ev.Origin, &ev.RequestID, &ev.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("canvasRepo.ListEvents: scan: %w", err)
		}
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("canvasRepo.ListEvents: rows: %w", err)
	}

	return out, nil
}

func (r *CanvasRepo) LastSeq(ctx context.Context, boardID uuid.UUID) (int64, error) {
	var seq int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM board_events WHERE board_id = $1`,
		boardID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("canvasRepo.LastSeq: %w", err)
	}

	return seq, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}
