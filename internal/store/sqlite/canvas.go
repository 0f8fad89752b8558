package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/gosuda/inkboard/internal/domain"
)

type CanvasRepo struct {
	db *sql.DB
}

func (r *CanvasRepo) Commit(ctx context.Context, e *domain.Element, ev *domain.BoardEvent) error {
	fields, err := jsonText(nonNil(ev.Fields))
	if err != nil {
		return fmt.Errorf("canvasRepo.Commit: %w", err)
	}
	element, err := jsonText(ev.Element)
	if err != nil {
		return fmt.Errorf("canvasRepo.Commit: %w", err)
	}
	style, err := jsonText(nonNilMap(e.Style))
	if err != nil {
		return fmt.Errorf("canvasRepo.Commit: %w", err)
	}
	fieldVersions, err := jsonText(nonNilMap(e.FieldVersions))
	if err != nil {
		return fmt.Errorf("canvasRepo.Commit: %w", err)
	}
	var width, height *float64
	if e.Size != nil {
		width, height = &e.Size.Width, &e.Size.Height
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("canvasRepo.Commit: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO board_events (board_id, seq, id, type, element_id, element_version, fields, element, actor_id, origin, request_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (board_id, seq) DO NOTHING`,
		ev.BoardID, ev.Seq, ev.ID, ev.Type, ev.ElementID, ev.ElementVersion, fields, element,
		ev.ActorID, ev.Origin, ev.RequestID, unixNano(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("canvasRepo.Commit: insert event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Replay of a stored commit.
		return nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO board_elements (board_id, id, type, data, pos_x, pos_y, width, height, style, creator_id,
		                             version, base_version, field_versions, deleted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (board_id, id) DO UPDATE SET
		     type = excluded.type, data = excluded.data, pos_x = excluded.pos_x, pos_y = excluded.pos_y,
		     width = excluded.width, height = excluded.height, style = excluded.style,
		     version = excluded.version, base_version = excluded.base_version,
		     field_versions = excluded.field_versions, deleted = excluded.deleted, updated_at = excluded.updated_at
		 WHERE board_elements.version < excluded.version`,
		e.BoardID, e.ID, e.Type, string(e.Data), e.Position.X, e.Position.Y, width, height, style, e.CreatorID,
		e.Version, e.BaseVersion, fieldVersions, e.Deleted, unixNano(e.CreatedAt), unixNano(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("canvasRepo.Commit: upsert element: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("canvasRepo.Commit: commit: %w", err)
	}
	return nil
}

func (r *CanvasRepo) LoadElements(ctx context.Context, boardID uuid.UUID) ([]*domain.Element, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT board_id, id, type, data, pos_x, pos_y, width, height, style, creator_id,
		        version, base_version, field_versions, deleted, created_at, updated_at
		 FROM board_elements WHERE board_id = ? ORDER BY created_at, id`,
		boardID,
	)
	if err != nil {
		return nil, fmt.Errorf("canvasRepo.LoadElements: %w", err)
	}
	defer rows.Close()

	var out []*domain.Element
	for rows.Next() {
		var (
			e                domain.Element
			data, style, fv  string
			width, height    sql.NullFloat64
			created, updated int64
		)
		err := rows.Scan(&e.BoardID, &e.ID, &e.Type, &data, &e.Position.X, &e.Position.Y, &width, &height, &style,
			&e.CreatorID, &e.Version, &e.BaseVersion, &fv, &e.Deleted, &created, &updated)
		if err != nil {
			return nil, fmt.Errorf("canvasRepo.LoadElements: scan: %w", err)
		}
		if data != "" {
			e.Data = json.RawMessage(data)
		}
		if err := json.Unmarshal([]byte(style), &e.Style); err != nil {
			return nil, fmt.Errorf("canvasRepo.LoadElements: style: %w", err)
		}
		if err := json.Unmarshal([]byte(fv), &e.FieldVersions); err != nil {
			return nil, fmt.Errorf("canvasRepo.LoadElements: field versions: %w", err)
		}
		if width.Valid && height.Valid {
			e.Size = &domain.Size{Width: width.Float64, Height: height.Float64}
		}
		e.CreatedAt, e.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("canvasRepo.LoadElements: rows: %w", err)
	}
	return out, nil
}

func (r *CanvasRepo) ListEvents(ctx context.Context, boardID uuid.UUID, afterSeq int64, limit int) ([]*domain.BoardEvent, error) {
	query := `SELECT board_id, seq, id, type, element_id, element_version, fields, element, actor_id, origin, request_id, created_at
		 FROM board_events WHERE board_id = ? AND seq > ? ORDER BY seq`
	args := []any{boardID, afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("canvasRepo.ListEvents: %w", err)
	}
	defer rows.Close()

	var out []*domain.BoardEvent
	for rows.Next() {
		var (
			ev              domain.BoardEvent
			fields, element string
			created         int64
		)
		err := rows.Scan(&ev.BoardID, &ev.Seq, &ev.ID, &ev.Type, &ev.ElementID, &ev.ElementVersion, &fields,
			&element, &ev.ActorID, &ev.Origin, &ev.RequestID, &created)
		if err != nil {
			return nil, fmt.Errorf("canvasRepo.ListEvents: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &ev.Fields); err != nil {
			return nil, fmt.Errorf("canvasRepo.ListEvents: fields: %w", err)
		}
		if err := json.Unmarshal([]byte(element), &ev.Element); err != nil {
			return nil, fmt.Errorf("canvasRepo.ListEvents: element: %w", err)
		}
		ev.CreatedAt = fromUnixNano(created)
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("canvasRepo.ListEvents: rows: %w", err)
	}
	return out, nil
}

func (r *CanvasRepo) LastSeq(ctx context.Context, boardID uuid.UUID) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM board_events WHERE board_id = ?`,
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
