package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/inkboard/internal/domain"
)

const uniqueViolation = "23505"

type BoardRepo struct {
	pool *pgxpool.Pool
}

func NewBoardRepo(pool *pgxpool.Pool) *BoardRepo {
	return &BoardRepo{pool: pool}
}

const boardColumns = `id, tenant_id, name, owner_id, visibility, invite_code, permissions, created_at, updated_at`

func scanBoard(row pgx.Row) (*domain.Board, error) {
	var b domain.Board
	err := row.Scan(&b.ID, &b.TenantID, &b.Name, &b.OwnerID, &b.Visibility, &b.InviteCode, &b.Permissions, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BoardRepo) Create(ctx context.Context, b *domain.Board, owner *domain.Collaborator) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO boards (`+boardColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			b.ID, b.TenantID, b.Name, b.OwnerID, b.Visibility, b.InviteCode, b.Permissions, b.CreatedAt, b.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if owner == nil {
			return nil
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO board_collaborators (board_id, user_id, display_name, role, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			owner.BoardID, owner.UserID, owner.DisplayName, owner.Role, owner.CreatedAt,
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("boardRepo.Create: %w", domain.ErrConflict)
		}
		return fmt.Errorf("boardRepo.Create: %w", err)
	}

	return nil
}

func (r *BoardRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Board, error) {
	b, err := scanBoard(r.pool.QueryRow(ctx,
		`SELECT `+boardColumns+` FROM boards WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("boardRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("boardRepo.GetByID: %w", err)
	}

	return b, nil
}

func (r *BoardRepo) GetByInviteCode(ctx context.Context, tenantID uuid.UUID, code string) (*domain.Board, error) {
	b, err := scanBoard(r.pool.QueryRow(ctx,
		`SELECT `+boardColumns+` FROM boards WHERE tenant_id = $1 AND invite_code = $2`,
		tenantID, code,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("boardRepo.GetByInviteCode: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("boardRepo.GetByInviteCode: %w", err)
	}

	return b, nil
}

func (r *BoardRepo) ListForUser(ctx context.Context, tenantID, userID uuid.UUID) ([]*domain.Board, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT b.id, b.tenant_id, b.name, b.owner_id, b.visibility, b.invite_code, b.permissions, b.created_at, b.updated_at
		 FROM boards b
		 JOIN board_collaborators c ON c.board_id = b.id
		 WHERE b.tenant_id = $1 AND c.user_id = $2
		 ORDER BY b.created_at DESC`,
		tenantID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("boardRepo.ListForUser: %w", err)
	}
	defer rows.Close()

	var boards []*domain.Board
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("boardRepo.ListForUser: scan: %w", err)
		}
		boards = append(boards, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("boardRepo.ListForUser: rows: %w", err)
	}

	return boards, nil
}

func (r *BoardRepo) Update(ctx context.Context, b *domain.Board) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE boards SET name = $1, visibility = $2, invite_code = $3, permissions = $4, updated_at = $5
		 WHERE tenant_id = $6 AND id = $7`,
		b.Name, b.Visibility, b.InviteCode, b.Permissions, b.UpdatedAt, b.TenantID, b.ID,
	)
	if err != nil {
		return fmt.Errorf("boardRepo.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("boardRepo.Update: %w", domain.ErrNotFound)
	}

	return nil
}

// Delete relies on ON DELETE CASCADE for collaborators, elements and events.
func (r *BoardRepo) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM boards WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("boardRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("boardRepo.Delete: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *BoardRepo) UpsertCollaborator(ctx context.Context, c *domain.Collaborator) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO board_collaborators (board_id, user_id, display_name, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (board_id, user_id) DO UPDATE SET display_name = EXCLUDED.display_name, role = EXCLUDED.role`,
		c.BoardID, c.UserID, c.DisplayName, c.Role, c.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("boardRepo.UpsertCollaborator: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("boardRepo.UpsertCollaborator: %w", err)
	}

	return nil
}

func (r *BoardRepo) GetCollaborator(ctx context.Context, boardID, userID uuid.UUID) (*domain.Collaborator, error) {
	var c domain.Collaborator

	err := r.pool.QueryRow(ctx,
		`SELECT board_id, user_id, display_name, role, created_at
		 FROM board_collaborators WHERE board_id = $1 AND user_id = $2`,
		boardID, userID,
	).Scan(&c.BoardID, &c.UserID, &c.DisplayName, &c.Role, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("boardRepo.GetCollaborator: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("boardRepo.GetCollaborator: %w", err)
	}

	return &c, nil
}

func (r *BoardRepo) ListCollaborators(ctx context.Context, boardID uuid.UUID) ([]*domain.Collaborator, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT board_id, user_id, display_name, role, created_at
		 FROM board_collaborators WHERE board_id = $1 ORDER BY created_at`,
		boardID,
	)
	if err != nil {
		return nil, fmt.Errorf("boardRepo.ListCollaborators: %w", err)
	}
	defer rows.Close()

	var out []*domain.Collaborator
	for rows.Next() {
		var c domain.Collaborator
		if err := rows.Scan(&c.BoardID, &c.UserID, &c.DisplayName, &c.Role, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("boardRepo.ListCollaborators: scan: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("boardRepo.ListCollaborators: rows: %w", err)
	}

	return out, nil
}

func (r *BoardRepo) RemoveCollaborator(ctx context.Context, boardID, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM board_collaborators WHERE board_id = $1 AND user_id = $2`,
		boardID, userID,
	)
	if err != nil {
		return fmt.Errorf("boardRepo.RemoveCollaborator: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("boardRepo.RemoveCollaborator: %w", domain.ErrNotFound)
	}

	return nil
}
