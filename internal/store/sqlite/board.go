package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/gosuda/inkboard/internal/domain"
)

type BoardRepo struct {
	db *sql.DB
}

const boardColumns = `id, tenant_id, name, owner_id, visibility, invite_code, permissions, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBoard(row scanner) (*domain.Board, error) {
	var (
		b                domain.Board
		perms            string
		created, updated int64
	)
	err := row.Scan(&b.ID, &b.TenantID, &b.Name, &b.OwnerID, &b.Visibility, &b.InviteCode, &perms, &created, &updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(perms), &b.Permissions); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	b.CreatedAt, b.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return &b, nil
}

func constraintCode(err error) int {
	var sqlErr *sqlitedrv.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code()
	}
	return 0
}

func (r *BoardRepo) Create(ctx context.Context, b *domain.Board, owner *domain.Collaborator) error {
	perms, err := jsonText(b.Permissions)
	if err != nil {
		return fmt.Errorf("boardRepo.Create: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("boardRepo.Create: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO boards (`+boardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.TenantID, b.Name, b.OwnerID, b.Visibility, b.InviteCode, perms, unixNano(b.CreatedAt), unixNano(b.UpdatedAt),
	)
	if err != nil {
		if constraintCode(err) == sqlite3.SQLITE_CONSTRAINT_UNIQUE || constraintCode(err) == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return fmt.Errorf("boardRepo.Create: %w", domain.ErrConflict)
		}
		return fmt.Errorf("boardRepo.Create: %w", err)
	}
	if owner != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO board_collaborators (board_id, user_id, display_name, role, created_at) VALUES (?, ?, ?, ?, ?)`,
			owner.BoardID, owner.UserID, owner.DisplayName, owner.Role, unixNano(owner.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("boardRepo.Create: owner: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("boardRepo.Create: commit: %w", err)
	}
	return nil
}

func (r *BoardRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Board, error) {
	b, err := scanBoard(r.db.QueryRowContext(ctx,
		`SELECT `+boardColumns+` FROM boards WHERE tenant_id = ? AND id = ?`,
		tenantID, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("boardRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("boardRepo.GetByID: %w", err)
	}
	return b, nil
}

func (r *BoardRepo) GetByInviteCode(ctx context.Context, tenantID uuid.UUID, code string) (*domain.Board, error) {
	b, err := scanBoard(r.db.QueryRowContext(ctx,
		`SELECT `+boardColumns+` FROM boards WHERE tenant_id = ? AND invite_code = ?`,
		tenantID, code,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("boardRepo.GetByInviteCode: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("boardRepo.GetByInviteCode: %w", err)
	}
	return b, nil
}

func (r *BoardRepo) ListForUser(ctx context.Context, tenantID, userID uuid.UUID) ([]*domain.Board, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT b.id, b.tenant_id, b.name, b.owner_id, b.visibility, b.invite_code, b.permissions, b.created_at, b.updated_at
		 FROM boards b
		 JOIN board_collaborators c ON c.board_id = b.id
		 WHERE b.tenant_id = ? AND c.user_id = ?
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
	perms, err := jsonText(b.Permissions)
	if err != nil {
		return fmt.Errorf("boardRepo.Update: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE boards SET name = ?, visibility = ?, invite_code = ?, permissions = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		b.Name, b.Visibility, b.InviteCode, perms, unixNano(b.UpdatedAt), b.TenantID, b.ID,
	)
	if err != nil {
		if constraintCode(err) == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return fmt.Errorf("boardRepo.Update: %w", domain.ErrConflict)
		}
		return fmt.Errorf("boardRepo.Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("boardRepo.Update: %w", domain.ErrNotFound)
	}
	return nil
}

// Delete relies on ON DELETE CASCADE for collaborators, elements and events.
func (r *BoardRepo) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM boards WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("boardRepo.Delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("boardRepo.Delete: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *BoardRepo) UpsertCollaborator(ctx context.Context, c *domain.Collaborator) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO board_collaborators (board_id, user_id, display_name, role, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (board_id, user_id) DO UPDATE SET display_name = excluded.display_name, role = excluded.role`,
		c.BoardID, c.UserID, c.DisplayName, c.Role, unixNano(c.CreatedAt),
	)
	if err != nil {
		if constraintCode(err) == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
			return fmt.Errorf("boardRepo.UpsertCollaborator: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("boardRepo.UpsertCollaborator: %w", err)
	}
	return nil
}

func scanCollaborator(row scanner) (*domain.Collaborator, error) {
	var (
		c       domain.Collaborator
		created int64
	)
	if err := row.Scan(&c.BoardID, &c.UserID, &c.DisplayName, &c.Role, &created); err != nil {
		return nil, err
	}
	c.CreatedAt = fromUnixNano(created)
	return &c, nil
}

func (r *BoardRepo) GetCollaborator(ctx context.Context, boardID, userID uuid.UUID) (*domain.Collaborator, error) {
	c, err := scanCollaborator(r.db.QueryRowContext(ctx,
		`SELECT board_id, user_id, display_name, role, created_at
		 FROM board_collaborators WHERE board_id = ? AND user_id = ?`,
		boardID, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("boardRepo.GetCollaborator: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("boardRepo.GetCollaborator: %w", err)
	}
	return c, nil
}

func (r *BoardRepo) ListCollaborators(ctx context.Context, boardID uuid.UUID) ([]*domain.Collaborator, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT board_id, user_id, display_name, role, created_at
		 FROM board_collaborators WHERE board_id = ? ORDER BY created_at`,
		boardID,
	)
	if err != nil {
		return nil, fmt.Errorf("boardRepo.ListCollaborators: %w", err)
	}
	defer rows.Close()

	var out []*domain.Collaborator
	for rows.Next() {
		c, err := scanCollaborator(rows)
		if err != nil {
			return nil, fmt.Errorf("boardRepo.ListCollaborators: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("boardRepo.ListCollaborators: rows: %w", err)
	}
	return out, nil
}

func (r *BoardRepo) RemoveCollaborator(ctx context.Context, boardID, userID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM board_collaborators WHERE board_id = ? AND user_id = ?`,
		boardID, userID,
	)
	if err != nil {
		return fmt.Errorf("boardRepo.RemoveCollaborator: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("boardRepo.RemoveCollaborator: %w", domain.ErrNotFound)
	}
	return nil
}
