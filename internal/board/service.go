// Package board manages boards and their collaborators and decides what role
// a caller holds on a board.
package board

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/inkboard/internal/domain"
)

const inviteCodeLength = 12

// RoomCloser stops live sync for a board that is going away.
type RoomCloser interface {
	CloseBoard(ctx context.Context, boardID uuid.UUID) error
}

// ActivitySource reports which users currently have a session on a board.
type ActivitySource interface {
	ActiveUsers(boardID uuid.UUID) map[uuid.UUID]bool
}

type Service struct {
	boards   domain.BoardRepository
	rooms    RoomCloser
	activity ActivitySource
}

func NewService(boards domain.BoardRepository, rooms RoomCloser, activity ActivitySource) *Service {
	return &Service{boards: boards, rooms: rooms, activity: activity}
}

// CreateInput carries the fields a caller may set on a new board.
type CreateInput struct {
	Name        string
	Visibility  domain.Visibility
	Permissions *domain.Permissions
}

// Create makes a board owned by the caller.
func (s *Service) Create(ctx context.Context, ident domain.Identity, in CreateInput) (*domain.Board, error) {
	perms := domain.DefaultPermissions()
	if in.Permissions != nil {
		perms = *in.Permissions
	}
	code, err := newInviteCode()
	if err != nil {
		return nil, fmt.Errorf("board.Service.Create: %w", err)
	}
	b, err := domain.NewBoard(ident.TenantID, ident.UserID, in.Name, in.Visibility, perms, code)
	if err != nil {
		return nil, fmt.Errorf("board.Service.Create: %w: %w", domain.ErrInvalidMutation, err)
	}
	owner := &domain.Collaborator{
		BoardID:     b.ID,
		UserID:      ident.UserID,
		DisplayName: ident.DisplayName,
		Role:        domain.RoleOwner,
		CreatedAt:   b.CreatedAt,
	}
	if err := s.boards.Create(ctx, b, owner); err != nil {
		return nil, fmt.Errorf("board.Service.Create: %w", err)
	}
	log.Info().Str("board_id", b.ID.String()).Str("owner_id", ident.UserID.String()).Msg("board created")
	return b, nil
}

// Authorize resolves the caller's role on a board. Members keep their stored
// role. Anyone presenting the board's invite code becomes an editor. Other
// callers may watch public boards and are refused private ones.
func (s *Service) Authorize(ctx context.Context, ident domain.Identity, boardID uuid.UUID, inviteCode string) (*domain.Board, domain.Role, error) {
	b, err := s.boards.GetByID(ctx, ident.TenantID, boardID)
	if err != nil {
		return nil, "", fmt.Errorf("board.Service.Authorize: %w", err)
	}
	if b.OwnerID == ident.UserID {
		return b, domain.RoleOwner, nil
	}

	c, err := s.boards.GetCollaborator(ctx, boardID, ident.UserID)
	switch {
	case err == nil:
		return b, c.Role, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, "", fmt.Errorf("board.Service.Authorize: %w", err)
	}

	if inviteCode != "" {
		if subtle.ConstantTimeCompare([]byte(inviteCode), []byte(b.InviteCode)) != 1 {
			return nil, "", fmt.Errorf("board.Service.Authorize: %w: %w", domain.ErrForbidden, domain.ErrInvalidInviteKey)
		}
		if err := s.addMember(ctx, b.ID, ident, domain.RoleEditor); err != nil {
			return nil, "", fmt.Errorf("board.Service.Authorize: %w", err)
		}
		return b, domain.RoleEditor, nil
	}

	if b.Visibility == domain.VisibilityPublic {
		return b, domain.RoleViewer, nil
	}
	return nil, "", fmt.Errorf("board.Service.Authorize: %w", domain.ErrForbidden)
}

// JoinByInvite adds the caller to the board behind an invite code.
func (s *Service) JoinByInvite(ctx context.Context, ident domain.Identity, code string) (*domain.Board, domain.Role, error) {
	b, err := s.boards.GetByInviteCode(ctx, ident.TenantID, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", fmt.Errorf("board.Service.JoinByInvite: %w", domain.ErrInvalidInviteKey)
		}
		return nil, "", fmt.Errorf("board.Service.JoinByInvite: %w", err)
	}
	return s.Authorize(ctx, ident, b.ID, code)
}

// Get returns the board and the caller's role, hiding the invite code from
// callers who may not invite.
func (s *Service) Get(ctx context.Context, ident domain.Identity, boardID uuid.UUID) (*domain.Board, domain.Role, error) {
	b, role, err := s.Authorize(ctx, ident, boardID, "")
	if err != nil {
		return nil, "", err
	}
	return Redact(b, role), role, nil
}

func (s *Service) ListForUser(ctx context.Context, ident domain.Identity) ([]*domain.Board, error) {
	boards, err := s.boards.ListForUser(ctx, ident.TenantID, ident.UserID)
	if err != nil {
		return nil, fmt.Errorf("board.Service.ListForUser: %w", err)
	}
	// Listing does not resolve member roles; only owners see invite codes here.
	for i, b := range boards {
		if b.OwnerID != ident.UserID {
			boards[i] = Redact(b, domain.RoleViewer)
		}
	}
	return boards, nil
}

// UpdateInput carries owner-editable board settings. Nil fields are kept.
type UpdateInput struct {
	Name        *string
	Visibility  *domain.Visibility
	Permissions *domain.Permissions
}

func (s *Service) Update(ctx context.Context, ident domain.Identity, boardID uuid.UUID, in UpdateInput) (*domain.Board, error) {
	b, err := s.ownedBoard(ctx, ident, boardID)
	if err != nil {
		return nil, fmt.Errorf("board.Service.Update: %w", err)
	}
	if in.Name != nil {
		if *in.Name == "" {
			return nil, fmt.Errorf("board.Service.Update: name is required: %w", domain.ErrInvalidMutation)
		}
		b.Name = *in.Name
	}
	if in.Visibility != nil {
		if *in.Visibility != domain.VisibilityPublic && *in.Visibility != domain.VisibilityPrivate {
			return nil, fmt.Errorf("board.Service.Update: visibility %q: %w", *in.Visibility, domain.ErrInvalidMutation)
		}
		b.Visibility = *in.Visibility
	}
	if in.Permissions != nil {
		b.Permissions = *in.Permissions
	}
	b.UpdatedAt = time.Now()
	if err := s.boards.Update(ctx, b); err != nil {
		return nil, fmt.Errorf("board.Service.Update: %w", err)
	}
	return b, nil
}

// RotateInvite replaces the invite code; the old one stops working.
func (s *Service) RotateInvite(ctx context.Context, ident domain.Identity, boardID uuid.UUID) (*domain.Board, error) {
	b, role, err := s.Authorize(ctx, ident, boardID, "")
	if err != nil {
		return nil, fmt.Errorf("board.Service.RotateInvite: %w", err)
	}
	if !role.CanInvite(b.Permissions) {
		return nil, fmt.Errorf("board.Service.RotateInvite: %w", domain.ErrForbidden)
	}
	code, err := newInviteCode()
	if err != nil {
		return nil, fmt.Errorf("board.Service.RotateInvite: %w", err)
	}
	b.InviteCode = code
	b.UpdatedAt = time.Now()
	if err := s.boards.Update(ctx, b); err != nil {
		return nil, fmt.Errorf("board.Service.RotateInvite: %w", err)
	}
	return b, nil
}

// Delete removes the board and everything on it. Owner only.
func (s *Service) Delete(ctx context.Context, ident domain.Identity, boardID uuid.UUID) error {
	if _, err := s.ownedBoard(ctx, ident, boardID); err != nil {
		return fmt.Errorf("board.Service.Delete: %w", err)
	}
	if err := s.rooms.CloseBoard(ctx, boardID); err != nil {
		log.Warn().Err(err).Str("board_id", boardID.String()).Msg("board delete: close room")
	}
	if err := s.boards.Delete(ctx, ident.TenantID, boardID); err != nil {
		return fmt.Errorf("board.Service.Delete: %w", err)
	}
	log.Info().Str("board_id", boardID.String()).Msg("board deleted")
	return nil
}

// Collaborators lists members with their live presence.
func (s *Service) Collaborators(ctx context.Context, boardID uuid.UUID) ([]*domain.Collaborator, error) {
	cs, err := s.boards.ListCollaborators(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("board.Service.Collaborators: %w", err)
	}
	if s.activity != nil {
		active := s.activity.ActiveUsers(boardID)
		for _, c := range cs {
			c.Active = active[c.UserID]
		}
	}
	return cs, nil
}

// SetCollaborator grants userID a role. Inviters may add editors and viewers;
// the owner's membership cannot be changed.
func (s *Service) SetCollaborator(ctx context.Context, ident domain.Identity, boardID, userID uuid.UUID, displayName string, role domain.Role) (*domain.Collaborator, error) {
	b, callerRole, err := s.Authorize(ctx, ident, boardID, "")
	if err != nil {
		return nil, fmt.Errorf("board.Service.SetCollaborator: %w", err)
	}
	if !callerRole.CanInvite(b.Permissions) {
		return nil, fmt.Errorf("board.Service.SetCollaborator: %w", domain.ErrForbidden)
	}
	if role != domain.RoleEditor && role != domain.RoleViewer {
		return nil, fmt.Errorf("board.Service.SetCollaborator: role %q: %w", role, domain.ErrInvalidMutation)
	}
	if userID == b.OwnerID {
		return nil, fmt.Errorf("board.Service.SetCollaborator: owner: %w", domain.ErrForbidden)
	}

	c := &domain.Collaborator{BoardID: boardID, UserID: userID, DisplayName: displayName, Role: role, CreatedAt: time.Now()}
	if err := s.boards.UpsertCollaborator(ctx, c); err != nil {
		return nil, fmt.Errorf("board.Service.SetCollaborator: %w", err)
	}
	return c, nil
}

// RemoveCollaborator drops a member. The owner may remove anyone but
// themselves; other members may only remove themselves.
func (s *Service) RemoveCollaborator(ctx context.Context, ident domain.Identity, boardID, userID uuid.UUID) error {
	b, role, err := s.Authorize(ctx, ident, boardID, "")
	if err != nil {
		return fmt.Errorf("board.Service.RemoveCollaborator: %w", err)
	}
	if userID == b.OwnerID || (role != domain.RoleOwner && userID != ident.UserID) {
		return fmt.Errorf("board.Service.RemoveCollaborator: %w", domain.ErrForbidden)
	}
	if err := s.boards.RemoveCollaborator(ctx, boardID, userID); err != nil {
		return fmt.Errorf("board.Service.RemoveCollaborator: %w", err)
	}
	return nil
}

func (s *Service) ownedBoard(ctx context.Context, ident domain.Identity, boardID uuid.UUID) (*domain.Board, error) {
	b, err := s.boards.GetByID(ctx, ident.TenantID, boardID)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != ident.UserID {
		return nil, domain.ErrForbidden
	}
	return b, nil
}

func (s *Service) addMember(ctx context.Context, boardID uuid.UUID, ident domain.Identity, role domain.Role) error {
	return s.boards.UpsertCollaborator(ctx, &domain.Collaborator{
		BoardID:     boardID,
		UserID:      ident.UserID,
		DisplayName: ident.DisplayName,
		Role:        role,
		CreatedAt:   time.Now(),
	})
}

// Redact hides the invite code from roles that cannot invite.
func Redact(b *domain.Board, role domain.Role) *domain.Board {
	if role.CanInvite(b.Permissions) {
		return b
	}
	cp := *b
	cp.InviteCode = ""
	return &cp
}

func newInviteCode() (string, error) {
	code, err := gonanoid.New(inviteCodeLength)
	if err != nil {
		return "", fmt.Errorf("invite code: %w", err)
	}
	return code, nil
}
