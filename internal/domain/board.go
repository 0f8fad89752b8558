package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleEditor || r == RoleViewer
}

// Permissions are board-wide switches for what editors may do. Owners are
// never restricted; viewers can only watch and move their cursor.
type Permissions struct {
	Edit   bool `json:"edit"`
	Invite bool `json:"invite"`
	Delete bool `json:"delete"`
	Export bool `json:"export"`
}

// DefaultPermissions lets editors do everything but delete the board itself.
func DefaultPermissions() Permissions {
	return Permissions{Edit: true, Invite: true, Delete: true, Export: true}
}

func (r Role) CanEdit(p Permissions) bool {
	return r == RoleOwner || (r == RoleEditor && p.Edit)
}

func (r Role) CanDeleteElements(p Permissions) bool {
	return r == RoleOwner || (r == RoleEditor && p.Edit && p.Delete)
}

func (r Role) CanInvite(p Permissions) bool {
	return r == RoleOwner || (r == RoleEditor && p.Invite)
}

func (r Role) CanExport(p Permissions) bool {
	return r == RoleOwner || (r == RoleEditor && p.Export)
}

type Board struct {
	ID          uuid.UUID   `json:"id"`
	TenantID    uuid.UUID   `json:"tenant_id"`
	Name        string      `json:"name"`
	OwnerID     uuid.UUID   `json:"owner_id"`
	Visibility  Visibility  `json:"visibility"`
	InviteCode  string      `json:"invite_code,omitempty"`
	Permissions Permissions `json:"permissions"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NewBoard creates a Board with validated required fields and defaults.
func NewBoard(tenantID, ownerID uuid.UUID, name string, visibility Visibility, perms Permissions, inviteCode string) (*Board, error) {
	if tenantID == uuid.Nil {
		return nil, errors.New("board: tenant ID is required")
	}
	if ownerID == uuid.Nil {
		return nil, errors.New("board: owner ID is required")
	}
	if name == "" {
		return nil, errors.New("board: name is required")
	}
	if visibility == "" {
		visibility = VisibilityPrivate
	}
	if visibility != VisibilityPublic && visibility != VisibilityPrivate {
		return nil, errors.New("board: visibility must be public or private")
	}
	if inviteCode == "" {
		return nil, errors.New("board: invite code is required")
	}
	now := time.Now()
	return &Board{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Name:        name,
		OwnerID:     ownerID,
		Visibility:  visibility,
		InviteCode:  inviteCode,
		Permissions: perms,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Collaborator is a durable board membership. Active is filled from presence
// and never stored.
type Collaborator struct {
	BoardID     uuid.UUID `json:"board_id"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type BoardRepository interface {
	Create(ctx context.Context, b *Board, owner *Collaborator) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Board, error)
	GetByInviteCode(ctx context.Context, tenantID uuid.UUID, code string) (*Board, error)
	ListForUser(ctx context.Context, tenantID, userID uuid.UUID) ([]*Board, error)
	Update(ctx context.Context, b *Board) error
	// Delete removes the board together with its elements, events and
	// collaborators.
	Delete(ctx context.Context, tenantID, id uuid.UUID) error

	UpsertCollaborator(ctx context.Context, c *Collaborator) error
	GetCollaborator(ctx context.Context, boardID, userID uuid.UUID) (*Collaborator, error)
	ListCollaborators(ctx context.Context, boardID uuid.UUID) ([]*Collaborator, error)
	RemoveCollaborator(ctx context.Context, boardID, userID uuid.UUID) error
}

// Identity is the verified caller handed over by the identity service.
type Identity struct {
	TenantID    uuid.UUID
	UserID      uuid.UUID
	DisplayName string
}
