package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hscopalm/shareable-wishlists/internal/models"
)

var (
	// ErrNotFound is returned when a targeted row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("already exists")
)

// UserRepository defines the interface for user data operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	Update(ctx context.Context, user *models.User) (*models.User, error)
}

// WishListRepository defines the interface for wish list operations.
//
// Lookups return (nil, nil) when nothing matches. Item updates never touch
// claim state; claims change only through ConditionalSetClaim.
type WishListRepository interface {
	CreateList(ctx context.Context, list *models.WishList) (*models.WishList, error)
	GetList(ctx context.Context, id string) (*models.WishList, error)
	ListsByOwner(ctx context.Context, ownerID string) ([]*models.WishList, error)
	ListsSharedWith(ctx context.Context, viewerID string) ([]*models.WishList, error)
	UpdateList(ctx context.Context, list *models.WishList) (*models.WishList, error)
	DeleteList(ctx context.Context, id string) error

	AddItem(ctx context.Context, item *models.Item) (*models.Item, error)
	UpdateItem(ctx context.Context, item *models.Item) (*models.Item, error)
	DeleteItem(ctx context.Context, listID, itemID string) error

	AddViewer(ctx context.Context, listID, userID string) error
	RemoveViewer(ctx context.Context, listID, userID string) error

	// FindSharedList returns the list with its items only when viewerID is
	// in its shared set. A missing list and a non-member look the same.
	FindSharedList(ctx context.Context, listID, viewerID string) (*models.WishList, error)

	// ConditionalSetClaim atomically replaces the claim on one item, but only
	// if its current claimant equals expectedClaimantID ("" meaning
	// unclaimed) and, when next is non-nil, next.ClaimantID is still a viewer
	// of the list. It reports false without mutating anything when the
	// condition no longer holds.
	ConditionalSetClaim(ctx context.Context, listID, itemID, expectedClaimantID string, next *models.Claim) (bool, error)
}

// ShareRepository defines the interface for invites to emails without an
// account.
type ShareRepository interface {
	CreatePending(ctx context.Context, share *models.PendingShare) (*models.PendingShare, error)
	PendingByEmail(ctx context.Context, email string) ([]*models.PendingShare, error)
	PendingByList(ctx context.Context, listID string) ([]*models.PendingShare, error)
	DeletePending(ctx context.Context, listID, email string) error
	DeleteExpiredPending(ctx context.Context, olderThan time.Time) (int64, error)
}
