package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hscopalm/shareable-wishlists/internal/models"
	"github.com/hscopalm/shareable-wishlists/internal/repository"
)

// Service is the central business logic layer that holds all repositories
// and provides high-level methods for the application.
type Service struct {
	logger *logrus.Logger
	Users  repository.UserRepository
	Lists  repository.WishListRepository
	Shares repository.ShareRepository
	Claims *ClaimCoordinator
	now    func() time.Time
}

// New creates a new Service with all required dependencies.
func New(logger *logrus.Logger,
	users repository.UserRepository,
	lists repository.WishListRepository,
	shares repository.ShareRepository,
	claims *ClaimCoordinator,
) *Service {
	return &Service{
		logger: logger,
		Users:  users, Lists: lists, Shares: shares,
		Claims: claims,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ToggleClaim delegates to the claim coordinator.
func (s *Service) ToggleClaim(ctx context.Context, listID, itemID, userID string) (*models.ClaimResult, error) {
	return s.Claims.ToggleClaim(ctx, listID, itemID, userID)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// EnsureUser retrieves an existing user by email, or creates a new one if not
// found. A changed display name is written back. Any pending invites for the
// email are converted into viewer memberships.
func (s *Service) EnsureUser(ctx context.Context, email, name string) (*models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)

	user, err := s.Users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup user (email=%s): %w", email, err)
	}

	if user == nil {
		user, err = s.Users.Create(ctx, &models.User{Email: email, Name: name})
		if errors.Is(err, repository.ErrDuplicate) {
			// Lost a sign-up race with a concurrent request for the same email.
			user, err = s.Users.GetByEmail(ctx, email)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create user (email=%s): %w", email, err)
		}
		s.logger.Infof("Created new user: %s (id=%s)", user.DisplayName(), user.ID)
	} else if name != "" && user.Name != name {
		user.Name = name
		user, err = s.Users.Update(ctx, user)
		if err != nil {
			return nil, fmt.Errorf("failed to update user %s: %w", email, err)
		}
		s.logger.Infof("Updated user profile: %s (id=%s)", user.DisplayName(), user.ID)
	}

	if err := s.convertPendingShares(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// convertPendingShares turns every invite addressed to the user's email into
// a viewer membership and removes the invite.
func (s *Service) convertPendingShares(ctx context.Context, user *models.User) error {
	pending, err := s.Shares.PendingByEmail(ctx, user.Email)
	if err != nil {
		return fmt.Errorf("failed to get pending shares for %s: %w", user.Email, err)
	}

	for _, p := range pending {
		if p.OwnerID != user.ID {
			err := s.Lists.AddViewer(ctx, p.ListID, user.ID)
			if err != nil && !errors.Is(err, repository.ErrDuplicate) && !errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("failed to convert pending share for list %s: %w", p.ListID, err)
			}
		}
		if err := s.Shares.DeletePending(ctx, p.ListID, p.Email); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to delete pending share for list %s: %w", p.ListID, err)
		}
		s.logger.WithFields(logrus.Fields{
			"list_id": p.ListID,
			"user_id": user.ID,
		}).Info("Converted pending share")
	}
	return nil
}

// GetUser returns the user with the given id.
func (s *Service) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup user %s: %w", userID, err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// LinkTelegram attaches a Telegram account to an existing user.
func (s *Service) LinkTelegram(ctx context.Context, userID string, telegramID int64) (*models.User, error) {
	if telegramID == 0 {
		return nil, fmt.Errorf("%w: telegram_id is required", ErrInvalidInput)
	}
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.TelegramID = &telegramID
	user, err = s.Users.Update(ctx, user)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, fmt.Errorf("%w: telegram account is linked to another user", ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to link telegram for user %s: %w", userID, err)
	}
	return user, nil
}

// UserByTelegramID resolves a bot caller.
func (s *Service) UserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	user, err := s.Users.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup user (telegram_id=%d): %w", telegramID, err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ---------------------------------------------------------------------------
// Lists and items
// ---------------------------------------------------------------------------

// CreateList creates an empty list owned by ownerID.
func (s *Service) CreateList(ctx context.Context, ownerID, name, description string, eventDate *time.Time) (*models.WishList, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if _, err := s.GetUser(ctx, ownerID); err != nil {
		return nil, err
	}

	list, err := s.Lists.CreateList(ctx, &models.WishList{
		OwnerID:     ownerID,
		Name:        name,
		Description: strings.TrimSpace(description),
		EventDate:   eventDate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create list: %w", err)
	}
	return list, nil
}

// ownedList loads a list and checks that ownerID owns it.
func (s *Service) ownedList(ctx context.Context, ownerID, listID string) (*models.WishList, error) {
	list, err := s.Lists.GetList(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to get list %s: %w", listID, err)
	}
	if list == nil || list.OwnerID != ownerID {
		return nil, ErrListNotFound
	}
	return list, nil
}

// UpdateList changes the name, description and event date of an owned list.
func (s *Service) UpdateList(ctx context.Context, ownerID, listID, name, description string, eventDate *time.Time) (*models.WishList, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	list, err := s.ownedList(ctx, ownerID, listID)
	if err != nil {
		return nil, err
	}
	list.Name = name
	list.Description = strings.TrimSpace(description)
	list.EventDate = eventDate

	updated, err := s.Lists.UpdateList(ctx, list)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrListNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update list %s: %w", listID, err)
	}
	for i := range updated.Items {
		updated.Items[i].Claim = nil
	}
	return updated, nil
}

// DeleteList removes an owned list with all of its items and claims.
func (s *Service) DeleteList(ctx context.Context, ownerID, listID string) error {
	if _, err := s.ownedList(ctx, ownerID, listID); err != nil {
		return err
	}
	err := s.Lists.DeleteList(ctx, listID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrListNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete list %s: %w", listID, err)
	}
	s.logger.WithFields(logrus.Fields{"list_id": listID, "owner_id": ownerID}).Info("List deleted")
	return nil
}

// ListsOwnedBy returns the caller's own lists with claims stripped.
func (s *Service) ListsOwnedBy(ctx context.Context, ownerID string) ([]*models.WishList, error) {
	lists, err := s.Lists.ListsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get lists for %s: %w", ownerID, err)
	}
	for _, l := range lists {
		for i := range l.Items {
			l.Items[i].Claim = nil
		}
	}
	return lists, nil
}

// ListsSharedWith returns the lists viewerID may see and claim in.
func (s *Service) ListsSharedWith(ctx context.Context, viewerID string) ([]*models.WishList, error) {
	lists, err := s.Lists.ListsSharedWith(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get shared lists for %s: %w", viewerID, err)
	}
	for _, l := range lists {
		owner, err := s.Users.GetByID(ctx, l.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("failed to get owner of list %s: %w", l.ID, err)
		}
		l.Owner = owner
		l.SharedWith = nil
	}
	return lists, nil
}

// ViewList renders a list for viewerID. The owner sees no claim information;
// a shared viewer sees claims and which ones are their own. Anyone else gets
// ErrNotFoundOrNotShared.
func (s *Service) ViewList(ctx context.Context, viewerID, listID string) (*models.ListView, error) {
	list, err := s.Lists.GetList(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to get list %s: %w", listID, err)
	}
	if list == nil {
		return nil, ErrNotFoundOrNotShared
	}

	isOwner := list.OwnerID == viewerID
	if !isOwner && !list.IsSharedWith(viewerID) {
		return nil, ErrNotFoundOrNotShared
	}

	owner, err := s.Users.GetByID(ctx, list.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get owner of list %s: %w", listID, err)
	}
	list.Owner = owner

	view := &models.ListView{
		List:     list,
		Items:    make([]models.ItemView, 0, len(list.Items)),
		IsShared: !isOwner,
		Archived: list.IsArchived(s.now()),
	}
	for _, item := range list.Items {
		iv := models.ItemView{Item: item}
		if isOwner {
			iv.Claim = nil
		} else {
			iv.Claimed = item.Claim != nil
			iv.ClaimedByMe = item.ClaimedBy(viewerID)
		}
		view.Items = append(view.Items, iv)
	}
	list.Items = nil
	if !isOwner {
		// Viewers do not learn who else the list is shared with.
		list.SharedWith = nil
	}
	return view, nil
}

// ItemInput carries the editable fields of an item.
type ItemInput struct {
	Title       string
	Description string
	Link        string
	Price       *float64
	Priority    *int
}

func (in ItemInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.Priority != nil && (*in.Priority < models.MinPriority || *in.Priority > models.MaxPriority) {
		return fmt.Errorf("%w: priority must be between %d and %d", ErrInvalidInput, models.MinPriority, models.MaxPriority)
	}
	if in.Price != nil && *in.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}
	return nil
}

func (in ItemInput) apply(item *models.Item) {
	item.Title = strings.TrimSpace(in.Title)
	item.Description = strings.TrimSpace(in.Description)
	item.Link = strings.TrimSpace(in.Link)
	item.Price = in.Price
	item.Priority = in.Priority
}

// AddItem appends an unclaimed item to an owned list.
func (s *Service) AddItem(ctx context.Context, ownerID, listID string, in ItemInput) (*models.Item, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := s.ownedList(ctx, ownerID, listID); err != nil {
		return nil, err
	}

	item := &models.Item{ListID: listID}
	in.apply(item)

	created, err := s.Lists.AddItem(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("failed to add item to list %s: %w", listID, err)
	}
	return created, nil
}

// UpdateItem edits an item of an owned list. The claim is left untouched.
// The returned item carries no claim since owners never see claims.
func (s *Service) UpdateItem(ctx context.Context, ownerID, listID, itemID string, in ItemInput) (*models.Item, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	list, err := s.ownedList(ctx, ownerID, listID)
	if err != nil {
		return nil, err
	}
	if list.Item(itemID) == nil {
		return nil, ErrItemNotFound
	}

	item := &models.Item{ID: itemID, ListID: listID}
	in.apply(item)

	updated, err := s.Lists.UpdateItem(ctx, item)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update item %s: %w", itemID, err)
	}
	updated.Claim = nil
	return updated, nil
}

// DeleteItem removes an item, and its claim, from an owned list.
func (s *Service) DeleteItem(ctx context.Context, ownerID, listID, itemID string) error {
	if _, err := s.ownedList(ctx, ownerID, listID); err != nil {
		return err
	}
	err := s.Lists.DeleteItem(ctx, listID, itemID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrItemNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete item %s: %w", itemID, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Sharing
// ---------------------------------------------------------------------------

// ShareResult reports what ShareList did: either a viewer was added or an
// invite is pending until the email signs up.
type ShareResult struct {
	Viewer  *models.User         `json:"viewer,omitempty"`
	Pending *models.PendingShare `json:"pending,omitempty"`
}

// ShareList gives the user with the given email access to an owned list. If
// no account exists for the email the share is kept pending.
func (s *Service) ShareList(ctx context.Context, ownerID, listID, email string) (*ShareResult, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	list, err := s.ownedList(ctx, ownerID, listID)
	if err != nil {
		return nil, err
	}
	owner, err := s.GetUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if owner.Email == email {
		return nil, ErrShareWithSelf
	}

	log := s.logger.WithFields(logrus.Fields{"list_id": listID, "owner_id": ownerID})

	viewer, err := s.Users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup user (email=%s): %w", email, err)
	}

	if viewer != nil {
		if list.IsSharedWith(viewer.ID) {
			return nil, ErrAlreadyShared
		}
		err := s.Lists.AddViewer(ctx, listID, viewer.ID)
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAlreadyShared
		}
		if err != nil {
			return nil, fmt.Errorf("failed to share list %s: %w", listID, err)
		}
		log.WithField("viewer_id", viewer.ID).Info("List shared")
		return &ShareResult{Viewer: viewer}, nil
	}

	pending, err := s.Shares.CreatePending(ctx, &models.PendingShare{
		ListID:  listID,
		OwnerID: ownerID,
		Email:   email,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, ErrAlreadyShared
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create pending share for list %s: %w", listID, err)
	}
	log.Info("List share pending until sign-up")
	return &ShareResult{Pending: pending}, nil
}

// Unshare removes a viewer from an owned list. Claims the viewer already
// holds are left in place.
func (s *Service) Unshare(ctx context.Context, ownerID, listID, viewerID string) error {
	if _, err := s.ownedList(ctx, ownerID, listID); err != nil {
		return err
	}
	err := s.Lists.RemoveViewer(ctx, listID, viewerID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrShareNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to unshare list %s: %w", listID, err)
	}
	return nil
}

// PendingShares lists open invites for an owned list.
func (s *Service) PendingShares(ctx context.Context, ownerID, listID string) ([]*models.PendingShare, error) {
	if _, err := s.ownedList(ctx, ownerID, listID); err != nil {
		return nil, err
	}
	pending, err := s.Shares.PendingByList(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending shares for list %s: %w", listID, err)
	}
	return pending, nil
}

// CancelPendingShare withdraws an invite for an owned list.
func (s *Service) CancelPendingShare(ctx context.Context, ownerID, listID, email string) error {
	if _, err := s.ownedList(ctx, ownerID, listID); err != nil {
		return err
	}
	err := s.Shares.DeletePending(ctx, listID, email)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrShareNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to cancel pending share for list %s: %w", listID, err)
	}
	return nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: %q is not a valid email", ErrInvalidInput, email)
	}
	return email, nil
}
