// Package memory is an in-process storage backend. It keeps the same
// contracts as the postgres repositories and is used for local development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hscopalm/shareable-wishlists/internal/models"
	"github.com/hscopalm/shareable-wishlists/internal/repository"
)

// Store holds all data. Each list has its own mutex so that writes to
// different lists never contend.
type Store struct {
	mu      sync.RWMutex
	users   map[string]*models.User
	lists   map[string]*listEntry
	pending map[string]*models.PendingShare // keyed by list id + "|" + email
}

type listEntry struct {
	mu      sync.Mutex
	list    models.WishList
	viewers map[string]time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:   make(map[string]*models.User),
		lists:   make(map[string]*listEntry),
		pending: make(map[string]*models.PendingShare),
	}
}

// Users returns the store as a UserRepository.
func (s *Store) Users() repository.UserRepository { return (*userRepo)(s) }

// WishLists returns the store as a WishListRepository.
func (s *Store) WishLists() repository.WishListRepository { return (*wishListRepo)(s) }

// Shares returns the store as a ShareRepository.
func (s *Store) Shares() repository.ShareRepository { return (*shareRepo)(s) }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

type userRepo Store

func (r *userRepo) Create(_ context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user.Email = normalizeEmail(user.Email)
	for _, u := range r.users {
		if u.Email == user.Email {
			return nil, fmt.Errorf("user %s: %w", user.Email, repository.ErrDuplicate)
		}
		if user.TelegramID != nil && u.TelegramID != nil && *u.TelegramID == *user.TelegramID {
			return nil, fmt.Errorf("telegram user %d: %w", *user.TelegramID, repository.ErrDuplicate)
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	stored := *user
	r.users[user.ID] = &stored
	return user, nil
}

func (r *userRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	email = normalizeEmail(email)
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *userRepo) GetByTelegramID(_ context.Context, telegramID int64) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.TelegramID != nil && *u.TelegramID == telegramID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *userRepo) Update(_ context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[user.ID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", user.ID, repository.ErrNotFound)
	}
	user.Email = normalizeEmail(user.Email)
	for id, u := range r.users {
		if id == user.ID {
			continue
		}
		if u.Email == user.Email {
			return nil, fmt.Errorf("user %s: %w", user.Email, repository.ErrDuplicate)
		}
		if user.TelegramID != nil && u.TelegramID != nil && *u.TelegramID == *user.TelegramID {
			return nil, fmt.Errorf("telegram user %d: %w", *user.TelegramID, repository.ErrDuplicate)
		}
	}
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = time.Now().UTC()

	stored := *user
	r.users[user.ID] = &stored
	return user, nil
}

// ---------------------------------------------------------------------------
// Wish lists
// ---------------------------------------------------------------------------

type wishListRepo Store

func (r *wishListRepo) entry(id string) *listEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lists[id]
}

// snapshot copies the list under its lock. The caller must hold e.mu.
func (e *listEntry) snapshot() *models.WishList {
	cp := e.list
	cp.Items = make([]models.Item, len(e.list.Items))
	for i, item := range e.list.Items {
		cp.Items[i] = copyItem(item)
	}

	type viewer struct {
		id    string
		added time.Time
	}
	viewers := make([]viewer, 0, len(e.viewers))
	for id, added := range e.viewers {
		viewers = append(viewers, viewer{id, added})
	}
	sort.Slice(viewers, func(i, j int) bool {
		if viewers[i].added.Equal(viewers[j].added) {
			return viewers[i].id < viewers[j].id
		}
		return viewers[i].added.Before(viewers[j].added)
	})
	cp.SharedWith = make([]string, len(viewers))
	for i, v := range viewers {
		cp.SharedWith[i] = v.id
	}
	return &cp
}

func copyItem(item models.Item) models.Item {
	if item.Claim != nil {
		claim := *item.Claim
		item.Claim = &claim
	}
	if item.Price != nil {
		price := *item.Price
		item.Price = &price
	}
	if item.Priority != nil {
		priority := *item.Priority
		item.Priority = &priority
	}
	return item
}

func (r *wishListRepo) CreateList(_ context.Context, list *models.WishList) (*models.WishList, error) {
	if list.ID == "" {
		list.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	list.CreatedAt = now
	list.UpdatedAt = now
	list.SharedWith = []string{}
	list.Items = []models.Item{}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lists[list.ID]; ok {
		return nil, fmt.Errorf("wish list %s: %w", list.ID, repository.ErrDuplicate)
	}
	r.lists[list.ID] = &listEntry{list: *list, viewers: make(map[string]time.Time)}
	return list, nil
}

func (r *wishListRepo) GetList(_ context.Context, id string) (*models.WishList, error) {
	e := r.entry(id)
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(), nil
}

func (r *wishListRepo) FindSharedList(_ context.Context, listID, viewerID string) (*models.WishList, error) {
	e := r.entry(listID)
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.viewers[viewerID]; !ok {
		return nil, nil
	}
	return e.snapshot(), nil
}

func (r *wishListRepo) ListsByOwner(_ context.Context, ownerID string) ([]*models.WishList, error) {
	lists := r.collect(func(e *listEntry) bool { return e.list.OwnerID == ownerID })
	sort.SliceStable(lists, func(i, j int) bool { return lists[i].CreatedAt.After(lists[j].CreatedAt) })
	return lists, nil
}

func (r *wishListRepo) ListsSharedWith(_ context.Context, viewerID string) ([]*models.WishList, error) {
	lists := r.collect(func(e *listEntry) bool {
		_, ok := e.viewers[viewerID]
		return ok
	})
	sort.Slice(lists, func(i, j int) bool {
		if lists[i].CreatedAt.Equal(lists[j].CreatedAt) {
			return lists[i].ID < lists[j].ID
		}
		return lists[i].CreatedAt.Before(lists[j].CreatedAt)
	})
	return lists, nil
}

func (r *wishListRepo) collect(match func(*listEntry) bool) []*models.WishList {
	r.mu.RLock()
	entries := make([]*listEntry, 0, len(r.lists))
	for _, e := range r.lists {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var lists []*models.WishList
	for _, e := range entries {
		e.mu.Lock()
		if match(e) {
			lists = append(lists, e.snapshot())
		}
		e.mu.Unlock()
	}
	return lists
}

func (r *wishListRepo) UpdateList(_ context.Context, list *models.WishList) (*models.WishList, error) {
	e := r.entry(list.ID)
	if e == nil {
		return nil, fmt.Errorf("wish list %s: %w", list.ID, repository.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.list.Name = list.Name
	e.list.Description = list.Description
	e.list.EventDate = list.EventDate
	e.list.UpdatedAt = time.Now().UTC()
	return e.snapshot(), nil
}

func (r *wishListRepo) DeleteList(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lists[id]; !ok {
		return fmt.Errorf("wish list %s: %w", id, repository.ErrNotFound)
	}
	delete(r.lists, id)
	for key, p := range r.pending {
		if p.ListID == id {
			delete(r.pending, key)
		}
	}
	return nil
}

func (r *wishListRepo) AddItem(_ context.Context, item *models.Item) (*models.Item, error) {
	e := r.entry(item.ListID)
	if e == nil {
		return nil, fmt.Errorf("wish list %s: %w", item.ListID, repository.ErrNotFound)
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Claim = nil
	item.CreatedAt = time.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.list.Items = append(e.list.Items, copyItem(*item))
	return item, nil
}

func (r *wishListRepo) UpdateItem(_ context.Context, item *models.Item) (*models.Item, error) {
	e := r.entry(item.ListID)
	if e == nil {
		return nil, fmt.Errorf("wish item %s: %w", item.ID, repository.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.list.Items {
		stored := &e.list.Items[i]
		if stored.ID != item.ID {
			continue
		}
		updated := copyItem(*item)
		stored.Title = updated.Title
		stored.Description = updated.Description
		stored.Link = updated.Link
		stored.Price = updated.Price
		stored.Priority = updated.Priority
		result := copyItem(*stored)
		return &result, nil
	}
	return nil, fmt.Errorf("wish item %s: %w", item.ID, repository.ErrNotFound)
}

func (r *wishListRepo) DeleteItem(_ context.Context, listID, itemID string) error {
	e := r.entry(listID)
	if e == nil {
		return fmt.Errorf("wish item %s: %w", itemID, repository.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.list.Items {
		if e.list.Items[i].ID == itemID {
			e.list.Items = append(e.list.Items[:i], e.list.Items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("wish item %s: %w", itemID, repository.ErrNotFound)
}

func (r *wishListRepo) AddViewer(_ context.Context, listID, userID string) error {
	e := r.entry(listID)
	if e == nil {
		return fmt.Errorf("wish list %s: %w", listID, repository.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.viewers[userID]; ok {
		return fmt.Errorf("viewer %s on list %s: %w", userID, listID, repository.ErrDuplicate)
	}
	e.viewers[userID] = time.Now().UTC()
	return nil
}

func (r *wishListRepo) RemoveViewer(_ context.Context, listID, userID string) error {
	e := r.entry(listID)
	if e == nil {
		return fmt.Errorf("wish list %s: %w", listID, repository.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.viewers[userID]; !ok {
		return fmt.Errorf("viewer %s on list %s: %w", userID, listID, repository.ErrNotFound)
	}
	delete(e.viewers, userID)
	return nil
}

func (r *wishListRepo) ConditionalSetClaim(ctx context.Context, listID, itemID, expectedClaimantID string, next *models.Claim) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e := r.entry(listID)
	if e == nil {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	item := e.list.Item(itemID)
	if item == nil {
		return false, nil
	}

	current := ""
	if item.Claim != nil {
		current = item.Claim.ClaimantID
	}
	if current != expectedClaimantID {
		return false, nil
	}
	if next != nil {
		if _, ok := e.viewers[next.ClaimantID]; !ok {
			return false, nil
		}
		claim := *next
		item.Claim = &claim
	} else {
		item.Claim = nil
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// Pending shares
// ---------------------------------------------------------------------------

type shareRepo Store

func pendingKey(listID, email string) string {
	return listID + "|" + email
}

func (r *shareRepo) CreatePending(_ context.Context, share *models.PendingShare) (*models.PendingShare, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	share.Email = normalizeEmail(share.Email)
	key := pendingKey(share.ListID, share.Email)
	if _, ok := r.pending[key]; ok {
		return nil, fmt.Errorf("pending share for %s: %w", share.Email, repository.ErrDuplicate)
	}
	if share.CreatedAt.IsZero() {
		share.CreatedAt = time.Now().UTC()
	}
	stored := *share
	r.pending[key] = &stored
	return share, nil
}

func (r *shareRepo) PendingByEmail(_ context.Context, email string) ([]*models.PendingShare, error) {
	email = normalizeEmail(email)
	return r.filter(func(p *models.PendingShare) bool { return p.Email == email }), nil
}

func (r *shareRepo) PendingByList(_ context.Context, listID string) ([]*models.PendingShare, error) {
	return r.filter(func(p *models.PendingShare) bool { return p.ListID == listID }), nil
}

func (r *shareRepo) filter(match func(*models.PendingShare) bool) []*models.PendingShare {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var shares []*models.PendingShare
	for _, p := range r.pending {
		if match(p) {
			cp := *p
			shares = append(shares, &cp)
		}
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].CreatedAt.Before(shares[j].CreatedAt) })
	return shares
}

func (r *shareRepo) DeletePending(_ context.Context, listID, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pendingKey(listID, normalizeEmail(email))
	if _, ok := r.pending[key]; !ok {
		return fmt.Errorf("pending share for %s: %w", email, repository.ErrNotFound)
	}
	delete(r.pending, key)
	return nil
}

func (r *shareRepo) DeleteExpiredPending(_ context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for key, p := range r.pending {
		if p.CreatedAt.Before(olderThan) {
			delete(r.pending, key)
			n++
		}
	}
	return n, nil
}
