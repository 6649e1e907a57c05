package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hscopalm/shareable-wishlists/internal/models"
	"github.com/hscopalm/shareable-wishlists/internal/repository"
)

const (
	listColumns = `l.id, l.owner_id, l.name, l.description, l.event_date, l.created_at, l.updated_at`
	itemColumns = `id, list_id, title, description, link, price, priority, claimed_by_id, claimed_at, created_at`
)

type wishListRepository struct {
	db *sql.DB
}

// NewWishListRepository creates a new wish list repository
func NewWishListRepository(db *sql.DB) repository.WishListRepository {
	return &wishListRepository{db: db}
}

func (r *wishListRepository) CreateList(ctx context.Context, list *models.WishList) (*models.WishList, error) {
	query := `
		INSERT INTO wish_lists (id, owner_id, name, description, event_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	if list.ID == "" {
		list.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	list.CreatedAt = now
	list.UpdatedAt = now

	err := r.db.QueryRowContext(ctx, query,
		list.ID,
		list.OwnerID,
		list.Name,
		list.Description,
		list.EventDate,
		list.CreatedAt,
		list.UpdatedAt,
	).Scan(&list.CreatedAt, &list.UpdatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to create wish list: %w", err)
	}

	list.SharedWith = []string{}
	list.Items = []models.Item{}
	return list, nil
}

func (r *wishListRepository) GetList(ctx context.Context, id string) (*models.WishList, error) {
	query := `SELECT ` + listColumns + ` FROM wish_lists l WHERE l.id = $1`

	list, err := scanList(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get wish list by ID: %w", err)
	}
	if list == nil {
		return nil, nil
	}
	if err := r.hydrate(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *wishListRepository) FindSharedList(ctx context.Context, listID, viewerID string) (*models.WishList, error) {
	query := `
		SELECT ` + listColumns + `
		FROM wish_lists l
		INNER JOIN list_viewers v ON v.list_id = l.id
		WHERE l.id = $1 AND v.user_id = $2`

	list, err := scanList(r.db.QueryRowContext(ctx, query, listID, viewerID))
	if err != nil {
		return nil, fmt.Errorf("failed to find shared wish list: %w", err)
	}
	if list == nil {
		return nil, nil
	}
	if err := r.hydrate(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *wishListRepository) ListsByOwner(ctx context.Context, ownerID string) ([]*models.WishList, error) {
	query := `
		SELECT ` + listColumns + `
		FROM wish_lists l
		WHERE l.owner_id = $1
		ORDER BY l.created_at DESC`

	return r.queryLists(ctx, query, ownerID)
}

func (r *wishListRepository) ListsSharedWith(ctx context.Context, viewerID string) ([]*models.WishList, error) {
	query := `
		SELECT ` + listColumns + `
		FROM wish_lists l
		INNER JOIN list_viewers v ON v.list_id = l.id
		WHERE v.user_id = $1
		ORDER BY l.created_at ASC, l.id ASC`

	return r.queryLists(ctx, query, viewerID)
}

func (r *wishListRepository) UpdateList(ctx context.Context, list *models.WishList) (*models.WishList, error) {
	query := `
		UPDATE wish_lists
		SET name = $2, description = $3, event_date = $4, updated_at = $5
		WHERE id = $1
		RETURNING updated_at`

	list.UpdatedAt = time.Now().UTC()

	err := r.db.QueryRowContext(ctx, query,
		list.ID,
		list.Name,
		list.Description,
		list.EventDate,
		list.UpdatedAt,
	).Scan(&list.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("wish list %s: %w", list.ID, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update wish list: %w", err)
	}

	return list, nil
}

func (r *wishListRepository) DeleteList(ctx context.Context, id string) error {
	query := `DELETE FROM wish_lists WHERE id = $1`
	return r.execOne(ctx, query, "delete wish list", fmt.Sprintf("wish list %s", id), id)
}

func (r *wishListRepository) AddItem(ctx context.Context, item *models.Item) (*models.Item, error) {
	query := `
		INSERT INTO wish_items (id, list_id, title, description, link, price, priority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Claim = nil
	item.CreatedAt = time.Now().UTC()

	err := r.db.QueryRowContext(ctx, query,
		item.ID,
		item.ListID,
		item.Title,
		item.Description,
		item.Link,
		item.Price,
		item.Priority,
		item.CreatedAt,
	).Scan(&item.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to add wish item: %w", err)
	}

	return item, nil
}

func (r *wishListRepository) UpdateItem(ctx context.Context, item *models.Item) (*models.Item, error) {
	query := `
		UPDATE wish_items
		SET title = $3, description = $4, link = $5, price = $6, priority = $7
		WHERE id = $1 AND list_id = $2
		RETURNING ` + itemColumns

	updated, err := scanItem(r.db.QueryRowContext(ctx, query,
		item.ID,
		item.ListID,
		item.Title,
		item.Description,
		item.Link,
		item.Price,
		item.Priority,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("wish item %s: %w", item.ID, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update wish item: %w", err)
	}

	return updated, nil
}

func (r *wishListRepository) DeleteItem(ctx context.Context, listID, itemID string) error {
	query := `DELETE FROM wish_items WHERE id = $1 AND list_id = $2`
	return r.execOne(ctx, query, "delete wish item", fmt.Sprintf("wish item %s", itemID), itemID, listID)
}

func (r *wishListRepository) AddViewer(ctx context.Context, listID, userID string) error {
	query := `
		INSERT INTO list_viewers (list_id, user_id, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (list_id, user_id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query, listID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add list viewer: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("viewer %s on list %s: %w", userID, listID, repository.ErrDuplicate)
	}

	return nil
}

func (r *wishListRepository) RemoveViewer(ctx context.Context, listID, userID string) error {
	query := `DELETE FROM list_viewers WHERE list_id = $1 AND user_id = $2`
	return r.execOne(ctx, query, "remove list viewer", fmt.Sprintf("viewer %s on list %s", userID, listID), listID, userID)
}

func (r *wishListRepository) ConditionalSetClaim(ctx context.Context, listID, itemID, expectedClaimantID string, next *models.Claim) (bool, error) {
	// One statement: concurrent updates of the same row are serialized by the
	// row lock and the WHERE clause is re-checked against the committed
	// version, so only one of several racing writers can match.
	query := `
		UPDATE wish_items
		SET claimed_by_id = $3, claimed_at = $4
		WHERE id = $2
		  AND list_id = $1
		  AND claimed_by_id IS NOT DISTINCT FROM $5
		  AND ($3::text IS NULL OR EXISTS (
		      SELECT 1 FROM list_viewers v WHERE v.list_id = $1 AND v.user_id = $3::text))`

	var claimant sql.NullString
	var claimedAt sql.NullTime
	if next != nil {
		claimant = sql.NullString{String: next.ClaimantID, Valid: true}
		claimedAt = sql.NullTime{Time: next.ClaimedAt, Valid: true}
	}
	expected := sql.NullString{String: expectedClaimantID, Valid: expectedClaimantID != ""}

	result, err := r.db.ExecContext(ctx, query, listID, itemID, claimant, claimedAt, expected)
	if err != nil {
		return false, fmt.Errorf("failed to set item claim: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

func (r *wishListRepository) queryLists(ctx context.Context, query string, args ...any) ([]*models.WishList, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query wish lists: %w", err)
	}
	defer rows.Close()

	var lists []*models.WishList
	for rows.Next() {
		list := &models.WishList{}
		if err := rows.Scan(
			&list.ID,
			&list.OwnerID,
			&list.Name,
			&list.Description,
			&list.EventDate,
			&list.CreatedAt,
			&list.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan wish list: %w", err)
		}
		lists = append(lists, list)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate wish lists: %w", err)
	}

	for _, list := range lists {
		if err := r.hydrate(ctx, list); err != nil {
			return nil, err
		}
	}

	return lists, nil
}

// hydrate loads the items and viewer ids of a list.
func (r *wishListRepository) hydrate(ctx context.Context, list *models.WishList) error {
	items, err := r.getItems(ctx, list.ID)
	if err != nil {
		return err
	}
	viewers, err := r.getViewers(ctx, list.ID)
	if err != nil {
		return err
	}
	list.Items = items
	list.SharedWith = viewers
	return nil
}

func (r *wishListRepository) getItems(ctx context.Context, listID string) ([]models.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM wish_items
		WHERE list_id = $1
		ORDER BY position ASC`

	rows, err := r.db.QueryContext(ctx, query, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to query wish items: %w", err)
	}
	defer rows.Close()

	items := []models.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wish item: %w", err)
		}
		items = append(items, *item)
	}

	return items, rows.Err()
}

func (r *wishListRepository) getViewers(ctx context.Context, listID string) ([]string, error) {
	query := `SELECT user_id FROM list_viewers WHERE list_id = $1 ORDER BY added_at ASC`

	rows, err := r.db.QueryContext(ctx, query, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to query list viewers: %w", err)
	}
	defer rows.Close()

	viewers := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan list viewer: %w", err)
		}
		viewers = append(viewers, id)
	}

	return viewers, rows.Err()
}

func (r *wishListRepository) execOne(ctx context.Context, query, op, what string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", what, repository.ErrNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanList returns (nil, nil) when the row does not exist.
func scanList(row rowScanner) (*models.WishList, error) {
	list := &models.WishList{}
	err := row.Scan(
		&list.ID,
		&list.OwnerID,
		&list.Name,
		&list.Description,
		&list.EventDate,
		&list.CreatedAt,
		&list.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return list, nil
}

func scanItem(row rowScanner) (*models.Item, error) {
	item := &models.Item{}
	var claimedBy sql.NullString
	var claimedAt sql.NullTime
	if err := row.Scan(
		&item.ID,
		&item.ListID,
		&item.Title,
		&item.Description,
		&item.Link,
		&item.Price,
		&item.Priority,
		&claimedBy,
		&claimedAt,
		&item.CreatedAt,
	); err != nil {
		return nil, err
	}
	if claimedBy.Valid {
		item.Claim = &models.Claim{ClaimantID: claimedBy.String, ClaimedAt: claimedAt.Time}
	}
	return item, nil
}
