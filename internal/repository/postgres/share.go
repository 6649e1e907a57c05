package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hscopalm/shareable-wishlists/internal/models"
	"github.com/hscopalm/shareable-wishlists/internal/repository"
)

type shareRepository struct {
	db *sql.DB
}

// NewShareRepository creates a new pending share repository
func NewShareRepository(db *sql.DB) repository.ShareRepository {
	return &shareRepository{db: db}
}

func (r *shareRepository) CreatePending(ctx context.Context, share *models.PendingShare) (*models.PendingShare, error) {
	query := `
		INSERT INTO pending_shares (list_id, owner_id, email, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	share.Email = strings.ToLower(strings.TrimSpace(share.Email))
	share.CreatedAt = time.Now().UTC()

	err := r.db.QueryRowContext(ctx, query,
		share.ListID,
		share.OwnerID,
		share.Email,
		share.CreatedAt,
	).Scan(&share.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("pending share for %s: %w", share.Email, repository.ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to create pending share: %w", err)
	}

	return share, nil
}

func (r *shareRepository) PendingByEmail(ctx context.Context, email string) ([]*models.PendingShare, error) {
	query := `
		SELECT list_id, owner_id, email, created_at
		FROM pending_shares
		WHERE email = $1
		ORDER BY created_at ASC`

	return r.query(ctx, query, strings.ToLower(strings.TrimSpace(email)))
}

func (r *shareRepository) PendingByList(ctx context.Context, listID string) ([]*models.PendingShare, error) {
	query := `
		SELECT list_id, owner_id, email, created_at
		FROM pending_shares
		WHERE list_id = $1
		ORDER BY created_at ASC`

	return r.query(ctx, query, listID)
}

func (r *shareRepository) DeletePending(ctx context.Context, listID, email string) error {
	query := `DELETE FROM pending_shares WHERE list_id = $1 AND email = $2`

	result, err := r.db.ExecContext(ctx, query, listID, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return fmt.Errorf("failed to delete pending share: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("pending share for %s: %w", email, repository.ErrNotFound)
	}

	return nil
}

func (r *shareRepository) DeleteExpiredPending(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM pending_shares WHERE created_at < $1`

	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired pending shares: %w", err)
	}

	return result.RowsAffected()
}

func (r *shareRepository) query(ctx context.Context, query string, args ...any) ([]*models.PendingShare, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending shares: %w", err)
	}
	defer rows.Close()

	var shares []*models.PendingShare
	for rows.Next() {
		share := &models.PendingShare{}
		if err := rows.Scan(
			&share.ListID,
			&share.OwnerID,
			&share.Email,
			&share.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pending share: %w", err)
		}
		shares = append(shares, share)
	}

	return shares, rows.Err()
}
