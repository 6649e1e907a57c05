package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/hscopalm/shareable-wishlists/internal/metrics"
	"github.com/hscopalm/shareable-wishlists/internal/models"
	"github.com/hscopalm/shareable-wishlists/internal/repository"
)

// DefaultClaimRetries is how many times a toggle that lost a race is
// re-evaluated before the caller is told someone else holds the claim.
const DefaultClaimRetries = 3

// ClaimCoordinator toggles claims on shared list items. Every write goes
// through WishListRepository.ConditionalSetClaim so that concurrent toggles
// on the same item commit at most one claimant.
type ClaimCoordinator struct {
	lists      repository.WishListRepository
	logger     *logrus.Logger
	maxRetries uint64
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

// ClaimOption configures a ClaimCoordinator.
type ClaimOption func(*ClaimCoordinator)

// WithMaxRetries sets how many lost races are re-evaluated.
func WithMaxRetries(n int) ClaimOption {
	return func(c *ClaimCoordinator) {
		if n >= 0 {
			c.maxRetries = uint64(n)
		}
	}
}

// WithBackOff sets the wait policy between re-evaluations. The factory is
// called once per toggle.
func WithBackOff(f func() backoff.BackOff) ClaimOption {
	return func(c *ClaimCoordinator) { c.newBackOff = f }
}

// WithClock overrides the claim timestamp source.
func WithClock(now func() time.Time) ClaimOption {
	return func(c *ClaimCoordinator) { c.now = now }
}

// NewClaimCoordinator creates a ClaimCoordinator over the given list store.
func NewClaimCoordinator(lists repository.WishListRepository, logger *logrus.Logger, opts ...ClaimOption) *ClaimCoordinator {
	c := &ClaimCoordinator{
		lists:      lists,
		logger:     logger,
		maxRetries: DefaultClaimRetries,
		newBackOff: defaultClaimBackOff,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultClaimBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.Multiplier = 2
	return b
}

// ToggleClaim claims an unclaimed item for userID, or releases it when
// userID already holds it.
//
// It returns ErrNotFoundOrNotShared when the list is missing or userID is
// not one of its viewers (list owners included), ErrItemNotFound when the
// item is not in the list, and ErrAlreadyClaimedByOther when another viewer
// holds the claim. A write that loses a race is re-read and re-decided; if
// the item keeps changing until retries run out the caller gets
// ErrAlreadyClaimedByOther.
//
// A committed toggle is not rolled back if ctx ends afterwards. Callers unsure
// whether a toggle landed should re-read the item rather than toggle again.
func (c *ClaimCoordinator) ToggleClaim(ctx context.Context, listID, itemID, userID string) (*models.ClaimResult, error) {
	start := time.Now()
	defer func() { metrics.ClaimDuration.Observe(time.Since(start).Seconds()) }()

	log := c.logger.WithFields(logrus.Fields{
		"list_id": listID,
		"item_id": itemID,
		"user_id": userID,
	})

	var result *models.ClaimResult
	op := func() error {
		r, err := c.attempt(ctx, listID, itemID, userID)
		switch {
		case err == nil:
			result = r
			return nil
		case errors.Is(err, errConflictRetryable):
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		log.WithField("wait", wait).Debug("Claim write lost a race, re-evaluating")
	})

	if errors.Is(err, errConflictRetryable) {
		err = ErrAlreadyClaimedByOther
	}

	switch {
	case err == nil && result.Claimed:
		metrics.ClaimToggles.WithLabelValues(metrics.OutcomeClaimed).Inc()
		log.Info("Item claimed")
	case err == nil:
		metrics.ClaimToggles.WithLabelValues(metrics.OutcomeUnclaimed).Inc()
		log.Info("Item unclaimed")
	case errors.Is(err, ErrAlreadyClaimedByOther):
		metrics.ClaimToggles.WithLabelValues(metrics.OutcomeAlreadyClaimed).Inc()
		log.Info("Claim rejected, item held by another viewer")
	case errors.Is(err, ErrNotFoundOrNotShared):
		metrics.ClaimToggles.WithLabelValues(metrics.OutcomeNotShared).Inc()
		log.Debug("Claim rejected, list not shared with user")
	case errors.Is(err, ErrItemNotFound):
		metrics.ClaimToggles.WithLabelValues(metrics.OutcomeItemNotFound).Inc()
		log.Debug("Claim rejected, item not found")
	default:
		metrics.ClaimToggles.WithLabelValues(metrics.OutcomeError).Inc()
		log.WithError(err).Error("Claim toggle failed")
	}

	if err != nil {
		return nil, err
	}
	return result, nil
}

// attempt performs one read-decide-write round.
func (c *ClaimCoordinator) attempt(ctx context.Context, listID, itemID, userID string) (*models.ClaimResult, error) {
	list, err := c.lists.FindSharedList(ctx, listID, userID)
	if err != nil {
		return nil, fmt.Errorf("load shared list %s: %w", listID, err)
	}
	if list == nil {
		return nil, ErrNotFoundOrNotShared
	}

	item := list.Item(itemID)
	if item == nil {
		return nil, ErrItemNotFound
	}

	var expected string
	var next *models.Claim
	switch {
	case item.Claim == nil:
		next = &models.Claim{ClaimantID: userID, ClaimedAt: c.now()}
	case item.Claim.ClaimantID == userID:
		expected = userID
	default:
		return nil, ErrAlreadyClaimedByOther
	}

	applied, err := c.lists.ConditionalSetClaim(ctx, listID, itemID, expected, next)
	if err != nil {
		return nil, fmt.Errorf("set claim on item %s: %w", itemID, err)
	}
	if !applied {
		metrics.ClaimConflicts.Inc()
		return nil, errConflictRetryable
	}

	return &models.ClaimResult{
		ListID:  listID,
		ItemID:  itemID,
		Claimed: next != nil,
		Claim:   next,
	}, nil
}
