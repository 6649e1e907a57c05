package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hscopalm/shareable-wishlists/internal/models"
	"github.com/hscopalm/shareable-wishlists/internal/repository"
	"github.com/hscopalm/shareable-wishlists/pkg/logger"
)

func TestToggleClaim_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	const k = 16
	ctx := context.Background()
	f := newFixture(t, k)

	type outcome struct {
		userID string
		result *models.ClaimResult
		err    error
	}

	start := make(chan struct{})
	outcomes := make(chan outcome, k)
	var wg sync.WaitGroup
	for _, v := range f.viewers {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			<-start
			res, err := f.svc.ToggleClaim(ctx, f.list.ID, f.item.ID, userID)
			outcomes <- outcome{userID: userID, result: res, err: err}
		}(v.ID)
	}
	close(start)
	wg.Wait()
	close(outcomes)

	var winners []string
	var rejected int
	for o := range outcomes {
		switch {
		case o.err == nil:
			require.True(t, o.result.Claimed)
			winners = append(winners, o.userID)
		case errors.Is(o.err, ErrAlreadyClaimedByOther):
			rejected++
		default:
			t.Fatalf("unexpected error for %s: %v", o.userID, o.err)
		}
	}

	require.Len(t, winners, 1)
	assert.Equal(t, k-1, rejected)

	claim := f.persistedClaim(t, f.item.ID)
	require.NotNil(t, claim)
	assert.Equal(t, winners[0], claim.ClaimantID)
}

func TestToggleClaim_ClaimThenUnclaimRestoresItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	a := f.viewers[0]

	res, err := f.svc.ToggleClaim(ctx, f.list.ID, f.item.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, res.Claimed)
	require.NotNil(t, res.Claim)
	assert.Equal(t, a.ID, res.Claim.ClaimantID)
	assert.Equal(t, fixedNow, res.Claim.ClaimedAt)
	assert.Equal(t, f.list.ID, res.ListID)
	assert.Equal(t, f.item.ID, res.ItemID)

	res, err = f.svc.ToggleClaim(ctx, f.list.ID, f.item.ID, a.ID)
	require.NoError(t, err)
	assert.False(t, res.Claimed)
	assert.Nil(t, res.Claim)

	assert.Nil(t, f.persistedClaim(t, f.item.ID))
}

func TestToggleClaim_OwnerIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	_, err := f.svc.ToggleClaim(ctx, f.list.ID, f.item.ID, f.owner.ID)
	assert.ErrorIs(t, err, ErrNotFoundOrNotShared)

	_, err = f.svc.ToggleClaim(ctx, f.list.ID, f.item.ID, f.viewers[0].ID)
	require.NoError(t, err)

	_, err = f.svc.ToggleClaim(ctx, f.list.ID, f.item.ID, f.owner.ID)
	assert.ErrorIs(t, err, ErrNotFoundOrNotShared)

	claim := f.persistedClaim(t, f.item.ID)
	require.NotNil(t, claim)
	assert.Equal(t, f.viewers[0].ID, claim.ClaimantID)
}

func TestToggleClaim_NonMemberLooksLikeMissingList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	stranger, err := f.svc.EnsureUser(ctx, "stranger@example.com", "")
	require.NoError(t, err)

	_, errStranger := f.svc.ToggleClaim(ctx, f.list.ID, f.item.ID, stranger.ID)
	_, errMissing := f.svc.ToggleClaim(ctx, "no-such-list", f.item.ID, stranger.ID)

	assert.ErrorIs(t, errStranger, ErrNotFoundOrNotShared)
	assert.ErrorIs(t, errMissing, ErrNotFoundOrNotShared)
	assert.Equal(t, errMissing.Error(), errStranger.Error())
	assert.Nil(t, f.persistedClaim(t, f.item.ID))
}

func TestToggleClaim_SequentialContention(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	a, b := f.viewers[0], f.viewers[1]

	res, err := f.svc.ToggleClaim(ctx, f.list.ID, f.item.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, res.Claim.ClaimantID)

	_, err = f.svc.ToggleClaim(ctx, f.list.ID, f.item.ID, b.ID)
	assert.ErrorIs(t, err, ErrAlreadyClaimedByOther)

	claim := f.persistedClaim(t, f.item.ID)
	require.NotNil(t, claim)
	assert.Equal(t, a.ID, claim.ClaimantID)
}

func TestToggleClaim_UnknownItem(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.svc.ToggleClaim(context.Background(), f.list.ID, "bogus-item", f.viewers[0].ID)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestToggleClaim_ReclaimAfterRelease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	a, b := f.viewers[0], f.viewers[1]

	_, err := f.svc.ToggleClaim(ctx, f.list.ID, f.item.ID, a.ID)
	require.NoError(t, err)
	_, err = f.svc.ToggleClaim(ctx, f.list.ID, f.item.ID, a.ID)
	require.NoError(t, err)

	res, err := f.svc.ToggleClaim(ctx, f.list.ID, f.item.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, res.Claimed)

	claim := f.persistedClaim(t, f.item.ID)
	require.NotNil(t, claim)
	assert.Equal(t, b.ID, claim.ClaimantID)
}

func TestToggleClaim_DifferentItemsAreIndependent(t *testing.T) {
	const items = 8
	ctx := context.Background()
	f := newFixture(t, items)

	ids := []string{f.item.ID}
	for i := 1; i < items; i++ {
		it, err := f.svc.AddItem(ctx, f.owner.ID, f.list.ID, ItemInput{Title: fmt.Sprintf("Gift %d", i)})
		require.NoError(t, err)
		ids = append(ids, it.ID)
	}

	var wg sync.WaitGroup
	errs := make([]error, items)
	for i := 0; i < items; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.ToggleClaim(ctx, f.list.ID, ids[i], f.viewers[i].ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < items; i++ {
		require.NoError(t, errs[i])
		claim := f.persistedClaim(t, ids[i])
		require.NotNil(t, claim)
		assert.Equal(t, f.viewers[i].ID, claim.ClaimantID)
	}
}

func TestToggleClaim_CancelledContext(t *testing.T) {
	f := newFixture(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.ToggleClaim(ctx, f.list.ID, f.item.ID, f.viewers[0].ID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, f.persistedClaim(t, f.item.ID))
}

// racingRepo replays scripted list states and conditional write outcomes.
type racingRepo struct {
	repository.WishListRepository

	mu       sync.Mutex
	states   []*models.Claim
	applies  []bool
	finds    int
	writes   int
	lastNext *models.Claim
}

func (r *racingRepo) FindSharedList(_ context.Context, listID, _ string) (*models.WishList, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	claim := r.states[min(r.finds, len(r.states)-1)]
	r.finds++
	return &models.WishList{
		ID:    listID,
		Items: []models.Item{{ID: "item", ListID: listID, Title: "Bike", Claim: claim}},
	}, nil
}

func (r *racingRepo) ConditionalSetClaim(_ context.Context, _, _, _ string, next *models.Claim) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	applied := r.applies[min(r.writes, len(r.applies)-1)]
	r.writes++
	if applied {
		r.lastNext = next
	}
	return applied, nil
}

func TestToggleClaim_LostRaceIsReevaluated(t *testing.T) {
	other := &models.Claim{ClaimantID: "other", ClaimedAt: fixedNow}

	tests := []struct {
		name       string
		states     []*models.Claim
		applies    []bool
		retries    int
		wantErr    error
		wantFinds  int
		wantWrites int
	}{
		{
			name:       "rival claim is seen on re-read",
			states:     []*models.Claim{nil, other},
			applies:    []bool{false},
			retries:    3,
			wantErr:    ErrAlreadyClaimedByOther,
			wantFinds:  2,
			wantWrites: 1,
		},
		{
			name:       "rival released before re-read",
			states:     []*models.Claim{nil, nil},
			applies:    []bool{false, true},
			retries:    3,
			wantFinds:  2,
			wantWrites: 2,
		},
		{
			name:       "retries exhausted",
			states:     []*models.Claim{nil},
			applies:    []bool{false},
			retries:    2,
			wantErr:    ErrAlreadyClaimedByOther,
			wantFinds:  3,
			wantWrites: 3,
		},
		{
			name:       "no retries",
			states:     []*models.Claim{nil},
			applies:    []bool{false},
			retries:    0,
			wantErr:    ErrAlreadyClaimedByOther,
			wantFinds:  1,
			wantWrites: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &racingRepo{states: tt.states, applies: tt.applies}
			c := NewClaimCoordinator(repo, logger.Discard(),
				WithMaxRetries(tt.retries),
				WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
			)

			res, err := c.ToggleClaim(context.Background(), "list", "item", "me")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, res)
			} else {
				require.NoError(t, err)
				assert.True(t, res.Claimed)
				require.NotNil(t, repo.lastNext)
				assert.Equal(t, "me", repo.lastNext.ClaimantID)
			}
			assert.Equal(t, tt.wantFinds, repo.finds)
			assert.Equal(t, tt.wantWrites, repo.writes)
			assert.NotErrorIs(t, err, errConflictRetryable)
		})
	}
}

// failingRepo fails every conditional write.
type failingRepo struct {
	racingRepo
	err error
}

func (r *failingRepo) ConditionalSetClaim(context.Context, string, string, string, *models.Claim) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	return false, r.err
}

func TestToggleClaim_StorageErrorIsNotRetried(t *testing.T) {
	boom := errors.New("connection reset")
	repo := &failingRepo{racingRepo: racingRepo{states: []*models.Claim{nil}}, err: boom}
	c := NewClaimCoordinator(repo, logger.Discard(),
		WithMaxRetries(5),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)

	_, err := c.ToggleClaim(context.Background(), "list", "item", "me")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, repo.writes)
}
