package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hscopalm/shareable-wishlists/internal/models"
	"github.com/hscopalm/shareable-wishlists/internal/repository"
)

func seed(t *testing.T) (*Store, *models.WishList, *models.Item) {
	t.Helper()
	ctx := context.Background()
	s := New()

	list, err := s.WishLists().CreateList(ctx, &models.WishList{OwnerID: "owner", Name: "Birthday"})
	require.NoError(t, err)
	item, err := s.WishLists().AddItem(ctx, &models.Item{ListID: list.ID, Title: "Bike"})
	require.NoError(t, err)
	require.NoError(t, s.WishLists().AddViewer(ctx, list.ID, "a"))
	require.NoError(t, s.WishLists().AddViewer(ctx, list.ID, "b"))
	return s, list, item
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	users := New().Users()

	u, err := users.Create(ctx, &models.User{Email: "Alice@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)

	_, err = users.Create(ctx, &models.User{Email: "alice@example.com"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	found, err := users.GetByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	missing, err := users.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	tg := int64(99)
	found.TelegramID = &tg
	_, err = users.Update(ctx, found)
	require.NoError(t, err)

	byTelegram, err := users.GetByTelegramID(ctx, 99)
	require.NoError(t, err)
	require.NotNil(t, byTelegram)
	assert.Equal(t, u.ID, byTelegram.ID)

	_, err = users.Update(ctx, &models.User{ID: "nope", Email: "x@example.com"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestFindSharedList(t *testing.T) {
	ctx := context.Background()
	s, list, _ := seed(t)
	repo := s.WishLists()

	got, err := repo.FindSharedList(ctx, list.ID, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"a", "b"}, got.SharedWith)

	got, err = repo.FindSharedList(ctx, list.ID, "owner")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.FindSharedList(ctx, "missing", "a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s, list, item := seed(t)
	repo := s.WishLists()

	got, err := repo.GetList(ctx, list.ID)
	require.NoError(t, err)
	got.Items[0].Claim = &models.Claim{ClaimantID: "a"}
	got.Items[0].Title = "changed"

	again, err := repo.GetList(ctx, list.ID)
	require.NoError(t, err)
	assert.Nil(t, again.Item(item.ID).Claim)
	assert.Equal(t, "Bike", again.Item(item.ID).Title)
}

func TestConditionalSetClaim(t *testing.T) {
	ctx := context.Background()
	claimA := &models.Claim{ClaimantID: "a", ClaimedAt: time.Now().UTC()}
	claimB := &models.Claim{ClaimantID: "b", ClaimedAt: time.Now().UTC()}

	t.Run("compare and set", func(t *testing.T) {
		s, list, item := seed(t)
		repo := s.WishLists()

		applied, err := repo.ConditionalSetClaim(ctx, list.ID, item.ID, "", claimA)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = repo.ConditionalSetClaim(ctx, list.ID, item.ID, "", claimB)
		require.NoError(t, err)
		assert.False(t, applied, "claimed item must not be overwritten")

		applied, err = repo.ConditionalSetClaim(ctx, list.ID, item.ID, "b", nil)
		require.NoError(t, err)
		assert.False(t, applied, "only the holder's expectation matches")

		applied, err = repo.ConditionalSetClaim(ctx, list.ID, item.ID, "a", nil)
		require.NoError(t, err)
		assert.True(t, applied)

		got, err := repo.GetList(ctx, list.ID)
		require.NoError(t, err)
		assert.Nil(t, got.Item(item.ID).Claim)
	})

	t.Run("claimant must be a viewer", func(t *testing.T) {
		s, list, item := seed(t)
		applied, err := s.WishLists().ConditionalSetClaim(ctx, list.ID, item.ID, "", &models.Claim{ClaimantID: "owner"})
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("missing list or item", func(t *testing.T) {
		s, list, item := seed(t)
		applied, err := s.WishLists().ConditionalSetClaim(ctx, "missing", item.ID, "", claimA)
		require.NoError(t, err)
		assert.False(t, applied)
		applied, err = s.WishLists().ConditionalSetClaim(ctx, list.ID, "missing", "", claimA)
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		s, list, item := seed(t)
		repo := s.WishLists()

		var wg sync.WaitGroup
		results := make([]bool, 2)
		for i, claim := range []*models.Claim{claimA, claimB} {
			wg.Add(1)
			go func(i int, claim *models.Claim) {
				defer wg.Done()
				results[i], _ = repo.ConditionalSetClaim(ctx, list.ID, item.ID, "", claim)
			}(i, claim)
		}
		wg.Wait()
		assert.NotEqual(t, results[0], results[1])
	})
}

func TestItemsAndViewers(t *testing.T) {
	ctx := context.Background()
	s, list, item := seed(t)
	repo := s.WishLists()

	applied, err := repo.ConditionalSetClaim(ctx, list.ID, item.ID, "", &models.Claim{ClaimantID: "a"})
	require.NoError(t, err)
	require.True(t, applied)

	updated, err := repo.UpdateItem(ctx, &models.Item{ID: item.ID, ListID: list.ID, Title: "Red bike"})
	require.NoError(t, err)
	assert.Equal(t, "Red bike", updated.Title)
	require.NotNil(t, updated.Claim, "updates never clear a claim")

	assert.ErrorIs(t, repo.AddViewer(ctx, list.ID, "a"), repository.ErrDuplicate)
	require.NoError(t, repo.RemoveViewer(ctx, list.ID, "a"))
	assert.ErrorIs(t, repo.RemoveViewer(ctx, list.ID, "a"), repository.ErrNotFound)

	shared, err := repo.ListsSharedWith(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, shared, 1)

	require.NoError(t, repo.DeleteItem(ctx, list.ID, item.ID))
	assert.ErrorIs(t, repo.DeleteItem(ctx, list.ID, item.ID), repository.ErrNotFound)

	require.NoError(t, repo.DeleteList(ctx, list.ID))
	assert.ErrorIs(t, repo.DeleteList(ctx, list.ID), repository.ErrNotFound)
}

func TestPendingShares(t *testing.T) {
	ctx := context.Background()
	shares := New().Shares()
	old := time.Now().UTC().Add(-48 * time.Hour)

	_, err := shares.CreatePending(ctx, &models.PendingShare{ListID: "l1", OwnerID: "o", Email: "New@Example.com"})
	require.NoError(t, err)
	_, err = shares.CreatePending(ctx, &models.PendingShare{ListID: "l2", OwnerID: "o", Email: "new@example.com", CreatedAt: old})
	require.NoError(t, err)
	_, err = shares.CreatePending(ctx, &models.PendingShare{ListID: "l1", OwnerID: "o", Email: "new@example.com"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	byEmail, err := shares.PendingByEmail(ctx, "NEW@example.com")
	require.NoError(t, err)
	assert.Len(t, byEmail, 2)

	removed, err := shares.DeleteExpiredPending(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	require.NoError(t, shares.DeletePending(ctx, "l1", "new@example.com"))
	assert.ErrorIs(t, shares.DeletePending(ctx, "l1", "new@example.com"), repository.ErrNotFound)
}
