package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"pollapp/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoteIntegration_ConcurrentSubmittersSameIdentity(t *testing.T) {
	db := openTestDB(t)
	repo := NewVoteRepository(db)
	ctx := context.Background()

	owner := seedUser(t, db, "owner@example.com", models.RoleMember)
	poll := seedPoll(t, db, owner.ID)
	who := models.AnonymousIdentity("203.0.113.9")

	const submitters = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		created    int
		duplicates int
		others     []error
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vote, err := models.NewVote(poll.ID, poll.Options[i%2].ID, who)
			if err != nil {
				mu.Lock()
				others = append(others, err)
				mu.Unlock()
				return
			}
			err = repo.Create(ctx, vote)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrDuplicateVote):
				duplicates++
			default:
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, others)
	assert.Equal(t, 1, created)
	assert.Equal(t, submitters-1, duplicates)

	var count int64
	require.NoError(t, db.Model(&models.Vote{}).Where("poll_id = ?", poll.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestVoteIntegration_DistinctIdentitiesCoexist(t *testing.T) {
	db := openTestDB(t)
	repo := NewVoteRepository(db)
	ctx := context.Background()

	owner := seedUser(t, db, "owner@example.com", models.RoleMember)
	poll := seedPoll(t, db, owner.ID)

	identities := []models.Identity{
		models.UserIdentity(owner.ID),
		models.AnonymousIdentity("198.51.100.1"),
		models.AnonymousIdentity("198.51.100.2"),
	}
	for _, who := range identities {
		vote, err := models.NewVote(poll.ID, poll.Options[0].ID, who)
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, vote), who.String())
	}

	for _, who := range identities {
		found, err := repo.FindByIdentity(ctx, poll.ID, who)
		require.NoError(t, err)
		require.NotNil(t, found, who.String())
		assert.Equal(t, who, found.Identity())
	}
}

func TestVoteIntegration_UpdatePreservesCreatedAt(t *testing.T) {
	db := openTestDB(t)
	repo := NewVoteRepository(db)
	ctx := context.Background()

	owner := seedUser(t, db, "owner@example.com", models.RoleMember)
	poll := seedPoll(t, db, owner.ID)
	vote := seedVote(t, db, poll, 0, models.UserIdentity(owner.ID))

	require.NoError(t, repo.UpdateOption(ctx, vote, poll.Options[1].ID))

	found, err := repo.FindByIdentity(ctx, poll.ID, models.UserIdentity(owner.ID))
	require.NoError(t, err)
	assert.Equal(t, vote.ID, found.ID)
	assert.Equal(t, poll.Options[1].ID, found.OptionID)
	assert.True(t, found.CreatedAt.Equal(vote.CreatedAt), fmt.Sprintf("created_at moved from %v to %v", vote.CreatedAt, found.CreatedAt))
}
