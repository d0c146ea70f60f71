package seed

import (
	"context"
	"strings"
	"testing"

	"pollapp/internal/database"
	"pollapp/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared&_foreign_keys=on"), database.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func TestBuiltinPresets(t *testing.T) {
	presets, err := LoadPresets("")
	require.NoError(t, err)
	assert.Equal(t, []string{"demo", "load", "small"}, Names(presets))
	assert.Equal(t, 5, presets["small"].Users)
}

func TestParsePresets_Rejects(t *testing.T) {
	tests := map[string]string{
		"empty":      "presets: {}\n",
		"bad yaml":   "presets: [",
		"one option": "presets:\n  x:\n    users: 1\n    options_per_poll: 1\n",
		"ratio":      "presets:\n  x:\n    users: 1\n    options_per_poll: 2\n    anonymous_ratio: 1.5\n",
		"no users":   "presets:\n  x:\n    users: 0\n    options_per_poll: 2\n",
		"negative":   "presets:\n  x:\n    users: 1\n    options_per_poll: 2\n    votes_per_poll: -1\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePresets([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestSeeder_ApplyRespectsConstraints(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := NewSeeder(db, 42)

	preset := Preset{
		Users:            4,
		PollsPerUser:     2,
		OptionsPerPoll:   3,
		VotesPerPoll:     20,
		AnonymousRatio:   0.5,
		CommentsPerPoll:  2,
		ReactionsPerPoll: 5,
		ExpiredRatio:     0.5,
		AllowChangeRatio: 0.5,
	}
	sum, err := s.Apply(ctx, preset)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Users)
	assert.Equal(t, 8, sum.Polls)
	assert.Equal(t, 16, sum.Comments)
	assert.Positive(t, sum.Votes)
	assert.LessOrEqual(t, sum.Votes, 8*20)

	var votes int64
	require.NoError(t, db.Model(&models.Vote{}).Count(&votes).Error)
	assert.EqualValues(t, sum.Votes, votes)

	var reactions int64
	require.NoError(t, db.Model(&models.Reaction{}).Count(&reactions).Error)
	assert.EqualValues(t, sum.Reactions, reactions)

	// No identity voted twice on a poll.
	var dupes int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM (SELECT poll_id, voter_key FROM votes GROUP BY poll_id, voter_key HAVING COUNT(*) > 1) d`).Scan(&dupes).Error)
	assert.Zero(t, dupes)

	// Every vote points at an option of its own poll.
	var mismatched int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM votes JOIN options ON options.id = votes.option_id WHERE options.poll_id <> votes.poll_id`).Scan(&mismatched).Error)
	assert.Zero(t, mismatched)

	require.NoError(t, s.ClearAll(ctx))
	var users int64
	require.NoError(t, db.Model(&models.User{}).Count(&users).Error)
	assert.Zero(t, users)
}

func TestFactory_BuildPollHasDistinctOptions(t *testing.T) {
	f := NewFactory(nil, 7)
	owner := &models.User{ID: 1}
	for i := 0; i < 20; i++ {
		poll := f.BuildPoll(owner, 20, i%2 == 0, false)
		seen := map[string]bool{}
		for _, o := range poll.Options {
			key := strings.ToLower(o.Text)
			assert.False(t, seen[key], "duplicate option %q", o.Text)
			seen[key] = true
		}
		assert.True(t, poll.CreatedAt.Before(poll.ExpiresAt))
	}
}
