package repository

import (
	"strings"
	"testing"
	"time"

	"pollapp/internal/database"
	"pollapp/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

// openTestDB returns a migrated in-memory SQLite database private to the test.
// A single connection serialises statements while still letting goroutines
// interleave between them.
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

func seedUser(t *testing.T, db *gorm.DB, email string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{Email: email, Name: strings.Split(email, "@")[0], Password: "hash", Role: role, Theme: models.ThemeLight}
	require.NoError(t, db.Create(u).Error)
	return u
}

func seedPoll(t *testing.T, db *gorm.DB, owner uint, options ...string) *models.Poll {
	t.Helper()
	if len(options) == 0 {
		options = []string{"Yes", "No"}
	}
	p := &models.Poll{
		Title:     "Best language?",
		ExpiresAt: time.Now().Add(time.Hour),
		IsPublic:  true,
		UserID:    owner,
	}
	for _, text := range options {
		p.Options = append(p.Options, models.Option{Text: text})
	}
	require.NoError(t, db.Omit("User").Create(p).Error)
	return p
}

func seedVote(t *testing.T, db *gorm.DB, poll *models.Poll, optionIdx int, who models.Identity) *models.Vote {
	t.Helper()
	v, err := models.NewVote(poll.ID, poll.Options[optionIdx].ID, who)
	require.NoError(t, err)
	require.NoError(t, db.Omit("User", "Poll", "Option").Create(v).Error)
	return v
}
