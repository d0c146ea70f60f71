package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	UserKeyPrefix        = "user:%d"
	PollResultsKeyPrefix = "poll:%d:results"
	AnalyticsKey         = "analytics:overview"
)

const (
	UserTTL      = 5 * time.Minute
	AnalyticsTTL = time.Minute
)

// ResultsTTL is how long poll tallies stay cached. Set from config at startup.
var ResultsTTL = 30 * time.Second

func UserKey(userID uint) string {
	return fmt.Sprintf(UserKeyPrefix, userID)
}

func PollResultsKey(pollID uint) string {
	return fmt.Sprintf(PollResultsKeyPrefix, pollID)
}

func InvalidateUser(ctx context.Context, userID uint) {
	Invalidate(ctx, UserKey(userID))
}

// InvalidatePoll drops the cached tallies of a poll and the analytics report that counts them.
func InvalidatePoll(ctx context.Context, pollID uint) {
	Invalidate(ctx, PollResultsKey(pollID), AnalyticsKey)
}

func keyFamily(key string) string {
	family, _, _ := strings.Cut(key, ":")
	return family
}
