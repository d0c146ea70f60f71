package models

import "time"

// AnalyticsOverview holds platform-wide totals.
type AnalyticsOverview struct {
	TotalUsers   int64 `json:"total_users"`
	TotalPolls   int64 `json:"total_polls"`
	TotalVotes   int64 `json:"total_votes"`
	TotalOptions int64 `json:"total_options"`
	ActivePolls  int64 `json:"active_polls"`
	ExpiredPolls int64 `json:"expired_polls"`
	AdminCount   int64 `json:"admin_count"`
	MemberCount  int64 `json:"member_count"`
}

// PollVoteSummary is a poll ranked by votes.
type PollVoteSummary struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	VoteCount int64     `json:"vote_count"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RecentVote is an entry of the recent activity feed.
type RecentVote struct {
	ID         uint      `json:"id"`
	UserName   string    `json:"user_name"`
	PollTitle  string    `json:"poll_title"`
	OptionText string    `json:"option_text"`
	CreatedAt  time.Time `json:"created_at"`
}

// DailyCount is the number of rows created on a calendar day (UTC).
type DailyCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// Analytics is the admin analytics report.
type Analytics struct {
	Overview       AnalyticsOverview `json:"overview"`
	MostVotedPolls []PollVoteSummary `json:"most_voted_polls"`
	RecentActivity []RecentVote      `json:"recent_activity"`
	PollsPerDay    []DailyCount      `json:"polls_per_day"`
	VotesPerDay    []DailyCount      `json:"votes_per_day"`
}
