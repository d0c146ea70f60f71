package service

import (
	"context"
	"time"

	"pollapp/internal/models"
	"pollapp/internal/policy"
	"pollapp/internal/repository"
)

const (
	topPollsLimit    = 5
	recentVotesLimit = 10
	activityDays     = 7
)

type AnalyticsService struct {
	repo   repository.AnalyticsRepository
	policy *policy.Policy
	now    func() time.Time
}

func NewAnalyticsService(repo repository.AnalyticsRepository, pol *policy.Policy) *AnalyticsService {
	if pol == nil {
		pol = policy.Default
	}
	return &AnalyticsService{repo: repo, policy: pol, now: time.Now}
}

// Report builds the admin analytics dashboard data.
func (s *AnalyticsService) Report(ctx context.Context, actor policy.Actor) (*models.Analytics, error) {
	if err := s.policy.Authorize(actor, policy.Platform, policy.ViewAnalytics); err != nil {
		return nil, err
	}
	now := s.now()

	overview, err := s.repo.Overview(ctx, now)
	if err != nil {
		return nil, err
	}
	top, err := s.repo.MostVotedPolls(ctx, topPollsLimit)
	if err != nil {
		return nil, err
	}
	recent, err := s.repo.RecentVotes(ctx, recentVotesLimit)
	if err != nil {
		return nil, err
	}
	pollsPerDay, err := s.repo.PollsPerDay(ctx, now, activityDays)
	if err != nil {
		return nil, err
	}
	votesPerDay, err := s.repo.VotesPerDay(ctx, now, activityDays)
	if err != nil {
		return nil, err
	}

	return &models.Analytics{
		Overview:       *overview,
		MostVotedPolls: top,
		RecentActivity: recent,
		PollsPerDay:    pollsPerDay,
		VotesPerDay:    votesPerDay,
	}, nil
}
