package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"pollapp/internal/featureflags"
	"pollapp/internal/middleware"
	"pollapp/internal/models"
	"pollapp/internal/policy"
	"pollapp/internal/repository"
	"pollapp/internal/validation"

	"github.com/samber/lo"
)

const (
	maxOptions       = 20
	defaultPageSize  = 20
	maxPageSize      = 100
	trendingWindow   = 24 * time.Hour
	trendingPageSize = 10
)

type PollService struct {
	pollRepo repository.PollRepository
	policy   *policy.Policy
	flags    FlagChecker
	events   EventPublisher
	now      func() time.Time
}

type OptionInput struct {
	ID       uint   `json:"id"`
	Text     string `json:"text" validate:"required,max=200"`
	ImageURL string `json:"image_url" validate:"omitempty,url,max=2048"`
	IsNew    bool   `json:"is_new"`
}

type CreatePollInput struct {
	Title           string        `json:"title" validate:"required,max=200"`
	Description     string        `json:"description" validate:"max=2000"`
	ImageURL        string        `json:"image_url" validate:"omitempty,url,max=2048"`
	Category        string        `json:"category" validate:"max=50"`
	ExpiresAt       time.Time     `json:"expires_at" validate:"required"`
	IsPublic        *bool         `json:"is_public"`
	AllowVoteChange bool          `json:"allow_vote_change"`
	Options         []OptionInput `json:"options" validate:"min=2,max=20,dive"`
}

type UpdatePollInput struct {
	PollID           uint          `json:"-"`
	Title            *string       `json:"title" validate:"omitempty,min=1,max=200"`
	Description      *string       `json:"description" validate:"omitempty,max=2000"`
	ImageURL         *string       `json:"image_url" validate:"omitempty,max=2048"`
	Category         *string       `json:"category" validate:"omitempty,max=50"`
	ExpiresAt        *time.Time    `json:"expires_at"`
	IsPublic         *bool         `json:"is_public"`
	AllowVoteChange  *bool         `json:"allow_vote_change"`
	Options          []OptionInput `json:"options" validate:"max=20,dive"`
	DeletedOptionIDs []uint        `json:"deleted_option_ids"`
}

type ListPollsInput struct {
	Category string
	Status   string
	Limit    int
	Offset   int
}

// PollPage is one page of the public poll listing.
type PollPage struct {
	Polls  []models.Poll `json:"polls"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// PollResultsReport is the owner's per-voter view of a poll.
type PollResultsReport struct {
	PollTitle  string               `json:"poll_title"`
	TotalVotes int                  `json:"total_votes"`
	Results    []models.VoterResult `json:"results"`
}

func NewPollService(pollRepo repository.PollRepository, pol *policy.Policy, flags FlagChecker, events EventPublisher) *PollService {
	if pol == nil {
		pol = policy.Default
	}
	if flags == nil {
		flags = allFlagsOn{}
	}
	if events == nil {
		events = noopPublisher{}
	}
	return &PollService{pollRepo: pollRepo, policy: pol, flags: flags, events: events, now: time.Now}
}

func (s *PollService) CreatePoll(ctx context.Context, actor policy.Actor, in CreatePollInput) (*models.Poll, error) {
	if err := s.policy.Authorize(actor, policy.Platform, policy.CreatePoll); err != nil {
		return nil, err
	}

	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
	in.Options = trimOptions(in.Options)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if !in.ExpiresAt.After(s.now()) {
		return nil, models.NewValidationError("expires_at must be in the future")
	}
	if err := ensureDistinct(lo.Map(in.Options, func(o OptionInput, _ int) string { return o.Text })); err != nil {
		return nil, err
	}

	poll := &models.Poll{
		Title:           in.Title,
		Description:     in.Description,
		ImageURL:        in.ImageURL,
		Category:        in.Category,
		ExpiresAt:       in.ExpiresAt,
		IsPublic:        in.IsPublic == nil || *in.IsPublic,
		AllowVoteChange: in.AllowVoteChange,
		UserID:          actor.UserID,
		Options: lo.Map(in.Options, func(o OptionInput, _ int) models.Option {
			return models.Option{Text: o.Text, ImageURL: o.ImageURL}
		}),
	}
	if err := s.pollRepo.Create(ctx, poll); err != nil {
		return nil, err
	}
	middleware.Logger.InfoContext(ctx, "poll created", "poll_id", poll.ID, "options", len(poll.Options))

	created, err := s.GetPoll(ctx, poll.ID)
	if err != nil {
		return nil, err
	}
	if created.IsPublic {
		s.events.PublishBroadcast(ctx, EventPollCreated, map[string]any{
			"poll_id": created.ID,
			"title":   created.Title,
		})
	}
	return created, nil
}

// GetPoll returns a poll with its option tallies.
func (s *PollService) GetPoll(ctx context.Context, id uint) (*models.Poll, error) {
	poll, err := s.pollRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.attachTallies(ctx, poll); err != nil {
		return nil, err
	}
	return poll, nil
}

func (s *PollService) ListPolls(ctx context.Context, in ListPollsInput) (*PollPage, error) {
	if in.Status != "" && in.Status != repository.StatusActive && in.Status != repository.StatusExpired {
		return nil, models.NewValidationError("status must be one of: active, expired")
	}
	limit, offset := clampPage(in.Limit, in.Offset)

	polls, total, err := s.pollRepo.List(ctx, repository.PollFilter{
		Category: strings.TrimSpace(in.Category),
		Status:   in.Status,
		Now:      s.now(),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, err
	}
	for i := range polls {
		if err := s.attachTallies(ctx, &polls[i]); err != nil {
			return nil, err
		}
	}
	return &PollPage{Polls: polls, Total: total, Limit: limit, Offset: offset}, nil
}

// ListMine returns the caller's polls with vote and comment counts.
func (s *PollService) ListMine(ctx context.Context, actor policy.Actor) ([]models.Poll, error) {
	if actor.UserID == 0 {
		return nil, models.NewUnauthorizedError("Authorization required")
	}
	return s.pollRepo.ListByUser(ctx, actor.UserID)
}

// Trending ranks open public polls by votes over the last 24 hours.
func (s *PollService) Trending(ctx context.Context, actor policy.Actor, limit int) ([]models.Poll, error) {
	if !s.flags.Enabled(featureflags.Trending, actor.UserID) {
		return nil, &models.AppError{Code: models.CodeNotFound, Message: "Trending polls are not available"}
	}
	if limit <= 0 || limit > maxPageSize {
		limit = trendingPageSize
	}
	now := s.now()
	polls, err := s.pollRepo.Trending(ctx, now.Add(-trendingWindow), now, limit)
	if err != nil {
		return nil, err
	}
	for i := range polls {
		recent := polls[i].VoteCount
		if err := s.attachTallies(ctx, &polls[i]); err != nil {
			return nil, err
		}
		polls[i].VoteCount = recent
	}
	return polls, nil
}

func (s *PollService) UpdatePoll(ctx context.Context, actor policy.Actor, in UpdatePollInput) (*models.Poll, error) {
	poll, err := s.pollRepo.GetByID(ctx, in.PollID)
	if err != nil {
		return nil, err
	}
	res := policy.PollResource(poll)
	if err := s.policy.Authorize(actor, res, policy.UpdatePoll); err != nil {
		return nil, err
	}

	in.Options = trimOptions(in.Options)
	if in.Title != nil {
		trimmed := strings.TrimSpace(*in.Title)
		in.Title = &trimmed
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	edit, err := buildOptionEdit(poll, in)
	if err != nil {
		return nil, err
	}
	if len(in.Options) > 0 || len(in.DeletedOptionIDs) > 0 {
		if err := s.policy.Authorize(actor, res, policy.ManageOptions); err != nil {
			return nil, err
		}
	}

	applyPollFields(poll, in)
	if err := s.pollRepo.Update(ctx, poll, edit); err != nil {
		return nil, err
	}

	updated, err := s.GetPoll(ctx, poll.ID)
	if err != nil {
		return nil, err
	}
	s.events.PublishPoll(ctx, poll.ID, EventPollUpdated, updated)
	return updated, nil
}

func applyPollFields(poll *models.Poll, in UpdatePollInput) {
	if in.Title != nil {
		poll.Title = *in.Title
	}
	if in.Description != nil {
		poll.Description = strings.TrimSpace(*in.Description)
	}
	if in.ImageURL != nil {
		poll.ImageURL = strings.TrimSpace(*in.ImageURL)
	}
	if in.Category != nil {
		poll.Category = strings.TrimSpace(*in.Category)
	}
	if in.ExpiresAt != nil {
		poll.ExpiresAt = *in.ExpiresAt
	}
	if in.IsPublic != nil {
		poll.IsPublic = *in.IsPublic
	}
	if in.AllowVoteChange != nil {
		poll.AllowVoteChange = *in.AllowVoteChange
	}
}

// buildOptionEdit splits the submitted options into renames and additions and
// checks that every referenced option belongs to the poll.
func buildOptionEdit(poll *models.Poll, in UpdatePollInput) (repository.OptionEdit, error) {
	edit := repository.OptionEdit{Rename: map[uint]string{}}
	known := lo.Map(poll.Options, func(o models.Option, _ int) uint { return o.ID })

	for _, id := range lo.Uniq(in.DeletedOptionIDs) {
		if !lo.Contains(known, id) {
			return edit, models.NewValidationError(fmt.Sprintf("Option %d does not belong to this poll", id))
		}
		edit.Delete = append(edit.Delete, id)
	}
	for _, o := range in.Options {
		switch {
		case o.IsNew || o.ID == 0:
			edit.Add = append(edit.Add, models.Option{Text: o.Text, ImageURL: o.ImageURL})
		case !lo.Contains(known, o.ID):
			return edit, models.NewValidationError(fmt.Sprintf("Option %d does not belong to this poll", o.ID))
		case lo.Contains(edit.Delete, o.ID):
			// deleted in the same request
		default:
			edit.Rename[o.ID] = o.Text
		}
	}

	remaining := len(known) - len(edit.Delete) + len(edit.Add)
	if remaining > maxOptions {
		return edit, models.NewValidationError(fmt.Sprintf("A poll can have at most %d options", maxOptions))
	}

	final := lo.Map(lo.Filter(poll.Options, func(o models.Option, _ int) bool {
		return !lo.Contains(edit.Delete, o.ID)
	}), func(o models.Option, _ int) string {
		if text, ok := edit.Rename[o.ID]; ok {
			return text
		}
		return o.Text
	})
	final = append(final, lo.Map(edit.Add, func(o models.Option, _ int) string { return o.Text })...)
	return edit, ensureDistinct(final)
}

func (s *PollService) AddOption(ctx context.Context, actor policy.Actor, pollID uint, in OptionInput) (*models.Option, error) {
	poll, err := s.pollRepo.GetByID(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(actor, policy.PollResource(poll), policy.ManageOptions); err != nil {
		return nil, err
	}
	in.Text = strings.TrimSpace(in.Text)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if len(poll.Options) >= maxOptions {
		return nil, models.NewValidationError(fmt.Sprintf("A poll can have at most %d options", maxOptions))
	}
	existing := lo.Map(poll.Options, func(o models.Option, _ int) string { return o.Text })
	if err := ensureDistinct(append(existing, in.Text)); err != nil {
		return nil, err
	}

	option := &models.Option{PollID: poll.ID, Text: in.Text, ImageURL: in.ImageURL}
	if err := s.pollRepo.AddOption(ctx, option); err != nil {
		return nil, err
	}
	s.publishUpdated(ctx, poll.ID)
	return option, nil
}

func (s *PollService) DeleteOption(ctx context.Context, actor policy.Actor, pollID, optionID uint) error {
	poll, err := s.pollRepo.GetByID(ctx, pollID)
	if err != nil {
		return err
	}
	if err := s.policy.Authorize(actor, policy.PollResource(poll), policy.ManageOptions); err != nil {
		return err
	}
	if !poll.HasOption(optionID) {
		return models.NewNotFoundError("Option", optionID)
	}
	if err := s.pollRepo.DeleteOption(ctx, pollID, optionID); err != nil {
		return err
	}
	s.publishUpdated(ctx, poll.ID)
	return nil
}

func (s *PollService) DeletePoll(ctx context.Context, actor policy.Actor, id uint) error {
	poll, err := s.pollRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.policy.Authorize(actor, policy.PollResource(poll), policy.DeletePoll); err != nil {
		return err
	}
	if err := s.pollRepo.Delete(ctx, id); err != nil {
		return err
	}
	middleware.Logger.InfoContext(ctx, "poll deleted", "poll_id", id, "by", actor.UserID)
	s.events.PublishPoll(ctx, id, EventPollDeleted, map[string]any{"poll_id": id})
	return nil
}

// Results returns every vote on the poll with the voter's name.
func (s *PollService) Results(ctx context.Context, actor policy.Actor, id uint) (*PollResultsReport, error) {
	poll, rows, err := s.voterRows(ctx, actor, id, policy.ViewResults)
	if err != nil {
		return nil, err
	}
	return &PollResultsReport{PollTitle: poll.Title, TotalVotes: len(rows), Results: rows}, nil
}

// ExportCSV writes the poll's votes, oldest first, as CSV: a header block,
// an empty row, then one row per vote.
func (s *PollService) ExportCSV(ctx context.Context, actor policy.Actor, id uint, w io.Writer) (string, error) {
	poll, rows, err := s.voterRows(ctx, actor, id, policy.ExportResults)
	if err != nil {
		return "", err
	}
	oldestFirst := lo.Reverse(append([]models.VoterResult(nil), rows...))

	records := [][]string{
		{"Poll Title", poll.Title},
		{"Total Votes", strconv.Itoa(len(rows))},
		{"Exported At", s.now().UTC().Format(time.RFC3339)},
		{},
		{"Voter Name", "Email", "Selected Option", "Voted At"},
	}
	records = append(records, lo.Map(oldestFirst, func(r models.VoterResult, _ int) []string {
		return []string{r.Voter, r.Email, r.Option, r.VotedAt.UTC().Format(time.RFC3339)}
	})...)

	cw := csv.NewWriter(w)
	if err := cw.WriteAll(records); err != nil {
		return "", models.NewInternalError(err)
	}
	return fmt.Sprintf("poll-%d-results.csv", poll.ID), nil
}

func (s *PollService) voterRows(ctx context.Context, actor policy.Actor, id uint, action policy.Action) (*models.Poll, []models.VoterResult, error) {
	poll, err := s.pollRepo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := s.policy.Authorize(actor, policy.PollResource(poll), action); err != nil {
		return nil, nil, err
	}
	rows, err := s.pollRepo.VoterResults(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return poll, rows, nil
}

func (s *PollService) attachTallies(ctx context.Context, poll *models.Poll) error {
	results, err := s.pollRepo.Tallies(ctx, poll.ID)
	if err != nil {
		return err
	}
	byOption := lo.KeyBy(results.Options, func(t models.OptionTally) uint { return t.OptionID })
	for i := range poll.Options {
		poll.Options[i].VoteCount = byOption[poll.Options[i].ID].Votes
	}
	poll.VoteCount = results.TotalVotes
	return nil
}

func (s *PollService) publishUpdated(ctx context.Context, pollID uint) {
	updated, err := s.GetPoll(ctx, pollID)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "failed to reload poll for update event", "poll_id", pollID, "error", err)
		return
	}
	s.events.PublishPoll(ctx, pollID, EventPollUpdated, updated)
}

func trimOptions(in []OptionInput) []OptionInput {
	return lo.Map(in, func(o OptionInput, _ int) OptionInput {
		o.Text = strings.TrimSpace(o.Text)
		o.ImageURL = strings.TrimSpace(o.ImageURL)
		return o
	})
}

func ensureDistinct(texts []string) error {
	folded := lo.Map(texts, func(t string, _ int) string { return strings.ToLower(t) })
	if len(lo.Uniq(folded)) != len(folded) {
		return models.NewValidationError("Options must be unique")
	}
	return nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
