package booking

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"gabs/internal/domain"
	"gabs/internal/matcher"
	"gabs/internal/models"
	"gabs/internal/session"
)

// ManualService performs one-off book and cancel actions on behalf of a user,
// outside the recurring pipeline. Matching is stricter here: the caller names
// a concrete class on a concrete date, so only a high-confidence match is
// acted on.
type ManualService struct {
	store     domain.Store
	sessions  domain.SessionProvider
	executor  *Executor
	threshold float64
	logger    zerolog.Logger
}

func NewManualService(store domain.Store, sessions domain.SessionProvider, threshold float64, logger *zerolog.Logger) *ManualService {
	return &ManualService{
		store:     store,
		sessions:  sessions,
		executor:  NewExecutor(logger),
		threshold: threshold,
		logger:    logger.With().Str("component", "manual").Logger(),
	}
}

// Book books the named class for the user on the given date. The returned
// result carries the classified outcome; an error means the portal could not
// be consulted at all.
func (s *ManualService) Book(ctx context.Context, username, className, date, timeOfDay string) (AttemptResult, error) {
	client, err := s.sessions.Obtain(ctx, username)
	if err != nil {
		return AttemptResult{}, fmt.Errorf("obtain session: %w", err)
	}

	var result AttemptResult
	err = session.WithRelogin(ctx, s.sessions, client, func(c domain.PortalClient) error {
		entries, _, opErr := c.ClassesForDate(ctx, date)
		if opErr != nil {
			return opErr
		}

		candidates := make([]models.ClassCandidate, len(entries))
		for i, e := range entries {
			candidates[i] = e.Candidate
		}
		m := matcher.Match(candidates, matcher.Target{ClassName: className, TargetTime: timeOfDay}, s.threshold)
		if !m.Matched {
			result = AttemptResult{
				Outcome: models.OutcomeNoMatch,
				Message: fmt.Sprintf("no class matched %q at %s on %s", className, timeOfDay, date),
			}
			return nil
		}

		entry := entries[m.Index]
		result = s.executor.Execute(ctx, c, entry)
		if result.Outcome == models.OutcomeSuccess {
			live := &models.LiveBooking{
				Username:   username,
				ClassName:  entry.Candidate.Name,
				Date:       date,
				TimeOfDay:  entry.Candidate.StartTime,
				Instructor: entry.Candidate.Instructor,
			}
			if dbErr := s.store.AddOrUpdateLiveBooking(ctx, live); dbErr != nil {
				s.logger.Error().Err(dbErr).Str("username", username).Msg("failed to record manual booking")
			}
		}
		return nil
	})
	if err != nil {
		return AttemptResult{}, fmt.Errorf("book %q on %s: %w", className, date, err)
	}
	return result, nil
}

// Cancel cancels the user's booking for the named class on the given date.
func (s *ManualService) Cancel(ctx context.Context, username, className, date, timeOfDay string) (AttemptResult, error) {
	client, err := s.sessions.Obtain(ctx, username)
	if err != nil {
		return AttemptResult{}, fmt.Errorf("obtain session: %w", err)
	}

	var result AttemptResult
	err = session.WithRelogin(ctx, s.sessions, client, func(c domain.PortalClient) error {
		entries, _, opErr := c.ClassesForDate(ctx, date)
		if opErr != nil {
			return opErr
		}

		candidates := make([]models.ClassCandidate, len(entries))
		for i, e := range entries {
			candidates[i] = e.Candidate
		}
		m := matcher.Match(candidates, matcher.Target{ClassName: className, TargetTime: timeOfDay}, s.threshold)
		if !m.Matched {
			result = AttemptResult{
				Outcome: models.OutcomeNoMatch,
				Message: fmt.Sprintf("no class matched %q at %s on %s", className, timeOfDay, date),
			}
			return nil
		}

		entry := entries[m.Index]
		if entry.CancelForm == nil {
			result = AttemptResult{
				Outcome: models.OutcomeFormUnavailable,
				Message: fmt.Sprintf("no cancel action available for %s", entry.Candidate.Name),
			}
			return nil
		}
		if opErr := c.Submit(ctx, *entry.CancelForm); opErr != nil {
			return opErr
		}

		result = AttemptResult{Outcome: models.OutcomeSuccess}
		if dbErr := s.store.DeleteLiveBookingByKey(ctx, username, entry.Candidate.Name, date, entry.Candidate.StartTime); dbErr != nil {
			s.logger.Error().Err(dbErr).Str("username", username).Msg("failed to drop cancelled booking")
		}
		return nil
	})
	if err != nil {
		return AttemptResult{}, fmt.Errorf("cancel %q on %s: %w", className, date, err)
	}
	return result, nil
}
