package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"gabs/internal/domain"
	"gabs/internal/models"
	"gabs/internal/portal"
)

// AttemptResult is the classified result of one booking attempt. Outcome is
// always one of the models.Outcome constants; Message carries the portal-side
// detail for logs and events.
type AttemptResult struct {
	Outcome    models.Outcome
	Message    string
	Waitlisted bool
}

// Executor submits the action form of an already-matched class entry and
// classifies what the portal did with it.
type Executor struct {
	logger zerolog.Logger
}

func NewExecutor(logger *zerolog.Logger) *Executor {
	return &Executor{logger: logger.With().Str("component", "executor").Logger()}
}

// Execute books the given entry for the client's user. The decision tree
// mirrors what the class grid actually renders: a registered note means the
// booking already exists, an absent form with zero remaining spots means the
// class is full, and an absent form otherwise means the portal is not taking
// actions for this class right now.
func (e *Executor) Execute(ctx context.Context, client domain.PortalClient, entry portal.ClassEntry) AttemptResult {
	name := entry.Candidate.Name

	if entry.Registered {
		return AttemptResult{
			Outcome: models.OutcomeAlreadyBooked,
			Message: entry.Note,
		}
	}

	if entry.Form == nil {
		if entry.Candidate.Remaining == 0 {
			return AttemptResult{
				Outcome: models.OutcomeNoCapacity,
				Message: fmt.Sprintf("%s has no remaining spots and no waiting list", name),
			}
		}
		return AttemptResult{
			Outcome: models.OutcomeFormUnavailable,
			Message: fmt.Sprintf("no booking form rendered for %s", name),
		}
	}

	if err := client.Submit(ctx, *entry.Form); err != nil {
		if errors.Is(err, portal.ErrSessionExpired) {
			return AttemptResult{
				Outcome: models.OutcomeSessionExpired,
				Message: err.Error(),
			}
		}
		return AttemptResult{
			Outcome: models.OutcomeError,
			Message: fmt.Sprintf("submit failed for %s: %v", name, err),
		}
	}

	e.logger.Info().
		Str("username", client.Username()).
		Str("class", name).
		Bool("waitlist", entry.Form.Waitlist).
		Msg("booking submitted")

	return AttemptResult{
		Outcome:    models.OutcomeSuccess,
		Waitlisted: entry.Form.Waitlist,
	}
}
