package booking

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"gabs/internal/models"
	"gabs/internal/portal"
)

func TestExecutorClassification(t *testing.T) {
	logger := zerolog.Nop()
	e := NewExecutor(&logger)
	ctx := context.Background()

	form := &portal.BookingForm{Handler: "onBook", ClassID: "1", Timestamp: "2", Action: models.ActionBook}

	t.Run("Success", func(t *testing.T) {
		client := &scriptedClient{username: "alice"}
		res := e.Execute(ctx, client, portal.ClassEntry{
			Candidate: models.ClassCandidate{Name: "Yoga", Remaining: 5},
			Form:      form,
		})
		assert.Equal(t, models.OutcomeSuccess, res.Outcome)
		assert.False(t, res.Waitlisted)
		assert.Equal(t, 1, client.submitCalls)
	})

	t.Run("WaitlistSuccess", func(t *testing.T) {
		wl := *form
		wl.Waitlist = true
		res := e.Execute(ctx, &scriptedClient{username: "alice"}, portal.ClassEntry{
			Candidate: models.ClassCandidate{Name: "Yoga", Remaining: 0},
			Form:      &wl,
		})
		assert.Equal(t, models.OutcomeSuccess, res.Outcome)
		assert.True(t, res.Waitlisted)
	})

	t.Run("AlreadyBooked", func(t *testing.T) {
		client := &scriptedClient{username: "alice"}
		res := e.Execute(ctx, client, portal.ClassEntry{
			Candidate:  models.ClassCandidate{Name: "Yoga"},
			Registered: true,
			Note:       "You are already registered",
			Form:       form,
		})
		assert.Equal(t, models.OutcomeAlreadyBooked, res.Outcome)
		assert.Zero(t, client.submitCalls)
	})

	t.Run("NoCapacity", func(t *testing.T) {
		res := e.Execute(ctx, &scriptedClient{}, portal.ClassEntry{
			Candidate: models.ClassCandidate{Name: "Yoga", Remaining: 0},
		})
		assert.Equal(t, models.OutcomeNoCapacity, res.Outcome)
	})

	t.Run("FormUnavailable", func(t *testing.T) {
		res := e.Execute(ctx, &scriptedClient{}, portal.ClassEntry{
			Candidate: models.ClassCandidate{Name: "Yoga", Remaining: -1},
		})
		assert.Equal(t, models.OutcomeFormUnavailable, res.Outcome)
	})

	t.Run("SessionExpired", func(t *testing.T) {
		client := &scriptedClient{
			submitFn: func(portal.BookingForm) error { return portal.ErrSessionExpired },
		}
		res := e.Execute(ctx, client, portal.ClassEntry{
			Candidate: models.ClassCandidate{Name: "Yoga"},
			Form:      form,
		})
		assert.Equal(t, models.OutcomeSessionExpired, res.Outcome)
	})

	t.Run("GenericError", func(t *testing.T) {
		client := &scriptedClient{
			submitFn: func(portal.BookingForm) error { return errors.New("portal 500") },
		}
		res := e.Execute(ctx, client, portal.ClassEntry{
			Candidate: models.ClassCandidate{Name: "Yoga"},
			Form:      form,
		})
		assert.Equal(t, models.OutcomeError, res.Outcome)
		assert.Contains(t, res.Message, "portal 500")
	})
}
