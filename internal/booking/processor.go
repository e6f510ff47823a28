package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gabs/internal/config"
	"gabs/internal/database"
	"gabs/internal/domain"
	"gabs/internal/events"
	"gabs/internal/matcher"
	"gabs/internal/metrics"
	"gabs/internal/models"
	"gabs/internal/portal"
	"gabs/internal/session"
)

// Processor drives pending recurring bookings through one attempt each cycle.
// Concurrency control is per record: a compare-and-set transition from pending
// to in_progress makes attempts mutually exclusive across processes, and
// every code path out of an attempt leaves the record in pending or failed.
type Processor struct {
	store    domain.Store
	sessions domain.SessionProvider
	executor *Executor
	sink     domain.DiagnosticSink
	bus      domain.EventPublisher
	notifier domain.Notifier
	cfg      config.BookingConfig
	loc      *time.Location
	logger   zerolog.Logger

	// Injectable for tests.
	now func() time.Time
}

func NewProcessor(store domain.Store, sessions domain.SessionProvider, sink domain.DiagnosticSink,
	bus domain.EventPublisher, notifier domain.Notifier, cfg config.BookingConfig,
	loc *time.Location, logger *zerolog.Logger) *Processor {

	return &Processor{
		store:    store,
		sessions: sessions,
		executor: NewExecutor(logger),
		sink:     sink,
		bus:      bus,
		notifier: notifier,
		cfg:      cfg,
		loc:      loc,
		logger:   logger.With().Str("component", "processor").Logger(),
		now:      time.Now,
	}
}

// Run executes one full processing cycle: reclaim stale locks, then attempt
// every due pending record.
func (p *Processor) Run(ctx context.Context) error {
	start := p.now()
	defer func() { metrics.ObserveCycle(p.now().Sub(start)) }()

	if err := p.reclaimStale(ctx); err != nil {
		p.logger.Error().Err(err).Msg("stale lock reclaim failed")
	}

	pending, err := p.store.GetPendingAutoBookings(ctx)
	if err != nil {
		return fmt.Errorf("fetch pending bookings: %w", err)
	}

	for _, b := range pending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.processOne(ctx, b)
	}
	return nil
}

// reclaimStale returns in_progress records whose last attempt is older than
// the staleness threshold to pending. A crashed worker leaves its lock behind;
// without this sweep the record would be stuck forever.
func (p *Processor) reclaimStale(ctx context.Context) error {
	stuck, err := p.store.GetInProgressAutoBookings(ctx)
	if err != nil {
		return err
	}
	cutoff := p.now().Add(-p.cfg.StalenessThreshold)
	for _, b := range stuck {
		if b.LastAttemptAt != nil && b.LastAttemptAt.After(cutoff) {
			continue
		}
		if err := p.store.UpdateAutoBookingStatus(ctx, b.ID, models.StatusPending, database.AutoBookingUpdate{}); err != nil {
			p.logger.Error().Err(err).Int64("id", b.ID).Msg("failed to reclaim stuck booking")
			continue
		}
		metrics.IncStaleReclaim()
		p.logger.Warn().
			Int64("id", b.ID).
			Str("username", b.Username).
			Msg("reclaimed stuck in_progress booking")
	}
	return nil
}

// processOne decides whether the record is due and, if so, locks and attempts
// it. Not-due records are skipped silently; they come around every cycle.
func (p *Processor) processOne(ctx context.Context, b *models.AutoBooking) {
	log := p.logger.With().
		Int64("id", b.ID).
		Str("username", b.Username).
		Str("class", b.ClassName).
		Logger()

	day, err := models.ParseWeekday(b.DayOfWeek)
	if err != nil {
		log.Error().Err(err).Msg("unbookable record, marking failed")
		p.finish(ctx, b, models.StatusFailed, database.AutoBookingUpdate{})
		return
	}

	now := p.now().In(p.loc)
	occurrence := models.NextOccurrence(now, day)
	startsAt, err := time.ParseInLocation(models.DateLayout+" "+models.TimeLayout, occurrence+" "+b.TargetTime, p.loc)
	if err != nil {
		log.Error().Err(err).Msg("unparseable target time, marking failed")
		p.finish(ctx, b, models.StatusFailed, database.AutoBookingUpdate{})
		return
	}
	// Today's class that already started counts as next week's.
	if startsAt.Before(now) {
		startsAt = startsAt.AddDate(0, 0, 7)
		occurrence = startsAt.Format(models.DateLayout)
	}

	if b.LastBookedDate == occurrence {
		return
	}
	if startsAt.Sub(now) > time.Duration(p.cfg.WindowHours)*time.Hour {
		return
	}

	locked, err := p.store.LockAutoBooking(ctx, b.ID)
	if err != nil {
		log.Error().Err(err).Msg("lock attempt failed")
		return
	}
	if !locked {
		return
	}

	// Another process may have finished the record between our read and the
	// lock; work from a fresh copy.
	fresh, err := p.store.GetAutoBooking(ctx, b.ID)
	if err != nil || fresh.Status != models.StatusInProgress {
		if err != nil {
			log.Error().Err(err).Msg("re-read after lock failed")
		}
		return
	}

	p.attempt(ctx, fresh, occurrence, log)
}

// attempt runs one booking attempt against the portal and maps the outcome to
// the record's next state. The deferred guard guarantees the lock is released
// even when a code path forgets to.
func (p *Processor) attempt(ctx context.Context, b *models.AutoBooking, occurrence string, log zerolog.Logger) {
	released := false
	defer func() {
		if !released {
			if err := p.store.UpdateAutoBookingStatus(ctx, b.ID, models.StatusPending, database.AutoBookingUpdate{}); err != nil {
				log.Error().Err(err).Msg("failed to release booking lock")
			}
		}
	}()

	log.Info().Str("date", occurrence).Int("retry_count", b.RetryCount).Msg("attempting booking")

	client, err := p.sessions.Obtain(ctx, b.Username)
	if err != nil {
		if errors.Is(err, session.ErrCoolingDown) {
			// Credential trouble, not a booking failure. Leave the retry
			// budget alone and let the cooldown lapse.
			log.Warn().Msg("user in login cooldown, deferring attempt")
			return
		}
		log.Error().Err(err).Msg("could not obtain session")
		released = p.finishAttempt(ctx, b, occurrence, AttemptResult{
			Outcome: models.OutcomeError,
			Message: fmt.Sprintf("session unavailable: %v", err),
		}, log)
		return
	}

	var result AttemptResult
	var chosen *portal.ClassEntry
	op := func(c domain.PortalClient) error {
		entries, raw, err := c.ClassesForDate(ctx, occurrence)
		if err != nil {
			return err
		}

		candidates := make([]models.ClassCandidate, len(entries))
		for i, e := range entries {
			candidates[i] = e.Candidate
		}
		target := matcher.Target{ClassName: b.ClassName, TargetTime: b.TargetTime, Instructor: b.Instructor}
		m := matcher.Match(candidates, target, p.cfg.MatchThreshold)
		if !m.Matched {
			result = AttemptResult{
				Outcome: models.OutcomeNoMatch,
				Message: fmt.Sprintf("no class matched %q at %s (closest %q at %.0f)", b.ClassName, b.TargetTime, m.NearestName, m.BestScore),
			}
			chosen = nil
			if p.sink != nil {
				p.sink.Write(fmt.Sprintf("no_match_%d_%s", b.ID, occurrence), raw)
			}
			return nil
		}

		entry := entries[m.Index]
		chosen = &entry
		res := p.executor.Execute(ctx, c, entry)
		if res.Outcome == models.OutcomeSessionExpired {
			return portal.ErrSessionExpired
		}
		result = res
		return nil
	}

	if err := session.WithRelogin(ctx, p.sessions, client, op); err != nil {
		if errors.Is(err, portal.ErrSessionExpired) {
			result = AttemptResult{Outcome: models.OutcomeSessionExpired, Message: err.Error()}
			if p.bus != nil {
				_ = p.bus.PublishJSON(events.EventSessionExpired, events.BookingEventPayload{
					AutoBookingID: b.ID,
					Username:      b.Username,
					ClassName:     b.ClassName,
					Date:          occurrence,
				})
			}
		} else {
			result = AttemptResult{Outcome: models.OutcomeError, Message: err.Error()}
		}
	}

	if result.Outcome == models.OutcomeSuccess && chosen != nil {
		p.recordLiveBooking(ctx, b, occurrence, chosen, log)
	}
	released = p.finishAttempt(ctx, b, occurrence, result, log)
}

// finishAttempt maps the attempt outcome to the record's next status and
// persists it. Returns true when the status was written, i.e. the lock no
// longer needs the deferred release.
func (p *Processor) finishAttempt(ctx context.Context, b *models.AutoBooking, occurrence string, result AttemptResult, log zerolog.Logger) bool {
	now := p.now()
	metrics.IncBookingAttempt(string(result.Outcome))

	switch result.Outcome {
	case models.OutcomeSuccess, models.OutcomeAlreadyBooked:
		zero := 0
		ok := p.finish(ctx, b, models.StatusPending, database.AutoBookingUpdate{
			LastBookedDate: &occurrence,
			LastAttemptAt:  &now,
			RetryCount:     &zero,
		})
		log.Info().Str("outcome", string(result.Outcome)).Str("date", occurrence).Msg("booking secured")
		if result.Outcome == models.OutcomeSuccess {
			if p.bus != nil {
				_ = p.bus.PublishJSON(events.EventBookingSucceeded, events.BookingEventPayload{
					AutoBookingID: b.ID,
					Username:      b.Username,
					ClassName:     b.ClassName,
					Date:          occurrence,
					TimeOfDay:     b.TargetTime,
					Outcome:       string(result.Outcome),
				})
			}
			if p.notifier != nil {
				_ = p.notifier.Notify(ctx, b.Username, "Class booked",
					fmt.Sprintf("%s on %s at %s", b.ClassName, occurrence, b.TargetTime))
			}
		}
		return ok

	case models.OutcomeSessionExpired:
		// An expired session heals on a later relogin, so the record never
		// exhausts to failed over it. The counter still moves for visibility.
		retries := b.RetryCount + 1
		ok := p.finish(ctx, b, models.StatusPending, database.AutoBookingUpdate{
			LastAttemptAt: &now,
			RetryCount:    &retries,
		})
		log.Warn().
			Int("retry_count", retries).
			Str("detail", result.Message).
			Msg("session expired, retrying next cycle")
		return ok

	default:
		retries := b.RetryCount + 1
		budget := p.cfg.MaxRetries
		if result.Outcome == models.OutcomeNoMatch {
			// A missing class rarely appears on a re-scrape of the same day,
			// so match failures get a tighter budget.
			budget = p.cfg.NoMatchRetries
		}

		status := models.StatusPending
		if retries >= budget {
			status = models.StatusFailed
		}
		ok := p.finish(ctx, b, status, database.AutoBookingUpdate{
			LastAttemptAt: &now,
			RetryCount:    &retries,
		})

		evt := events.EventBookingFailed
		if status == models.StatusFailed {
			evt = events.EventBookingExhausted
		}
		if p.bus != nil {
			_ = p.bus.PublishJSON(evt, events.BookingEventPayload{
				AutoBookingID: b.ID,
				Username:      b.Username,
				ClassName:     b.ClassName,
				Date:          occurrence,
				TimeOfDay:     b.TargetTime,
				Outcome:       string(result.Outcome),
				RetryCount:    retries,
				Message:       result.Message,
			})
		}
		log.Warn().
			Str("outcome", string(result.Outcome)).
			Str("status", status).
			Int("retry_count", retries).
			Str("detail", result.Message).
			Msg("booking attempt failed")
		if status == models.StatusFailed && p.notifier != nil {
			_ = p.notifier.Notify(ctx, b.Username, "Booking needs attention",
				fmt.Sprintf("%s on %s could not be booked: %s", b.ClassName, occurrence, result.Message))
		}
		return ok
	}
}

func (p *Processor) finish(ctx context.Context, b *models.AutoBooking, status string, upd database.AutoBookingUpdate) bool {
	if err := p.store.UpdateAutoBookingStatus(ctx, b.ID, status, upd); err != nil {
		p.logger.Error().Err(err).Int64("id", b.ID).Msg("failed to persist booking state")
		return false
	}
	return true
}

func (p *Processor) recordLiveBooking(ctx context.Context, b *models.AutoBooking, occurrence string, entry *portal.ClassEntry, log zerolog.Logger) {
	id := b.ID
	live := &models.LiveBooking{
		Username:      b.Username,
		ClassName:     entry.Candidate.Name,
		Date:          occurrence,
		TimeOfDay:     entry.Candidate.StartTime,
		Instructor:    entry.Candidate.Instructor,
		AutoBookingID: &id,
	}
	if err := p.store.AddOrUpdateLiveBooking(ctx, live); err != nil {
		log.Error().Err(err).Msg("failed to record live booking")
	}
}

// ResetFailed returns failed records whose last attempt is older than the
// configured cool-off to pending, giving them a fresh retry budget. Runs on
// its own schedule, once a day by default.
func (p *Processor) ResetFailed(ctx context.Context) error {
	cutoff := p.now().Add(-p.cfg.FailedResetAfter)
	n, err := p.store.ResetFailedAutoBookings(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("reset failed bookings: %w", err)
	}
	if n > 0 {
		p.logger.Info().Int64("count", n).Msg("returned failed bookings to pending")
	}
	return nil
}
