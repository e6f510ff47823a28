package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gabs/internal/config"
	"gabs/internal/domain"
	"gabs/internal/events"
	"gabs/internal/metrics"
	"gabs/internal/models"
)

// ReminderService sends a single pre-class reminder for each live booking
// whose start time falls inside the configured lead window. Bookings created
// or synced after the window has passed are never reminded; the sent flag
// makes each reminder one-shot.
type ReminderService struct {
	store    domain.Store
	notifier domain.Notifier
	bus      domain.EventPublisher
	cfg      config.ReminderConfig
	loc      *time.Location
	logger   zerolog.Logger

	now func() time.Time
}

func NewReminderService(store domain.Store, notifier domain.Notifier, bus domain.EventPublisher, cfg config.ReminderConfig, loc *time.Location, logger *zerolog.Logger) *ReminderService {
	return &ReminderService{
		store:    store,
		notifier: notifier,
		bus:      bus,
		cfg:      cfg,
		loc:      loc,
		logger:   logger.With().Str("component", "reminders").Logger(),
		now:      time.Now,
	}
}

// Run performs one reminder sweep.
func (s *ReminderService) Run(ctx context.Context) error {
	bookings, err := s.store.ListUnremindedLiveBookings(ctx)
	if err != nil {
		return fmt.Errorf("list unreminded bookings: %w", err)
	}

	now := s.now().In(s.loc)
	for _, b := range bookings {
		startsAt, err := b.StartsAt(s.loc)
		if err != nil {
			s.logger.Warn().Err(err).Int64("id", b.ID).Msg("unparseable booking start, skipping")
			continue
		}
		lead := startsAt.Sub(now)
		if lead < s.cfg.LeadMin || lead > s.cfg.LeadMax {
			continue
		}
		s.send(ctx, b, startsAt)
	}
	return nil
}

func (s *ReminderService) send(ctx context.Context, b *models.LiveBooking, startsAt time.Time) {
	title := "Upcoming class"
	body := fmt.Sprintf("%s starts at %s", b.ClassName, startsAt.Format("15:04"))
	if err := s.notifier.Notify(ctx, b.Username, title, body); err != nil {
		s.logger.Warn().Err(err).Int64("id", b.ID).Msg("reminder delivery failed")
		return
	}
	if err := s.store.MarkReminderSent(ctx, b.ID); err != nil {
		s.logger.Error().Err(err).Int64("id", b.ID).Msg("failed to mark reminder sent")
		return
	}
	metrics.IncReminderSent()
	if s.bus != nil {
		_ = s.bus.PublishJSON(events.EventReminderSent, events.BookingEventPayload{
			Username:  b.Username,
			ClassName: b.ClassName,
			Date:      b.Date,
			TimeOfDay: b.TimeOfDay,
		})
	}
	s.logger.Info().
		Str("username", b.Username).
		Str("class", b.ClassName).
		Str("starts_at", startsAt.Format(time.RFC3339)).
		Msg("reminder sent")
}
