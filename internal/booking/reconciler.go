package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"gabs/internal/domain"
	"gabs/internal/models"
	"gabs/internal/portal"
	"gabs/internal/session"
)

// Reconciler keeps the local live-booking cache in step with what the portal
// actually holds. The portal is the source of truth: bookings made or
// cancelled out of band show up here first.
type Reconciler struct {
	store    domain.Store
	sessions domain.SessionProvider
	logger   zerolog.Logger
}

func NewReconciler(store domain.Store, sessions domain.SessionProvider, logger *zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		sessions: sessions,
		logger:   logger.With().Str("component", "reconciler").Logger(),
	}
}

// Run reconciles every user that has recurring bookings. Per-user failures
// are logged and skipped so one broken session cannot stall the rest.
func (r *Reconciler) Run(ctx context.Context) error {
	usernames, err := r.store.ListAutoBookingUsernames(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, username := range usernames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := r.ReconcileUser(ctx, username); err != nil {
			r.logger.Warn().Err(err).Str("username", username).Msg("reconcile skipped")
		}
	}
	return nil
}

// ReconcileUser diffs the portal's current bookings against the local cache
// for one user and applies the difference. The operation is idempotent:
// running it twice against an unchanged portal is a no-op the second time.
func (r *Reconciler) ReconcileUser(ctx context.Context, username string) error {
	client, err := r.sessions.Obtain(ctx, username)
	if err != nil {
		return fmt.Errorf("obtain session: %w", err)
	}

	var remote []portal.BookingSnapshot
	err = session.WithRelogin(ctx, r.sessions, client, func(c domain.PortalClient) error {
		var opErr error
		remote, opErr = c.CurrentBookings(ctx)
		return opErr
	})
	if err != nil {
		return fmt.Errorf("fetch current bookings: %w", err)
	}

	local, err := r.store.ListLiveBookingsForUser(ctx, username)
	if err != nil {
		return fmt.Errorf("list local bookings: %w", err)
	}

	return r.apply(ctx, username, remote, local)
}

func (r *Reconciler) apply(ctx context.Context, username string, remote []portal.BookingSnapshot, local []*models.LiveBooking) error {
	localByKey := make(map[string]*models.LiveBooking, len(local))
	localBySlot := make(map[string][]*models.LiveBooking)
	for _, b := range local {
		localByKey[bookingKey(b.ClassName, b.Date, b.TimeOfDay)] = b
		slot := b.Date + "|" + b.TimeOfDay
		localBySlot[slot] = append(localBySlot[slot], b)
	}

	matched := make(map[int64]bool, len(local))
	for _, snap := range remote {
		key := bookingKey(snap.ClassName, snap.Date, snap.TimeOfDay)
		if b, ok := localByKey[key]; ok {
			matched[b.ID] = true
			// The key match is case-insensitive; the cached row still tracks
			// the portal's exact casing.
			if b.ClassName != snap.ClassName {
				if err := r.store.RenameLiveBooking(ctx, b.ID, snap.ClassName); err != nil {
					return fmt.Errorf("rename booking %d: %w", b.ID, err)
				}
			}
			continue
		}

		// Same slot under a different name is the portal renaming a class the
		// processor booked. Rename in place so the back-reference to the
		// recurring definition survives.
		if renamed := r.renameInSlot(ctx, username, snap, localBySlot, matched); renamed {
			continue
		}

		live := &models.LiveBooking{
			Username:  username,
			ClassName: snap.ClassName,
			Date:      snap.Date,
			TimeOfDay: snap.TimeOfDay,
		}
		if err := r.store.AddOrUpdateLiveBooking(ctx, live); err != nil {
			return fmt.Errorf("insert booking %s: %w", snap.ClassName, err)
		}
		r.logger.Info().
			Str("username", username).
			Str("class", snap.ClassName).
			Str("date", snap.Date).
			Msg("booking discovered on portal")
	}

	// Local rows the portal no longer lists were either cancelled out of band
	// or have already taken place and dropped off the members page.
	for _, b := range local {
		if matched[b.ID] {
			continue
		}
		if err := r.store.DeleteLiveBooking(ctx, b.ID); err != nil {
			return fmt.Errorf("delete booking %d: %w", b.ID, err)
		}
		r.logger.Info().
			Str("username", username).
			Str("class", b.ClassName).
			Str("date", b.Date).
			Msg("booking gone from portal, removed locally")
	}
	return nil
}

func (r *Reconciler) renameInSlot(ctx context.Context, username string, snap portal.BookingSnapshot,
	localBySlot map[string][]*models.LiveBooking, matched map[int64]bool) bool {

	for _, b := range localBySlot[snap.Date+"|"+snap.TimeOfDay] {
		if matched[b.ID] {
			continue
		}
		if err := r.store.RenameLiveBooking(ctx, b.ID, snap.ClassName); err != nil {
			r.logger.Error().Err(err).Int64("id", b.ID).Msg("rename failed")
			return false
		}
		matched[b.ID] = true
		r.logger.Info().
			Str("username", username).
			Str("old", b.ClassName).
			Str("new", snap.ClassName).
			Str("date", snap.Date).
			Msg("booking renamed to portal name")
		return true
	}
	return false
}

func bookingKey(className, date, timeOfDay string) string {
	return strings.ToLower(strings.TrimSpace(className)) + "|" + date + "|" + timeOfDay
}
