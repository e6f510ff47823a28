package notify

import (
	"context"

	"github.com/rs/zerolog"

	"gabs/internal/domain"
)

// LogNotifier records notifications in the structured log. It stands in for a
// real delivery channel; the reminder service treats delivery as best-effort
// either way.
type LogNotifier struct {
	store  domain.Store
	logger zerolog.Logger
}

func NewLogNotifier(store domain.Store, logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{
		store:  store,
		logger: logger.With().Str("component", "notifier").Logger(),
	}
}

func (n *LogNotifier) Notify(ctx context.Context, username, title, body string) error {
	subs, err := n.store.ListPushSubscriptions(ctx, username)
	if err != nil {
		n.logger.Warn().Err(err).Str("username", username).Msg("failed to load push subscriptions")
	}
	n.logger.Info().
		Str("username", username).
		Str("title", title).
		Str("body", body).
		Int("subscriptions", len(subs)).
		Msg("notification")
	return nil
}
