package session

import (
	"context"
	"errors"
	"fmt"

	"gabs/internal/domain"
	"gabs/internal/portal"
)

// WithRelogin runs op against the client and, if it fails with
// ErrSessionExpired, re-authenticates and retries exactly once. A failed
// re-login re-raises ErrSessionExpired to the caller; there is no second
// retry under any circumstances.
func WithRelogin(ctx context.Context, provider domain.SessionProvider,
	client domain.PortalClient, op func(domain.PortalClient) error) error {

	err := op(client)
	if !errors.Is(err, portal.ErrSessionExpired) {
		return err
	}

	fresh, loginErr := provider.Relogin(ctx, client.Username())
	if loginErr != nil {
		return fmt.Errorf("%w: re-login failed: %v", portal.ErrSessionExpired, loginErr)
	}
	return op(fresh)
}
