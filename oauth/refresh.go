// Package oauth keeps stored provider tokens fresh. The result sweep depends
// on a valid Google access token being available in the oauth_tokens table, so
// a background refresher renews it before expiry instead of paying the refresh
// cost inside the sweep itself.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"time"
)

// RefreshFunc performs provider-specific refresh and returns the new
// (access, refresh, expiry, scope) tuple.
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// Refresher periodically renews one provider's stored token when its
// remaining lifetime drops inside Window.
type Refresher struct {
	DB       *sql.DB
	Provider string
	Interval time.Duration
	Window   time.Duration
	Refresh  RefreshFunc
}

// Start launches the refresh loop in a goroutine. Safe defaults are applied
// for a zero Interval or Window. The initial check is delayed by a random
// fraction of the interval so multiple instances don't stampede the provider.
func (r *Refresher) Start(ctx context.Context) {
	if r.Interval <= 0 {
		r.Interval = 5 * time.Minute
	}
	if r.Window <= 0 {
		r.Window = 15 * time.Minute
	}
	go func() {
		//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
		delay := time.Duration(rand.Int63n(int64(r.Interval / 2)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.checkOnce(ctx)
			}
		}
	}()
}

func (r *Refresher) checkOnce(ctx context.Context) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope FROM oauth_tokens WHERE provider=$1 LIMIT 1`, r.Provider)
	var access, refresh, scope string
	var expiry time.Time
	if err := row.Scan(&access, &refresh, &expiry, &scope); err != nil {
		return
	}
	if refresh == "" || time.Until(expiry) > r.Window {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAccess, newRefresh, newExpiry, newScope, err := r.Refresh(rctx, refresh)
	cancel()
	if err != nil {
		slog.Warn("token refresh failed", slog.String("provider", r.Provider), slog.Any("err", err))
		return
	}
	if newRefresh == "" {
		newRefresh = refresh
	}
	if newScope == "" {
		newScope = scope
	}
	if _, err := r.DB.ExecContext(ctx,
		`UPDATE oauth_tokens SET access_token=$1, refresh_token=$2, expires_at=$3, scope=$4, updated_at=NOW() WHERE provider=$5`,
		newAccess, newRefresh, newExpiry, newScope, r.Provider); err != nil {
		slog.Warn("token persist failed", slog.String("provider", r.Provider), slog.Any("err", err))
		return
	}
	slog.Info("token refreshed", slog.String("provider", r.Provider))
}
