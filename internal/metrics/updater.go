package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Source produces the state reported by the gauges.
type Source interface {
	MetricsSnapshot() Snapshot
}

// Updater republishes the gauges whenever the source signals a change, and on a fixed
// refresh interval so that cache entries expiring in place are reflected too.
type Updater struct {
	source  Source
	refresh time.Duration
	clock   clockwork.Clock
	trigger chan struct{}
}

// NewUpdater returns an updater for source. A refresh of zero disables periodic updates;
// a nil clock means the real clock.
func NewUpdater(source Source, refresh time.Duration, clock clockwork.Clock) *Updater {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Updater{
		source:  source,
		refresh: refresh,
		clock:   clock,
		// one slot: a pending trigger already covers any change made while we were busy
		trigger: make(chan struct{}, 1),
	}
}

// Start publishes once synchronously, then keeps the gauges current until ctx ends.
func (u *Updater) Start(ctx context.Context) {
	u.UpdateMetrics()

	var tick <-chan time.Time
	if u.refresh > 0 {
		ticker := u.clock.NewTicker(u.refresh)
		tick = ticker.Chan()
		go func() {
			<-ctx.Done()
			ticker.Stop()
		}()
	}

	go func() {
		for {
			select {
			case <-u.trigger:
				u.UpdateMetrics()
			case <-tick:
				u.UpdateMetrics()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Trigger requests an update without blocking the caller.
func (u *Updater) Trigger() {
	select {
	case u.trigger <- struct{}{}:
	default:
	}
}

func (u *Updater) UpdateMetrics() {
	s := u.source.MetricsSnapshot()
	Report(s)
	slog.Debug("metrics updated", "credentials", s.ValidCredentials+s.RevokedCredentials, "cache_valid", s.CacheValid, "paused", s.Paused)
}
