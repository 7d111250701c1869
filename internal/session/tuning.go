package session

import (
	"log/slog"
	"time"
)

// Tuning bundles the timing knobs shared by every channel's session.
// Zero fields take the package defaults. Backoff constants are
// configuration, not protocol.
type Tuning struct {
	HeartbeatInterval time.Duration
	AckTimeout        time.Duration
	BackoffBase       time.Duration
	BackoffGrowth     float64
	MaxAttempts       int
}

// Config expands the tuning into a full session Config.
func (t Tuning) Config(url string, d Dialer, h Handler, log *slog.Logger) Config {
	return Config{
		URL:               url,
		Dialer:            d,
		Handler:           h,
		HeartbeatInterval: t.HeartbeatInterval,
		AckTimeout:        t.AckTimeout,
		BackoffBase:       t.BackoffBase,
		BackoffGrowth:     t.BackoffGrowth,
		MaxAttempts:       t.MaxAttempts,
		Logger:            log,
	}
}
