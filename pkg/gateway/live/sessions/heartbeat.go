package sessions

import (
	"context"
	"log/slog"
	"time"
)

const DefaultHeartbeatInterval = 30 * time.Second

// Heartbeat pings every registered connection on a fixed interval. A
// connection that did not answer the previous ping is cancelled and
// unregistered.
type Heartbeat struct {
	reg      *Registry
	interval time.Duration
	logger   *slog.Logger

	// OnTerminate runs after an entry is reaped (metrics).
	OnTerminate func(e *Entry)
}

func NewHeartbeat(reg *Registry, interval time.Duration, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{reg: reg, interval: interval, logger: logger}
}

// Run sweeps until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Sweep performs one heartbeat pass.
func (h *Heartbeat) Sweep() (pinged, terminated int) {
	for _, e := range h.reg.Entries() {
		if !e.alive.Swap(false) {
			dropped := e.Unregister()
			e.Cancel()
			terminated++
			h.logger.Warn("heartbeat missed, terminating connection",
				"session_id", e.SessionID,
				"user_id", e.UserID,
				"dropped_audio_bytes", dropped,
			)
			if h.OnTerminate != nil {
				h.OnTerminate(e)
			}
			continue
		}
		if e.handle.Ping == nil {
			continue
		}
		if err := e.handle.Ping(); err != nil {
			h.logger.Debug("heartbeat ping failed", "session_id", e.SessionID, "error", err)
		}
		pinged++
	}
	return pinged, terminated
}
