// Package router dispatches decoded envelopes to typed frame handlers.
// Each logical channel owns one Router instance.
package router

import (
	"encoding/json"
	"log/slog"

	"github.com/fansphere/realtime/pkg/logger"
	"github.com/fansphere/realtime/pkg/protocol"
)

// HandlerFunc handles one frame variant. It receives the raw frame bytes
// and unmarshals them into its typed payload.
type HandlerFunc func(raw json.RawMessage) error

// Router maps frame discriminators to handlers. Registration happens
// before the owning session connects; Dispatch runs on the session's
// event goroutine, so no locking is needed.
type Router struct {
	log      *slog.Logger
	handlers map[string]HandlerFunc
}

// New constructs an empty Router. A nil logger falls back to the package
// logger.
func New(log *slog.Logger) *Router {
	if log == nil {
		log = logger.Log
	}
	return &Router{
		log:      log,
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers fn for the given frame type, replacing any previous
// registration.
func (r *Router) Handle(frameType string, fn HandlerFunc) {
	r.handlers[frameType] = fn
}

// Dispatch routes env to its handler. Unknown discriminators are logged
// and dropped; handler failures are logged. Neither is fatal.
func (r *Router) Dispatch(env protocol.Envelope) {
	fn, ok := r.handlers[env.Type]
	if !ok {
		r.log.Debug("dropping frame with unknown type", "type", env.Type)
		return
	}
	if err := fn(env.Raw); err != nil {
		r.log.Warn("frame handler failed", "type", env.Type, "error", err)
	}
}
