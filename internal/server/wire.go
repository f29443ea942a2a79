package server

import (
	"context"
	"errors"

	"github.com/neboloop/chorus/internal/dispatch"
	"github.com/neboloop/chorus/internal/logging"
	"github.com/neboloop/chorus/internal/realtime"
)

// Wire connects client frames and greetings to the router.
func Wire(hub *realtime.Hub, router *dispatch.Router) {
	hub.SetHandler(func(ctx context.Context, c *realtime.Client, data []byte) {
		if err := router.Submit(ctx, c.ID, data); err != nil && !errors.Is(err, context.Canceled) {
			logging.Warnf("[server] frame from %s dropped: %v", c.ID, err)
		}
	})
	hub.OnConnect(router.Greet)
}
