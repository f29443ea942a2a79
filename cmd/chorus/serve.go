package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/neboloop/chorus/internal/config"
	"github.com/neboloop/chorus/internal/dispatch"
	"github.com/neboloop/chorus/internal/gateway"
	"github.com/neboloop/chorus/internal/lanes"
	"github.com/neboloop/chorus/internal/lifecycle"
	"github.com/neboloop/chorus/internal/logging"
	"github.com/neboloop/chorus/internal/realtime"
	"github.com/neboloop/chorus/internal/server"
)

// ServeCmd starts the chat server.
func ServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		Long:  `Start the HTTP and WebSocket server hosting the shared chat room.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// runServe wires the room and blocks until a signal or a fatal error.
func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	c := ServerConfig

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.New(ctx, c.Model)
	if err != nil {
		return err
	}
	state, err := newState(c)
	if err != nil {
		return err
	}

	lm := lanes.NewManager()
	configureLanes(lm, c.Lanes)
	lm.OnEvent(func(ev lanes.Event) {
		logging.Debugf("[Lanes] %s lane=%s task=%s %s", ev.Type, ev.Lane, ev.Task.ID, ev.Task.Description)
	})

	hub := realtime.NewHub()
	router := dispatch.New(state, gw, lm, hub, dispatch.ConfigFrom(*c))
	server.Wire(hub, router)
	registerLifecycleHooks(c)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return router.Run(gctx)
	})
	g.Go(func() error {
		return server.Run(gctx, *c, hub, router, server.ServerOptions{Quiet: c.IsQuiet()})
	})

	err = g.Wait()

	lifecycle.Emit(lifecycle.EventShutdownStarted, nil)
	for _, lane := range []string{lanes.LaneReply, lanes.LaneSpawn} {
		if n := lm.CancelActive(lane); n > 0 {
			logging.Infof("[Lanes] cancelled %d running %s tasks", n, lane)
		}
	}
	lm.Shutdown()
	lifecycle.Emit(lifecycle.EventShutdownComplete, nil)
	logging.Sync()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// configureLanes applies the configured lane limits.
func configureLanes(lm *lanes.Manager, lc config.LanesConfig) {
	lm.Configure(lanes.LaneReply, lanes.Limits{MaxConcurrent: lc.ReplyConcurrency, MaxPending: lc.ReplyMaxPending})
	lm.Configure(lanes.LaneSpawn, lanes.Limits{MaxConcurrent: lc.SpawnConcurrency, MaxPending: lc.SpawnMaxPending})
}

func registerLifecycleHooks(c *config.Config) {
	lifecycle.OnServerStarted(func(addr string) {
		if c.IsQuiet() {
			return
		}
		color.New(color.FgGreen, color.Bold).Printf("Chorus listening on http://%s\n", addr)
		fmt.Printf("  model: %s (%s)  profiles: %d\n", c.Model.Default, c.Model.Provider, len(c.Profiles))
	})
	lifecycle.OnShutdown(func() {
		if !c.IsQuiet() {
			color.Yellow("\nShutting down...")
		}
	})
	lifecycle.OnReply(func(d lifecycle.ReplyEventData) {
		if d.Error != nil {
			logging.Warnf("[Reply] %s for %s failed after %dms: %v", d.Profile, d.ClientID, d.DurationMS, d.Error)
			return
		}
		logging.Debugf("[Reply] %s for %s via %s in %dms", d.Profile, d.ClientID, d.Model, d.DurationMS)
	})
}
