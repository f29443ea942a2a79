package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/neboloop/chorus/internal/config"
	"github.com/neboloop/chorus/internal/httputil"
	"github.com/neboloop/chorus/internal/lanes"
	"github.com/neboloop/chorus/internal/lifecycle"
	"github.com/neboloop/chorus/internal/logging"
	"github.com/neboloop/chorus/internal/realtime"
	"github.com/neboloop/chorus/internal/session"
	"github.com/neboloop/chorus/internal/types"
	"github.com/neboloop/chorus/internal/websocket"
)

// ServerOptions holds optional behavior for the server
type ServerOptions struct {
	Quiet bool // Suppress request logging and startup messages
}

// Room is the read side of the chat room exposed over HTTP.
type Room interface {
	Snapshot(ctx context.Context) (session.Snapshot, error)
	LaneStats() map[string]lanes.Stats
}

// NewHandler builds the HTTP routes.
func NewHandler(c config.Config, hub *realtime.Hub, room Room, opts ServerOptions) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	if !opts.Quiet {
		r.Use(chimw.Logger)
	}
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/ws", websocket.Handler(hub, c.Server.AllowedOrigins))
	r.Get("/health", healthHandler(hub, room))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(corsMiddleware(c.Server.AllowedOrigins))
		r.Get("/profiles", profilesHandler(room))
		r.Get("/profiles/{name}", profileHandler(room))
		r.Get("/history", historyHandler(room))
		r.Get("/lanes", lanesHandler(room))
	})

	return r
}

// Run serves HTTP until ctx is cancelled.
func Run(ctx context.Context, c config.Config, hub *realtime.Hub, room Room, opts ...ServerOptions) error {
	var o ServerOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	addr := c.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}

	// No ReadTimeout/WriteTimeout: they would also apply to hijacked
	// WebSocket connections. Keepalive is ping/pong in realtime.
	httpServer := &http.Server{
		Handler:     NewHandler(c, hub, room, o),
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logging.Infof("Server ready at http://%s", displayAddr(ln.Addr()))
	lifecycle.Emit(lifecycle.EventServerStarted, ln.Addr().String())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func displayAddr(a net.Addr) string {
	s := a.String()
	if strings.HasPrefix(s, "[::]:") || strings.HasPrefix(s, "0.0.0.0:") {
		_, port, _ := net.SplitHostPort(s)
		return "localhost:" + port
	}
	return s
}

func healthHandler(hub *realtime.Hub, room Room) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := room.Snapshot(r.Context())
		if err != nil {
			httputil.Unavailable(w, err.Error())
			return
		}
		httputil.OkJSON(w, types.HealthResponse{
			Status:   "ok",
			Clients:  hub.ClientCount(),
			Profiles: len(snap.Profiles),
		})
	}
}

func profilesHandler(room Room) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := room.Snapshot(r.Context())
		if err != nil {
			httputil.Unavailable(w, err.Error())
			return
		}
		httputil.OkJSON(w, types.ProfilesResponse{Profiles: snap.Profiles, Topic: snap.Topic})
	}
}

func profileHandler(room Room) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := httputil.PathVar(r, "name")
		snap, err := room.Snapshot(r.Context())
		if err != nil {
			httputil.Unavailable(w, err.Error())
			return
		}
		for _, p := range snap.Profiles {
			if strings.EqualFold(p.Name, name) {
				httputil.OkJSON(w, p)
				return
			}
		}
		httputil.NotFound(w, fmt.Sprintf("profile %q not found", name))
	}
}

// historyHandler returns the newest ?limit= entries of the shared transcript
// (all when absent or not positive), oldest first.
func historyHandler(room Room) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := room.Snapshot(r.Context())
		if err != nil {
			httputil.Unavailable(w, err.Error())
			return
		}
		history := snap.History
		if limit := httputil.QueryInt(r, "limit", 0); limit > 0 && limit < len(history) {
			history = history[len(history)-limit:]
		}
		httputil.OkJSON(w, types.HistoryResponse{History: history, Total: len(snap.History)})
	}
}

func lanesHandler(room Room) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := room.LaneStats()
		if lane := httputil.QueryString(r, "lane", ""); lane != "" {
			s, ok := stats[lane]
			if !ok {
				httputil.NotFound(w, fmt.Sprintf("lane %q not found", lane))
				return
			}
			httputil.OkJSON(w, s)
			return
		}
		httputil.OkJSON(w, stats)
	}
}

// corsMiddleware allows the configured origins (any when none are set).
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (len(allowed) == 0 || slices.Contains(allowed, origin)) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
