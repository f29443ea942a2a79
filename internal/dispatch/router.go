// Package dispatch routes chat events. A single control loop owns the room
// state; generation runs on lanes and reports back to the loop.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neboloop/chorus/internal/config"
	"github.com/neboloop/chorus/internal/content"
	"github.com/neboloop/chorus/internal/gateway"
	"github.com/neboloop/chorus/internal/lanes"
	"github.com/neboloop/chorus/internal/lifecycle"
	"github.com/neboloop/chorus/internal/logging"
	"github.com/neboloop/chorus/internal/refine"
	"github.com/neboloop/chorus/internal/session"
	"github.com/neboloop/chorus/internal/types"
)

// Client-facing messages.
const (
	msgInvalidFormat      = "Invalid message format."
	msgInvalidType        = "Invalid message type."
	msgInvalidPersonality = "Invalid personality data."
	msgInvalidSpawn       = "Invalid spawnParticipants data."
	msgCreating           = "Creating participants..."
	msgSpawnFailed        = "Error generating participants."
	msgSpawnEmpty         = "Empty or undefined content from LLM response."
	msgSpawnUnparsed      = "Failed to parse participants from response."
	msgReplyBusy          = "Server busy: too many pending replies, try again shortly."
	msgSpawnBusy          = "Server busy: participant generation already pending, try again shortly."
	msgNoModel            = "No model configured for this request."
)

const (
	inboxSize = 64

	// replyWaitWarnMs is how long a reply may sit queued before it is logged.
	replyWaitWarnMs = 5000
)

var (
	// ErrStopped is returned by calls made after the control loop exited.
	ErrStopped = errors.New("dispatch: router stopped")

	log = logging.Named("dispatch")
)

// Sender delivers outbound events to connected clients.
type Sender interface {
	Send(clientID string, v any) error
	Broadcast(v any)
}

// Config holds the chat settings the router needs.
type Config struct {
	DefaultModel       string
	Aliases            map[string]string
	AllowModelOverride bool
	MaxReplyChars      int
	ReplyTemperature   float64
	ReplyMaxTokens     int
	BroadcastReplies   bool
}

// ConfigFrom extracts router settings from the process config.
func ConfigFrom(c config.Config) Config {
	return Config{
		DefaultModel:       c.Model.Default,
		Aliases:            c.Model.Aliases,
		AllowModelOverride: c.IsModelOverrideAllowed(),
		MaxReplyChars:      c.Chat.MaxReplyChars,
		ReplyTemperature:   c.Chat.ReplyTemperature,
		ReplyMaxTokens:     c.Chat.ReplyMaxTokens,
		BroadcastReplies:   c.IsBroadcastReplies(),
	}
}

// ResolveModel maps a client model preference to a model id. Aliases match
// ignoring case; other values are used as given only when overrides are
// allowed; everything else falls back to the default.
func (c Config) ResolveModel(preference string) (string, error) {
	pref := strings.TrimSpace(preference)
	if pref != "" {
		for alias, id := range c.Aliases {
			if strings.EqualFold(alias, pref) {
				return gateway.ResolveModel(id, c.DefaultModel)
			}
		}
		if c.AllowModelOverride {
			return gateway.ResolveModel(pref, c.DefaultModel)
		}
	}
	return gateway.ResolveModel("", c.DefaultModel)
}

// Router is the single owner of session.State.
type Router struct {
	state   *session.State
	gw      gateway.Gateway
	refiner *refine.Controller
	lanes   *lanes.Manager
	out     Sender
	cfg     Config

	inbox chan any
	done  chan struct{}
}

// inbox messages

type inboundMsg struct {
	clientID string
	data     []byte
	ack      chan struct{}
}

type greetMsg struct {
	clientID string
}

type queryMsg struct {
	fn func(*session.State)
}

type replyDone struct {
	clientID  string
	profile   session.Profile
	model     string
	target    string
	skip      bool
	raw       string
	processed *content.Processed
	err       error
	started   time.Time
}

type spawnDone struct {
	clientID string
	output   string
	err      error
}

// New creates a router. It does nothing until Run is called.
func New(state *session.State, gw gateway.Gateway, lm *lanes.Manager, out Sender, cfg Config) *Router {
	if cfg.MaxReplyChars <= 0 {
		cfg.MaxReplyChars = 2000
	}
	return &Router{
		state:   state,
		gw:      gw,
		refiner: refine.New(gw),
		lanes:   lm,
		out:     out,
		cfg:     cfg,
		inbox:   make(chan any, inboxSize),
		done:    make(chan struct{}),
	}
}

// Run processes inbox messages until ctx is cancelled. Lane tasks started
// by the loop inherit ctx.
func (r *Router) Run(ctx context.Context) error {
	defer close(r.done)
	log.Infof("control loop started profiles=%d history=%d/%d topic=%q",
		len(r.state.Profiles()), r.state.HistoryLen(), r.state.Limit(), r.state.Topic())
	for {
		select {
		case <-ctx.Done():
			log.Infof("control loop stopped")
			return nil
		case m := <-r.inbox:
			r.process(ctx, m)
		}
	}
}

func (r *Router) post(ctx context.Context, m any) error {
	select {
	case r.inbox <- m:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit hands one raw client frame to the loop and returns once its
// synchronous handling is finished. Generation it starts continues in the
// background.
func (r *Router) Submit(ctx context.Context, clientID string, data []byte) error {
	ack := make(chan struct{})
	if err := r.post(ctx, inboundMsg{clientID: clientID, data: data, ack: ack}); err != nil {
		return err
	}
	select {
	case <-ack:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Greet sends the current profile list to a newly connected client.
func (r *Router) Greet(clientID string) {
	select {
	case r.inbox <- greetMsg{clientID: clientID}:
	case <-r.done:
	}
}

// Snapshot reads the room state through the loop.
func (r *Router) Snapshot(ctx context.Context) (session.Snapshot, error) {
	result := make(chan session.Snapshot, 1)
	q := queryMsg{fn: func(s *session.State) { result <- s.Snapshot() }}
	if err := r.post(ctx, q); err != nil {
		return session.Snapshot{}, err
	}
	select {
	case snap := <-result:
		return snap, nil
	case <-r.done:
		return session.Snapshot{}, ErrStopped
	case <-ctx.Done():
		return session.Snapshot{}, ctx.Err()
	}
}

// LaneStats reports the generation lanes.
func (r *Router) LaneStats() map[string]lanes.Stats {
	return r.lanes.Stats()
}

func (r *Router) process(ctx context.Context, m any) {
	switch m := m.(type) {
	case inboundMsg:
		r.handleInbound(ctx, m.clientID, m.data)
		close(m.ack)
	case greetMsg:
		r.send(m.clientID, types.ProfilesUpdate(r.state.Profiles()))
	case queryMsg:
		m.fn(r.state)
	case replyDone:
		r.onReplyDone(m)
	case spawnDone:
		r.onSpawnDone(m)
	default:
		log.Errorf("unknown inbox message %T", m)
	}
}

func (r *Router) handleInbound(ctx context.Context, clientID string, data []byte) {
	var ev types.InboundEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warnf("client=%s undecodable frame: %v", clientID, err)
		r.sendError(clientID, msgInvalidFormat)
		return
	}

	log.Debugf("client=%s event=%s", clientID, ev.Type)
	switch ev.Type {
	case types.EventSetTopic:
		r.handleSetTopic(clientID, ev)
	case types.EventAddPersonality:
		r.handleAddPersonality(clientID, ev)
	case types.EventRemovePersonality:
		r.handleRemovePersonality(clientID, ev)
	case types.EventUser:
		r.handleUser(ctx, clientID, ev)
	case types.EventSpawnParticipants:
		r.handleSpawn(ctx, clientID, ev)
	default:
		r.sendError(clientID, msgInvalidType)
	}
}

func (r *Router) handleSetTopic(clientID string, ev types.InboundEvent) {
	r.state.SetTopic(ev.Topic)
	log.Infof("topic set to %q", ev.Topic)
	r.send(clientID, types.Info("Chat room topic updated to: "+ev.Topic))
}

func (r *Router) handleAddPersonality(clientID string, ev types.InboundEvent) {
	if ev.Profile == nil || !ev.Profile.Valid() {
		r.sendError(clientID, msgInvalidPersonality)
		return
	}
	p := *ev.Profile
	if err := r.state.AddProfile(p); err != nil {
		if errors.Is(err, session.ErrProfileExists) {
			r.sendError(clientID, fmt.Sprintf("Personality \"%s\" already exists.", p.Name))
			return
		}
		r.sendError(clientID, msgInvalidPersonality)
		return
	}
	log.Infof("profile added: %s", p.Name)
	r.broadcastProfiles()
}

func (r *Router) handleRemovePersonality(clientID string, ev types.InboundEvent) {
	if err := r.state.RemoveProfile(ev.Name); err != nil {
		r.sendError(clientID, fmt.Sprintf("Personality \"%s\" not found.", ev.Name))
		return
	}
	log.Infof("profile removed: %s", ev.Name)
	r.broadcastProfiles()
}

func (r *Router) handleUser(ctx context.Context, clientID string, ev types.InboundEvent) {
	userContent := strings.TrimSpace(ev.Content)
	mention, body := ParseMention(userContent)
	if strings.TrimSpace(body) == "" {
		r.sendError(clientID, msgInvalidFormat)
		return
	}
	target := NormalizeTarget(ev.Target)

	targets := ResolveTargets(r.state.Profiles(), target, mention)
	if len(targets) == 0 {
		r.sendError(clientID, fmt.Sprintf("No matching personalities found for target '%s' or mention '%s'.", target, mention))
		return
	}

	model, err := r.cfg.ResolveModel(ev.Model)
	if err != nil {
		log.Warnf("client=%s model %q unresolved: %v", clientID, ev.Model, err)
		r.sendError(clientID, msgNoModel)
		return
	}

	snap := r.state.Snapshot()
	for _, p := range targets {
		req := ReplyRequest(p, snap, body, model, r.cfg)
		task := r.replyTask(clientID, p, req, body, TargetLabel(target, p), ev.SkipInvalidThoughts)
		name := p.Name
		id, err := r.lanes.EnqueueAsync(ctx, lanes.LaneReply, task,
			lanes.WithDescription("reply "+name),
			lanes.WithWarnAfter(replyWaitWarnMs),
			lanes.WithOnWait(func(waitMs int64, queuedAhead int) {
				log.Warnf("reply for %s started after %dms in queue (%d still ahead)", name, waitMs, queuedAhead)
			}))
		switch {
		case errors.Is(err, lanes.ErrLaneFull):
			r.sendError(clientID, msgReplyBusy)
		case err != nil:
			log.Warnf("reply for %s not queued: %v", p.Name, err)
		default:
			log.Debugf("reply for %s queued task=%s model=%s", p.Name, id, model)
		}
	}

	// User turns share the bounded history with replies, so the limit
	// counts both.
	r.state.AppendHistory(session.HistoryEntry{Role: session.RoleUser, Content: body})
}

func (r *Router) replyTask(clientID string, p session.Profile, req *gateway.Request, body, target string, skip bool) func(context.Context) error {
	return func(ctx context.Context) error {
		done := replyDone{
			clientID: clientID,
			profile:  p,
			model:    req.Model,
			target:   target,
			skip:     skip,
			started:  time.Now(),
		}

		raw, err := r.gw.Generate(ctx, req)
		if err != nil {
			done.err = err
		} else {
			done.raw = raw
			done.processed, _ = r.refiner.Refine(ctx, p, body, raw, req.Model)
		}

		if postErr := r.post(ctx, done); postErr != nil {
			log.Debugf("reply for %s dropped: %v", p.Name, postErr)
		}
		return err
	}
}

func (r *Router) onReplyDone(d replyDone) {
	data := lifecycle.ReplyEventData{
		ClientID:   d.clientID,
		Profile:    d.profile.Name,
		Model:      d.model,
		DurationMS: time.Since(d.started).Milliseconds(),
		Error:      d.err,
	}

	if d.err != nil {
		log.Errorf("generation for %s failed: %v", d.profile.Name, d.err)
		r.sendError(d.clientID, fmt.Sprintf("Error generating response for %s: %v", d.profile.Name, d.err))
		lifecycle.Emit(lifecycle.EventReplyFailed, data)
		return
	}

	switch {
	case d.processed != nil:
		reply := content.Truncate(d.processed.MainContent, r.cfg.MaxReplyChars)
		r.state.AppendHistory(session.HistoryEntry{
			Role:    session.RoleAssistant,
			Content: reply,
			Speaker: d.profile.Name,
		})
		r.deliver(d.clientID, types.OutboundEvent{
			Type:      types.EventAI,
			Name:      d.profile.Name,
			Content:   reply,
			Thoughts:  content.DedupeThoughts(d.processed.Thoughts),
			ModelUsed: d.model,
			Target:    d.target,
		})
	case d.skip:
		log.Warnf("%s: reply had no reasoning span after refinement, suppressed", d.profile.Name)
	default:
		log.Warnf("%s: reply had no reasoning span after refinement, sending raw text", d.profile.Name)
		r.deliver(d.clientID, types.OutboundEvent{
			Type:      types.EventAI,
			Name:      d.profile.Name,
			Content:   content.Truncate(d.raw, r.cfg.MaxReplyChars),
			Thoughts:  []string{},
			ModelUsed: d.model,
			Target:    d.target,
		})
	}
	lifecycle.Emit(lifecycle.EventReplyCompleted, data)
}

func (r *Router) handleSpawn(ctx context.Context, clientID string, ev types.InboundEvent) {
	prompt, count, ok := parseSpawnArgs(ev.Prompt, ev.Count)
	if !ok {
		r.sendError(clientID, msgInvalidSpawn)
		return
	}

	req := SpawnRequest(prompt, count, r.cfg.DefaultModel)
	_, err := r.lanes.EnqueueAsync(ctx, lanes.LaneSpawn, func(ctx context.Context) error {
		out, err := r.gw.Generate(ctx, req)
		if postErr := r.post(ctx, spawnDone{clientID: clientID, output: out, err: err}); postErr != nil {
			log.Debugf("spawn result dropped: %v", postErr)
		}
		return err
	}, lanes.WithDescription(fmt.Sprintf("spawn %d participants", count)))
	if err != nil {
		if errors.Is(err, lanes.ErrLaneFull) {
			r.sendError(clientID, msgSpawnBusy)
		} else {
			log.Warnf("spawn not queued: %v", err)
		}
		return
	}
	r.send(clientID, types.Info(msgCreating))
}

func (r *Router) onSpawnDone(d spawnDone) {
	if d.err != nil {
		log.Errorf("participant generation failed: %v", d.err)
		r.sendError(d.clientID, msgSpawnFailed)
		return
	}
	if strings.TrimSpace(d.output) == "" {
		r.sendError(d.clientID, msgSpawnEmpty)
		return
	}

	parsed := ParseParticipants(d.output)
	if len(parsed) == 0 {
		r.sendError(d.clientID, msgSpawnUnparsed)
		return
	}
	n := r.state.MergeProfiles(parsed)
	log.Infof("added %d new participants", n)
	r.broadcastProfiles()
}

func (r *Router) broadcastProfiles() {
	r.out.Broadcast(types.ProfilesUpdate(r.state.Profiles()))
}

func (r *Router) deliver(clientID string, ev types.OutboundEvent) {
	if r.cfg.BroadcastReplies {
		r.out.Broadcast(ev)
		return
	}
	r.send(clientID, ev)
}

func (r *Router) sendError(clientID, message string) {
	r.send(clientID, types.Error(message))
}

func (r *Router) send(clientID string, ev types.OutboundEvent) {
	if err := r.out.Send(clientID, ev); err != nil {
		log.Warnf("send %s to %s failed: %v", ev.Type, clientID, err)
	}
}
