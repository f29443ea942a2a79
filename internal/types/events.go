package types

import (
	"encoding/json"

	"github.com/neboloop/chorus/internal/session"
)

// Inbound event types
const (
	EventSetTopic          = "setTopic"
	EventAddPersonality    = "addPersonality"
	EventRemovePersonality = "removePersonality"
	EventUser              = "user"
	EventSpawnParticipants = "spawnParticipants"
)

// Outbound event types
const (
	EventProfilesUpdate = "profilesUpdate"
	EventInfo           = "info"
	EventError          = "error"
	EventAI             = "ai"
)

// TargetAll addresses every profile.
const TargetAll = "all"

// InboundEvent is any client frame. Only the fields of Type are meaningful.
type InboundEvent struct {
	Type string `json:"type"`

	// setTopic
	Topic string `json:"topic,omitempty"`

	// addPersonality
	Profile *session.Profile `json:"profile,omitempty"`

	// removePersonality
	Name string `json:"name,omitempty"`

	// user
	Content             string `json:"content,omitempty"`
	Target              string `json:"target,omitempty"`
	Model               string `json:"model,omitempty"`
	SkipInvalidThoughts bool   `json:"skipInvalidThoughts,omitempty"`

	// spawnParticipants. Kept raw so a wrongly typed value is a validation
	// error rather than a decode error.
	Prompt json.RawMessage `json:"prompt,omitempty"`
	Count  json.RawMessage `json:"count,omitempty"`
}

// OutboundEvent is any server frame.
type OutboundEvent struct {
	Type      string            `json:"type"`
	Profiles  []session.Profile `json:"profiles,omitempty"`
	Message   string            `json:"message,omitempty"`
	Name      string            `json:"name,omitempty"`
	Content   string            `json:"content,omitempty"`
	Thoughts  []string          `json:"thoughts,omitempty"`
	ModelUsed string            `json:"modelUsed,omitempty"`
	Target    string            `json:"target,omitempty"`
}

// MarshalJSON keeps the fields each event type always carries, even when
// empty: profilesUpdate always has a list and ai always has thoughts.
func (e OutboundEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventProfilesUpdate:
		profiles := e.Profiles
		if profiles == nil {
			profiles = []session.Profile{}
		}
		return json.Marshal(struct {
			Type     string            `json:"type"`
			Profiles []session.Profile `json:"profiles"`
		}{e.Type, profiles})
	case EventAI:
		thoughts := e.Thoughts
		if thoughts == nil {
			thoughts = []string{}
		}
		return json.Marshal(struct {
			Type      string   `json:"type"`
			Name      string   `json:"name"`
			Content   string   `json:"content"`
			Thoughts  []string `json:"thoughts"`
			ModelUsed string   `json:"modelUsed"`
			Target    string   `json:"target"`
		}{e.Type, e.Name, e.Content, thoughts, e.ModelUsed, e.Target})
	default:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{e.Type, e.Message})
	}
}

// ProfilesUpdate builds a profilesUpdate event.
func ProfilesUpdate(profiles []session.Profile) OutboundEvent {
	return OutboundEvent{Type: EventProfilesUpdate, Profiles: profiles}
}

// Info builds an info event.
func Info(message string) OutboundEvent {
	return OutboundEvent{Type: EventInfo, Message: message}
}

// Error builds an error event.
func Error(message string) OutboundEvent {
	return OutboundEvent{Type: EventError, Message: message}
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Clients  int    `json:"clients"`
	Profiles int    `json:"profiles"`
}

// ProfilesResponse is returned by GET /api/v1/profiles.
type ProfilesResponse struct {
	Profiles []session.Profile `json:"profiles"`
	Topic    string            `json:"topic"`
}

// HistoryResponse is returned by GET /api/v1/history.
type HistoryResponse struct {
	History []session.HistoryEntry `json:"history"`
	Total   int                    `json:"total"`
}
