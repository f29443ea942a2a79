// Package session holds the chat room state: personality profiles, the
// bounded shared transcript, and the current topic.
//
// State is not safe for concurrent use. A single goroutine owns it and every
// other party works from a Snapshot.
package session

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultHistoryLimit is the transcript length kept when no limit is given.
const DefaultHistoryLimit = 80

// History roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrProfileExists   = errors.New("session: profile already exists")
	ErrProfileNotFound = errors.New("session: profile not found")
	ErrInvalidProfile  = errors.New("session: profile needs a name and personality")
)

// Profile is a named persona the model speaks as.
type Profile struct {
	Name        string `json:"name"`
	Personality string `json:"personality"`
}

// Valid reports whether both fields are non-empty.
func (p Profile) Valid() bool {
	return strings.TrimSpace(p.Name) != "" && strings.TrimSpace(p.Personality) != ""
}

// HistoryEntry is one transcript line. Entries are never modified once
// appended.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Speaker string `json:"speaker,omitempty"`
}

// State is the room.
type State struct {
	profiles []Profile
	history  []HistoryEntry
	topic    string
	limit    int
}

// New creates an empty room whose transcript keeps at most limit entries.
func New(limit int) *State {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &State{limit: limit}
}

// AddProfile registers p. Names are unique ignoring case.
func (s *State) AddProfile(p Profile) error {
	if !p.Valid() {
		return ErrInvalidProfile
	}
	if s.indexOf(p.Name) >= 0 {
		return fmt.Errorf("%w: %s", ErrProfileExists, p.Name)
	}
	s.profiles = append(s.profiles, p)
	return nil
}

// RemoveProfile drops every profile whose name matches, ignoring case.
func (s *State) RemoveProfile(name string) error {
	kept := s.profiles[:0]
	removed := 0
	for _, p := range s.profiles {
		if strings.EqualFold(p.Name, name) {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	clear(s.profiles[len(kept):])
	s.profiles = kept
	return nil
}

// MergeProfiles appends ps without checking for name collisions and returns
// how many were added. Spawned participants may duplicate existing names.
func (s *State) MergeProfiles(ps []Profile) int {
	s.profiles = append(s.profiles, ps...)
	return len(ps)
}

// AppendHistory adds e and drops the oldest entries beyond the limit.
func (s *State) AppendHistory(e HistoryEntry) {
	s.history = append(s.history, e)
	if over := len(s.history) - s.limit; over > 0 {
		trimmed := make([]HistoryEntry, s.limit)
		copy(trimmed, s.history[over:])
		s.history = trimmed
	}
}

// SetTopic replaces the topic.
func (s *State) SetTopic(topic string) {
	s.topic = topic
}

// Topic returns the current topic.
func (s *State) Topic() string {
	return s.topic
}

// Profiles returns a copy of the registry in registration order.
func (s *State) Profiles() []Profile {
	out := make([]Profile, len(s.profiles))
	copy(out, s.profiles)
	return out
}

// HistoryLen returns the number of transcript entries.
func (s *State) HistoryLen() int {
	return len(s.history)
}

// Limit returns the transcript bound.
func (s *State) Limit() int {
	return s.limit
}

// Snapshot copies everything a generation task needs to read.
func (s *State) Snapshot() Snapshot {
	history := make([]HistoryEntry, len(s.history))
	copy(history, s.history)
	return Snapshot{
		Profiles: s.Profiles(),
		History:  history,
		Topic:    s.topic,
	}
}

func (s *State) indexOf(name string) int {
	for i, p := range s.profiles {
		if strings.EqualFold(p.Name, name) {
			return i
		}
	}
	return -1
}

// Snapshot is a point-in-time copy of State. It shares nothing with the
// State it came from.
type Snapshot struct {
	Profiles []Profile
	History  []HistoryEntry
	Topic    string
}
