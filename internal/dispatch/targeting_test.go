package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/neboloop/chorus/internal/session"
	"github.com/neboloop/chorus/internal/types"
)

func TestParseMention(t *testing.T) {
	tests := []struct {
		in, name, rest string
	}{
		{"@Bob: hey", "Bob", "hey"},
		{"@bob_2:hey there", "bob_2", "hey there"},
		{"@Bob:   multi\nline", "Bob", "multi\nline"},
		{"hello @Bob: hi", "", "hello @Bob: hi"},
		{"@Bob hey", "", "@Bob hey"},
		{"@B-o: x", "", "@B-o: x"},
		{"@Bob:", "Bob", ""},
	}
	for _, tt := range tests {
		name, rest := ParseMention(tt.in)
		assert.Equal(t, tt.name, name, tt.in)
		assert.Equal(t, tt.rest, rest, tt.in)
	}
}

func TestResolveTargets(t *testing.T) {
	profiles := []session.Profile{
		{Name: "Alice", Personality: "a"},
		{Name: "Bob", Personality: "b"},
		{Name: "Charlie", Personality: "c"},
	}
	names := func(ps []session.Profile) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.Name)
		}
		return out
	}

	assert.Equal(t, []string{"Alice", "Bob", "Charlie"}, names(ResolveTargets(profiles, types.TargetAll, "")))
	assert.Equal(t, []string{"Bob"}, names(ResolveTargets(profiles, types.TargetAll, "BOB")))
	assert.Equal(t, []string{"Charlie"}, names(ResolveTargets(profiles, "charlie", "")))
	assert.Empty(t, ResolveTargets(profiles, "alice", "Bob"))
	assert.Empty(t, ResolveTargets(profiles, "zed", ""))
	assert.Empty(t, ResolveTargets(nil, types.TargetAll, ""))
}

func TestNormalizeTargetAndLabel(t *testing.T) {
	assert.Equal(t, types.TargetAll, NormalizeTarget(""))
	assert.Equal(t, types.TargetAll, NormalizeTarget(" ALL "))
	assert.Equal(t, "bob", NormalizeTarget("Bob"))

	bob := session.Profile{Name: "Bob"}
	assert.Equal(t, TargetAllLabel, TargetLabel(types.TargetAll, bob))
	assert.Equal(t, "Bob", TargetLabel("bob", bob))
}

func TestParseParticipants(t *testing.T) {
	text := "Name: Ada\nPersonality: curious inventor\n\n" +
		"Name:   Grace  \r\nPersonality:  precise admiral \r\n\r\n" +
		"Name: Nameless only\n\n" +
		"Intro line\nName: Linus\nPersonality: blunt\nExtra: ignored\n\n" +
		"Name: Ada\nPersonality: again"

	got := ParseParticipants(text)
	assert.Equal(t, []session.Profile{
		{Name: "Ada", Personality: "curious inventor"},
		{Name: "Grace", Personality: "precise admiral"},
		{Name: "Linus", Personality: "blunt"},
		{Name: "Ada", Personality: "again"},
	}, got)

	assert.Empty(t, ParseParticipants("no structure at all"))
}

func TestSystemPromptRendersTranscript(t *testing.T) {
	p := session.Profile{Name: "Alice", Personality: "cheerful"}
	snap := session.Snapshot{
		Topic: "tea",
		History: []session.HistoryEntry{
			{Role: session.RoleUser, Content: "hi"},
			{Role: session.RoleAssistant, Content: "hello", Speaker: "Bob"},
			{Role: session.RoleAssistant, Content: "anon"},
		},
	}

	got := SystemPrompt(p, snap, "what now?")
	assert.Contains(t, got, "Your name is [Alice]. Your personality is described as [cheerful].")
	assert.Contains(t, got, `The current topic of the chat room is: "tea".`)
	assert.Contains(t, got, "Here is the chat history:\nUser: hi\nBob: hello\nAlice: anon\nUser: what now?")
}
