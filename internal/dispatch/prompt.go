package dispatch

import (
	"fmt"
	"strings"

	"github.com/neboloop/chorus/internal/gateway"
	"github.com/neboloop/chorus/internal/session"
)

// Fixed parameters of the participant generation call.
const (
	spawnTemperature = 0.7
	spawnMaxTokens   = 512
)

// SystemPrompt renders the persona prompt for p: identity, topic, the
// shared transcript and the new user line.
func SystemPrompt(p session.Profile, snap session.Snapshot, userContent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a participant in a group chat. Your name is [%s]. Your personality is described as [%s].\n", p.Name, p.Personality)
	fmt.Fprintf(&b, "The current topic of the chat room is: \"%s\".\n", snap.Topic)
	b.WriteString("Please respond naturally and conversationally, as if you were a real person with this personality.\n")
	b.WriteString("Avoid generic or overly formal responses. Use a tone and style that matches your personality.\n")
	b.WriteString("Here is the chat history:\n")
	for _, e := range snap.History {
		b.WriteString(speakerOf(e, p))
		b.WriteString(": ")
		b.WriteString(e.Content)
		b.WriteByte('\n')
	}
	b.WriteString("User: ")
	b.WriteString(userContent)
	return b.String()
}

func speakerOf(e session.HistoryEntry, p session.Profile) string {
	if e.Role == session.RoleUser {
		return "User"
	}
	if e.Speaker != "" {
		return e.Speaker
	}
	return p.Name
}

// ReplyRequest builds the generation call for one profile's reply.
func ReplyRequest(p session.Profile, snap session.Snapshot, userContent, model string, cfg Config) *gateway.Request {
	return &gateway.Request{
		Messages: []gateway.Message{
			{Role: gateway.RoleSystem, Content: SystemPrompt(p, snap, userContent)},
			{Role: gateway.RoleUser, Content: userContent},
		},
		Temperature: cfg.ReplyTemperature,
		MaxTokens:   cfg.ReplyMaxTokens,
		Stream:      true,
		Model:       model,
	}
}

// SpawnRequest builds the participant generation call.
func SpawnRequest(prompt string, count int, model string) *gateway.Request {
	system := fmt.Sprintf("You are tasked with creating unique personalities for a group of participants. "+
		"The participants should align with the following prompt: %s. Respond in the following format:\n\n"+
		"Name: [Participant's Name]\n"+
		"Personality: [A brief description of the participant's personality]\n\n"+
		"Generate %d unique participants. Ensure that each participant has a distinct name and personality.",
		prompt, count)

	return &gateway.Request{
		Messages:    []gateway.Message{{Role: gateway.RoleSystem, Content: system}},
		Temperature: spawnTemperature,
		MaxTokens:   spawnMaxTokens,
		Stream:      false,
		Model:       model,
	}
}
