package dispatch

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/neboloop/chorus/internal/session"
)

var (
	nameLineRe     = regexp.MustCompile(`(?m)^Name:\s*(.+)$`)
	personalLineRe = regexp.MustCompile(`(?m)^Personality:\s*(.+)$`)
)

// ParseParticipants reads "Name:" / "Personality:" pairs from blank-line
// separated blocks. Blocks missing either line are skipped. Names are not
// checked against each other or the registry.
func ParseParticipants(text string) []session.Profile {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []session.Profile
	for _, block := range strings.Split(text, "\n\n") {
		name := nameLineRe.FindStringSubmatch(block)
		personality := personalLineRe.FindStringSubmatch(block)
		if name == nil || personality == nil {
			continue
		}
		p := session.Profile{
			Name:        strings.TrimSpace(name[1]),
			Personality: strings.TrimSpace(personality[1]),
		}
		if !p.Valid() {
			continue
		}
		out = append(out, p)
	}
	return out
}

// parseSpawnArgs validates the raw prompt and count of a spawnParticipants
// event. The prompt must be a non-empty string and the count a positive
// whole number.
func parseSpawnArgs(rawPrompt, rawCount json.RawMessage) (string, int, bool) {
	var prompt string
	if len(rawPrompt) == 0 || json.Unmarshal(rawPrompt, &prompt) != nil || strings.TrimSpace(prompt) == "" {
		return "", 0, false
	}
	var count float64
	if len(rawCount) == 0 || json.Unmarshal(rawCount, &count) != nil {
		return "", 0, false
	}
	if count <= 0 || count != math.Trunc(count) || count > math.MaxInt32 {
		return "", 0, false
	}
	return prompt, int(count), true
}
