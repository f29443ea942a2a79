package dispatch

import (
	"regexp"
	"strings"

	"github.com/neboloop/chorus/internal/session"
	"github.com/neboloop/chorus/internal/types"
)

// TargetAllLabel is the ai.target value for replies to an all-profiles
// message.
const TargetAllLabel = "All participants"

var mentionRe = regexp.MustCompile(`^@([A-Za-z0-9_]+):\s*(?s:(.*))$`)

// ParseMention splits a leading "@Name:" off content. It returns an empty
// name and the unchanged content when there is no mention.
func ParseMention(content string) (name, rest string) {
	m := mentionRe.FindStringSubmatch(content)
	if m == nil {
		return "", content
	}
	return m[1], m[2]
}

// NormalizeTarget lower-cases target. An absent target addresses every
// profile, the same as "all"; use a mention to narrow it.
func NormalizeTarget(target string) string {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		return types.TargetAll
	}
	return target
}

// ResolveTargets returns the profiles addressed by target (already
// normalized) and narrowed by mention, in registry order.
func ResolveTargets(profiles []session.Profile, target, mention string) []session.Profile {
	var out []session.Profile
	for _, p := range profiles {
		if target != types.TargetAll && !strings.EqualFold(p.Name, target) {
			continue
		}
		if mention != "" && !strings.EqualFold(p.Name, mention) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// TargetLabel is the ai.target value for a reply from p.
func TargetLabel(target string, p session.Profile) string {
	if target == types.TargetAll {
		return TargetAllLabel
	}
	return p.Name
}
