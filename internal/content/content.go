// Package content splits model output into a visible answer and reasoning
// fragments, and shapes text for delivery to chat clients.
package content

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// ThinkOpen and ThinkClose delimit a reasoning span in model output.
	ThinkOpen  = "<think>"
	ThinkClose = "</think>"

	// Ellipsis is appended by Truncate when text is cut.
	Ellipsis = "..."

	// MaxThoughts caps how many reasoning fragments are delivered per reply.
	MaxThoughts = 5
)

var emphasisRe = regexp.MustCompile(`\*\*(.*?)\*\*`)

// Processed is model output that passed structural validation.
type Processed struct {
	MainContent string   `json:"mainContent"`
	Thoughts    []string `json:"thoughts"`
}

type scanState int

const (
	outsideSpan scanState = iota
	insideSpan
)

// ExtractThoughts separates <think> spans from the visible answer.
//
// Spans are matched left to right and never nest: the first </think> after
// an opening tag closes it. An opening tag without a closing tag is ordinary
// text. The second return value is false when no non-empty span was found;
// callers must treat that as a structural failure, not as an answer with no
// reasoning.
func ExtractThoughts(text string) (*Processed, bool) {
	var (
		main     strings.Builder
		thoughts []string
		state    = outsideSpan
		pos      = 0
	)

	for pos < len(text) {
		switch state {
		case outsideSpan:
			open := strings.Index(text[pos:], ThinkOpen)
			if open < 0 {
				main.WriteString(text[pos:])
				pos = len(text)
				continue
			}
			bodyStart := pos + open + len(ThinkOpen)
			if !strings.Contains(text[bodyStart:], ThinkClose) {
				// Unterminated span: everything left is visible text.
				main.WriteString(text[pos:])
				pos = len(text)
				continue
			}
			main.WriteString(text[pos : pos+open])
			pos = bodyStart
			state = insideSpan

		case insideSpan:
			end := strings.Index(text[pos:], ThinkClose)
			if thought := strings.TrimSpace(text[pos : pos+end]); thought != "" {
				thoughts = append(thoughts, thought)
			}
			pos += end + len(ThinkClose)
			state = outsideSpan
		}
	}

	if len(thoughts) == 0 {
		return nil, false
	}

	return &Processed{
		MainContent: strings.TrimSpace(RenderEmphasis(main.String())),
		Thoughts:    thoughts,
	}, true
}

// RenderEmphasis rewrites markdown **bold** runs (within one line) as
// <strong> markup.
func RenderEmphasis(text string) string {
	return emphasisRe.ReplaceAllString(text, "<strong>$1</strong>")
}

// Truncate cuts text to at most max code points and appends Ellipsis when it
// had to cut. Text that already fits is returned unchanged.
func Truncate(text string, max int) string {
	if max < 0 {
		max = 0
	}
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	n := 0
	for i := range text {
		if n == max {
			return text[:i] + Ellipsis
		}
		n++
	}
	return text + Ellipsis
}

// DedupeThoughts removes repeated fragments, keeping first-seen order, and
// caps the result at MaxThoughts.
func DedupeThoughts(thoughts []string) []string {
	seen := make(map[string]struct{}, len(thoughts))
	out := make([]string, 0, min(len(thoughts), MaxThoughts))
	for _, t := range thoughts {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == MaxThoughts {
			break
		}
	}
	return out
}
