// Package refine validates model output and, when it lacks reasoning spans,
// asks the model once to answer again.
package refine

import (
	"context"
	"fmt"

	"github.com/neboloop/chorus/internal/content"
	"github.com/neboloop/chorus/internal/gateway"
	"github.com/neboloop/chorus/internal/logging"
	"github.com/neboloop/chorus/internal/session"
)

// Parameters of the corrective call. They do not follow chat settings.
const (
	Temperature = 0.7
	MaxTokens   = 512
)

var log = logging.Named("refine")

// Controller runs at most one corrective generation per reply.
type Controller struct {
	gw gateway.Gateway
}

// New creates a Controller that sends corrective calls through gw.
func New(gw gateway.Gateway) *Controller {
	return &Controller{gw: gw}
}

// Refine returns raw as structured output when it parses. Otherwise it
// issues one corrective request in the profile's voice and parses that.
// A failed corrective call is logged and reported as unparseable.
func (c *Controller) Refine(ctx context.Context, p session.Profile, userContent, raw, model string) (*content.Processed, bool) {
	if processed, ok := content.ExtractThoughts(raw); ok {
		return processed, true
	}

	log.Debugf("%s: output had no reasoning span, asking for a refined answer", p.Name)

	out, err := c.gw.Generate(ctx, CorrectiveRequest(p, userContent, model))
	if err != nil {
		log.Warnf("%s: refinement failed: %v", p.Name, err)
		return nil, false
	}
	return content.ExtractThoughts(out)
}

// CorrectiveRequest builds the single re-ask request for p.
func CorrectiveRequest(p session.Profile, userContent, model string) *gateway.Request {
	prompt := fmt.Sprintf(
		"The previous response was incomplete or unclear. Please refine the response to the following question: \"%s\". "+
			"Ensure the response is concise, conversational, and aligned with the personality of %s.",
		userContent, p.Name)

	return &gateway.Request{
		Messages: []gateway.Message{
			{Role: gateway.RoleSystem, Content: fmt.Sprintf("You are %s. %s", p.Name, p.Personality)},
			{Role: gateway.RoleUser, Content: prompt},
		},
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
		Stream:      false,
		Model:       model,
	}
}
