package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/neboloop/chorus/internal/content"
	"github.com/neboloop/chorus/internal/dispatch"
	"github.com/neboloop/chorus/internal/gateway"
	"github.com/neboloop/chorus/internal/lanes"
	"github.com/neboloop/chorus/internal/logging"
	"github.com/neboloop/chorus/internal/refine"
	"github.com/neboloop/chorus/internal/session"
)

// AskCmd sends one question to a single personality without a server.
func AskCmd() *cobra.Command {
	var name, personality string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one personality a question",
		Long: `Ask a single personality a question and print its reply and reasoning.

The personality is taken from the configured profiles when --name matches
one; otherwise --personality is required.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolveAskProfile(name, personality)
			if err != nil {
				return err
			}
			return runAsk(cmd, p, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "personality name")
	cmd.Flags().StringVar(&personality, "personality", "", "personality description")
	cmd.Flags().StringVarP(&modelArg, "model", "m", "", "model id or alias")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the reply as JSON")
	return cmd
}

func resolveAskProfile(name, personality string) (session.Profile, error) {
	p := session.Profile{Name: strings.TrimSpace(name), Personality: strings.TrimSpace(personality)}
	if p.Personality == "" {
		for _, seed := range seedProfiles(ServerConfig) {
			if strings.EqualFold(seed.Name, p.Name) {
				p = seed
				break
			}
		}
	}
	if !p.Valid() {
		return p, errors.New("ask: --name and --personality are required unless --name matches a configured profile")
	}
	return p, nil
}

func runAsk(cmd *cobra.Command, p session.Profile, question string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	// Keep the terminal to the reply unless --verbose.
	if !verbose {
		logging.Disable()
		defer logging.Enable()
	}
	c := ServerConfig

	rc := dispatch.ConfigFrom(*c)
	rc.AllowModelOverride = true
	model, err := rc.ResolveModel(modelArg)
	if err != nil {
		return err
	}

	gw, err := gateway.New(ctx, c.Model)
	if err != nil {
		return err
	}

	// Same lane limits as the server; an interrupt cancels the call.
	lm := lanes.NewManager()
	defer lm.Shutdown()
	configureLanes(lm, c.Lanes)

	snap := session.Snapshot{Profiles: []session.Profile{p}}
	var (
		processed *content.Processed
		ok        bool
	)
	err = lm.Enqueue(ctx, lanes.LaneReply, func(ctx context.Context) error {
		raw, err := gw.Generate(ctx, dispatch.ReplyRequest(p, snap, question, model, rc))
		if err != nil {
			return err
		}
		processed, ok = refine.New(gw).Refine(ctx, p, question, raw, model)
		if !ok {
			processed = &content.Processed{MainContent: raw, Thoughts: []string{}}
		}
		return nil
	}, lanes.WithDescription("ask "+p.Name))
	if err != nil {
		return err
	}
	processed.MainContent = content.Truncate(processed.MainContent, c.Chat.MaxReplyChars)
	processed.Thoughts = content.DedupeThoughts(processed.Thoughts)

	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(processed)
	}

	thought := color.New(color.FgHiBlack, color.Italic)
	for _, t := range processed.Thoughts {
		thought.Fprintf(out, "  (%s)\n", t)
	}
	color.New(color.FgCyan, color.Bold).Fprintf(out, "%s: ", p.Name)
	fmt.Fprintln(out, processed.MainContent)
	if !ok {
		color.New(color.FgYellow).Fprintln(os.Stderr, "warning: reply had no reasoning span")
	}
	return nil
}
