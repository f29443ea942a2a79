package cli

import (
	"fmt"

	"github.com/neboloop/chorus/internal/config"
	"github.com/neboloop/chorus/internal/logging"
	"github.com/neboloop/chorus/internal/session"
)

// prepareConfig applies --config and flag overrides to ServerConfig and
// initializes logging from the result.
func prepareConfig() error {
	if ServerConfig == nil {
		ServerConfig = &config.Config{}
	}
	if cfgFile != "" {
		c, err := config.LoadFile(cfgFile)
		if err != nil {
			return err
		}
		*ServerConfig = c
	}

	c := ServerConfig
	if portArg > 0 {
		c.Server.Port = portArg
	}
	if hostArg != "" {
		c.Server.Host = hostArg
	}
	if quiet {
		c.Server.Quiet = "true"
	}
	if verbose {
		c.Log.Level = "debug"
	}
	if err := c.Validate(); err != nil {
		return err
	}

	if err := logging.Init(logging.Options{Level: c.Log.Level, Format: c.Log.Format}); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// seedProfiles returns the configured starting personalities.
func seedProfiles(c *config.Config) []session.Profile {
	profiles := make([]session.Profile, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		profiles = append(profiles, session.Profile{Name: p.Name, Personality: p.Personality})
	}
	return profiles
}

// newState builds the room with the seed profiles already registered.
func newState(c *config.Config) (*session.State, error) {
	state := session.New(c.Chat.HistoryLimit)
	for _, p := range seedProfiles(c) {
		if err := state.AddProfile(p); err != nil {
			return nil, fmt.Errorf("seed profile %s: %w", p.Name, err)
		}
	}
	return state, nil
}
