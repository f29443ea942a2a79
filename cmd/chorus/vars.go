package cli

import (
	"github.com/spf13/cobra"

	"github.com/neboloop/chorus/internal/config"
)

// Shared CLI flags (used across multiple command files)
var (
	cfgFile  string
	verbose  bool
	quiet    bool
	portArg  int
	hostArg  string
	modelArg string
	jsonOut  bool
)

// ServerConfig holds the loaded server configuration (set by main)
var ServerConfig *config.Config

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd(c *config.Config) *cobra.Command {
	ServerConfig = c

	rootCmd := &cobra.Command{
		Use:   "chorus",
		Short: "Chorus - multi-personality group chat server",
		Long: `Chorus hosts a shared chat room where several AI personalities answer
each message in their own voice.

Just type 'chorus' to start the server with the embedded configuration.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return prepareConfig()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: embedded etc/chorus.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().IntVarP(&portArg, "port", "p", 0, "listen port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&hostArg, "host", "", "listen host (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress request logging")

	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(AskCmd())
	rootCmd.AddCommand(ProfilesCmd())
	rootCmd.AddCommand(ConfigCmd())

	return rootCmd
}
