package main

import (
	"os"

	"github.com/brizzai/social-login/internal/config"
	"github.com/brizzai/social-login/internal/logger"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func main() {
	Execute()
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "social-login",
	Short: "Social login handshake server and MCP widget host",
	Long: `social-login serves the cross-window login handshake for embedded wallet
pages and publishes those pages to agent hosts as MCP widgets.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	// Place version check in PreRun to ensure flags are parsed first
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			pterm.Info.Println(config.GetVersionInfo())
			os.Exit(0)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	config.InitFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Show version information")

	rootCmd.AddCommand(serveCmd, extractCmd, sessionCmd, loginCmd)
}

// loadConfig reads the configuration and initializes the global logger.
// quiet keeps log output off the terminal unless a log file is configured.
func loadConfig(cmd *cobra.Command, quiet bool) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if quiet {
		if cfg.Logging.OutputPath == "" {
			return cfg, nil
		}
		cfg.Logging.DisableConsole = true
	}
	if err := logger.InitLogger(&cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}
