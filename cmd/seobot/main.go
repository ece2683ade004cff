package main

import (
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	logx "seobot/pkg/logx"
)

// v holds flag values, overridable with SEOBOT_* environment variables
// (SEOBOT_CONFIG, SEOBOT_LOG_LEVEL).
var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "seobot",
	Short: "Ahrefs backlink reports for Slack and Telegram",
	Long: `seobot checks broken backlinks through the Ahrefs API and posts reports
to Slack or Telegram, on demand or on a schedule.

Examples:
  seobot serve                                  # run the bot (default)
  seobot check example.com                      # one report in the terminal
  seobot schedules add example.com "daily 9h" C0123
  seobot schedules parse "weekly 14h30 lundi"
  seobot audit --limit 50`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "./config.json", "path to the config file (json, yaml or toml)")
	pf.String("log-level", "info", "console log level for CLI commands")
	_ = v.BindPFlag("config", pf.Lookup("config"))
	_ = v.BindPFlag("log_level", pf.Lookup("log-level"))
	v.SetEnvPrefix("seobot")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd.AddCommand(serveCmd, checkCmd, backlinksCmd, schedulesCmd, auditCmd)
}

func configPath() string { return v.GetString("config") }

func cliLogger() logx.Logger {
	return logx.NewConsole(v.GetString("log_level")).With(logx.String("comp", "cli"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
