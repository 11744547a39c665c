package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Rorqualx/pagesnap/internal/config"
	"github.com/Rorqualx/pagesnap/pkg/version"
)

var stderrTTY = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

// globalFlags are shared by every subcommand. Unset flags keep the value
// loaded from the environment.
type globalFlags struct {
	logLevel    string
	browserPath string
	headless    bool
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "pagesnap",
		Short:         "Full-page screenshots through headless Chromium",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: trace, debug, info, warn, error (env LOG_LEVEL)")
	pf.StringVar(&flags.browserPath, "browser-path", "", "Chrome or Chromium executable (env BROWSER_PATH)")
	pf.BoolVar(&flags.headless, "headless", true, "run the browser headless (env HEADLESS)")

	root.AddCommand(newServeCommand(flags), newCaptureCommand(flags))
	return root
}

// loadConfig reads the environment, applies the command line overrides and
// validates the result. Logging is configured before validation so its
// warnings are visible.
func loadConfig(cmd *cobra.Command, flags *globalFlags, out io.Writer) *config.Config {
	cfg := config.Load()

	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if cmd.Flags().Changed("browser-path") {
		cfg.BrowserPath = flags.browserPath
	}
	if cmd.Flags().Changed("headless") {
		cfg.Headless = flags.headless
	}

	setupLogging(cfg.LogLevel, out)
	cfg.Validate()
	return cfg
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string, out io.Writer) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    !stderrTTY,
	})

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
