package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Rorqualx/pagesnap/internal/capture"
	"github.com/Rorqualx/pagesnap/internal/config"
	"github.com/Rorqualx/pagesnap/internal/profile"
	"github.com/Rorqualx/pagesnap/internal/security"
	"github.com/Rorqualx/pagesnap/internal/types"
)

type captureFlags struct {
	output          string
	device          string
	width           int
	height          int
	followRedirects bool
	quiet           bool
}

func newCaptureCommand(flags *globalFlags) *cobra.Command {
	cf := &captureFlags{}

	cmd := &cobra.Command{
		Use:   "capture <url>",
		Short: "Capture a single full-page PNG screenshot",
		Example: `  pagesnap capture https://example.com
  pagesnap capture example.com --device mobile -o example.png
  pagesnap capture https://example.com --device custom --width 1280 --height 720`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			showProgress := stderrTTY && !cf.quiet
			cfg := loadConfig(cmd, flags, os.Stderr)
			if showProgress && zerolog.GlobalLevel() < zerolog.WarnLevel {
				// Info lines would tear the progress view apart.
				zerolog.SetGlobalLevel(zerolog.WarnLevel)
			}
			return runCapture(cmd.Context(), cfg, cf, args[0], showProgress)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cf.output, "output", "o", "screenshot.png", "file the PNG is written to")
	f.StringVarP(&cf.device, "device", "d", string(profile.Desktop), "device profile: desktop, tablet, mobile or custom")
	f.IntVar(&cf.width, "width", 0, "viewport width, custom device only")
	f.IntVar(&cf.height, "height", 0, "viewport height, custom device only")
	f.BoolVar(&cf.followRedirects, "follow-redirects", true, "follow top-level redirects to other pages")
	f.BoolVarP(&cf.quiet, "quiet", "q", false, "disable the progress view")
	return cmd
}

// buildCaptureRequest turns command line input into an engine request.
// Private and loopback targets are allowed: the caller is the local user.
func buildCaptureRequest(rawURL string, cf *captureFlags) (capture.Request, error) {
	device, err := profile.ParseDevice(cf.device)
	if err != nil {
		return capture.Request{}, err
	}
	target, err := security.NormalizeURL(rawURL)
	if err != nil {
		return capture.Request{}, err
	}
	return capture.Request{
		URL:             target,
		Device:          device,
		Width:           cf.width,
		Height:          cf.height,
		FollowRedirects: cf.followRedirects,
	}, nil
}

// cliConfig narrows the service configuration to a single browser.
func cliConfig(cfg *config.Config) *config.Config {
	c := *cfg
	c.MaxBrowsers = 1
	c.WarmBrowsers = 0
	c.AllowPrivateTargets = true
	return &c
}

func runCapture(parent context.Context, cfg *config.Config, cf *captureFlags, rawURL string, showProgress bool) error {
	req, err := buildCaptureRequest(rawURL, cf)
	if err != nil {
		return reportError(err)
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := capture.NewService(cliConfig(cfg))
	if err != nil {
		return reportError(err)
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Capture service close error")
		}
	}()

	run := func(ctx context.Context) (*capture.Image, error) {
		return svc.Capture(ctx, req)
	}

	var img *capture.Image
	if showProgress {
		img, err = captureWithProgress(ctx, os.Stderr, req, run)
	} else {
		log.Info().Str("url", security.RedactURL(req.URL)).Str("device", string(req.Device)).Msg("Capturing")
		img, err = run(ctx)
	}
	if err != nil {
		return reportError(err)
	}

	if err := writeImage(cf.output, img); err != nil {
		return reportError(err)
	}
	fmt.Fprintf(os.Stdout, "%s (%d bytes)\n", cf.output, len(img.Bytes))
	return nil
}

func writeImage(path string, img *capture.Image) error {
	if img == nil || len(img.Bytes) == 0 {
		return errors.New("capture returned an empty image")
	}
	if err := os.WriteFile(path, img.Bytes, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// reportError logs err with its failure kind and hands it back to cobra.
func reportError(err error) error {
	ev := log.Error().Err(err)
	var ce *types.CaptureError
	if errors.As(err, &ce) {
		ev = ev.Str("kind", ce.Kind.String()).Bool("retryable", ce.Kind.Retryable())
	}
	ev.Msg("Capture failed")
	return err
}

// captureFunc runs one capture under ctx.
type captureFunc func(ctx context.Context) (*capture.Image, error)
