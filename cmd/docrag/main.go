package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/xhad/docrag/pkg/config"
	"github.com/xhad/docrag/pkg/relay"
	"go.uber.org/zap"
)

type options struct {
	cfgPath string
	backend string
	timeout time.Duration
	stream  bool
	debug   bool
}

func main() {
	opts := &options{}

	var root = &cobra.Command{
		Use:           "docrag",
		Short:         "Chat with a PDF through a docrag backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.cfgPath, "config", "c", "", "config file")
	root.PersistentFlags().StringVar(&opts.backend, "backend", "", "backend URL (overrides client.backend_url)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "request timeout (overrides client.timeout)")
	root.PersistentFlags().BoolVar(&opts.stream, "stream", true, "stream responses as they are generated")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "log relay diagnostics")

	root.AddCommand(
		ingestCMD(opts),
		askCMD(opts),
		summarizeCMD(opts),
		chatCMD(opts),
		healthCMD(opts),
		closeCMD(opts),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		color.Red("Error: %v", err)
		cancel()
		os.Exit(1)
	}
}

func (o *options) client() (*relay.Client, error) {
	cfg, err := config.LoadConfig(o.cfgPath)
	if err != nil {
		return nil, err
	}
	if o.backend != "" {
		cfg.Client.BackendURL = o.backend
	}
	if o.timeout > 0 {
		cfg.Client.Timeout = o.timeout
	}

	logger := zap.NewNop()
	if o.debug {
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
	}

	return relay.NewClient(relay.ClientConfig{
		BaseURL: cfg.Client.BackendURL,
		Timeout: cfg.Client.Timeout,
	}, logger), nil
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
}

// withSpinner animates a spinner until fn returns.
func withSpinner(description string, fn func() error) error {
	spinner := getSpinner(description)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = spinner.Add(1)
			}
		}
	}()

	err := fn()
	close(done)
	_ = spinner.Finish()
	return err
}
