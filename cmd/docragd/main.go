package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var root = &cobra.Command{
		Use:          "docragd",
		Short:        "PDF question answering backend",
		SilenceUsage: true,
	}

	root.AddCommand(serveCMD(), checkCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
