package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"quantrisk/internal/cli"
	"quantrisk/internal/config"
	"quantrisk/internal/logging"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("config: %v", err))
		fmt.Fprintln(os.Stderr, "falling back to default configuration")
		cfg = config.Default()
	}

	logger := logging.NewLoggerWithConfig(cfg.Log)

	root := cli.NewRootCmd(cfg, logger)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}
