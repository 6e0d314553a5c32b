package main

import (
	"flag"
	"fmt"
	"os"

	"quant_trader/internal/bootstrap"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("live_trader version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	app.Logger.Info("starting live_trader",
		"version", version,
		"account", app.Cfg.Engine.AccountID,
		"broker", app.Cfg.Broker.Kind,
		"symbols", len(app.Cfg.Symbols),
		"trading_enabled", app.Cfg.Engine.EnableTrading,
	)

	if err := app.Run(app.Runners()...); err != nil {
		os.Exit(1)
	}
}
