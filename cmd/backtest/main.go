package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"quant_trader/internal/bootstrap"
	"quant_trader/internal/portfolio"
	"quant_trader/pkg/cli"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	symbolsFlag := flag.String("symbols", "", "Comma-separated symbols (defaults to the config watchlist)")
	startFlag := flag.String("start", "", "Replay start date (YYYY-MM-DD)")
	endFlag := flag.String("end", "", "Replay end date (YYYY-MM-DD)")
	adjustFlag := flag.String("adjust", "qfq", "Price adjustment mode: qfq, hfq or none")
	warmFlag := flag.Bool("warm", true, "Prefetch bar history before the replay")
	jsonFlag := flag.Bool("json", false, "Emit the report as JSON")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("backtest version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	opts, err := buildOptions(*startFlag, *endFlag, *symbolsFlag, *adjustFlag, *warmFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid arguments: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	app, err := bootstrap.NewBacktestApp(*configPath, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := app.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Backtest failed: %v\n", err)
		os.Exit(1)
	}

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode report: %v\n", err)
			os.Exit(1)
		}
		return
	}
	printReport(os.Stdout, opts, report)
}

func buildOptions(start, end, symbols, adjust string, warm bool) (bootstrap.BacktestOptions, error) {
	var opts bootstrap.BacktestOptions

	s, e, err := cli.ParseDateRange(start, end)
	if err != nil {
		return opts, err
	}
	syms, err := cli.ParseSymbols(symbols)
	if err != nil {
		return opts, err
	}
	adj, err := cli.ParseAdjust(adjust)
	if err != nil {
		return opts, err
	}

	opts.Start = s
	opts.End = e
	opts.Symbols = syms
	opts.Adjust = adj
	opts.Warm = warm
	return opts, nil
}

func printReport(w io.Writer, opts bootstrap.BacktestOptions, r *portfolio.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Window\t%s .. %s\n",
		opts.Start.Format("2006-01-02"), opts.End.Format("2006-01-02"))
	if len(opts.Symbols) > 0 {
		fmt.Fprintf(tw, "Symbols\t%s\n", strings.Join(opts.Symbols, ", "))
	}
	fmt.Fprintf(tw, "Initial capital\t%s\n", r.InitialCapital.StringFixed(2))
	fmt.Fprintf(tw, "Final equity\t%s\n", r.FinalEquity.StringFixed(2))
	fmt.Fprintf(tw, "Total return\t%.2f%%\n", r.TotalReturn*100)
	fmt.Fprintf(tw, "Annualized return\t%.2f%%\n", r.AnnualizedReturn*100)
	fmt.Fprintf(tw, "Max drawdown\t%.2f%%\n", r.MaxDrawdown*100)
	fmt.Fprintf(tw, "Sharpe ratio\t%.2f\n", r.SharpeRatio)
	fmt.Fprintf(tw, "Win rate\t%.1f%%\n", r.WinRate*100)
	fmt.Fprintf(tw, "Profit factor\t%.2f\n", r.ProfitFactor)
	fmt.Fprintf(tw, "Trades\t%d\n", r.TradeCount)
	fmt.Fprintf(tw, "Trading days\t%d\n", r.TradingDays)
	tw.Flush()
}
