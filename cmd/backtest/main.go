// Package main provides a one-shot command line backtest runner.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantdesk/ibs-backtester/internal/backtester"
	"github.com/quantdesk/ibs-backtester/internal/config"
	"github.com/quantdesk/ibs-backtester/internal/data"
	"github.com/quantdesk/ibs-backtester/internal/options"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	dataDir := flag.String("data", "", "Data directory (overrides config)")
	symbolList := flag.String("symbols", "", "Comma-separated symbols to backtest (default: all in data dir)")
	withOptions := flag.Bool("options", false, "Run the options overlay on the stock trades")
	slippageBps := flag.Float64("slippage-bps", 0, "Fixed slippage in basis points")
	output := flag.String("out", "", "Write JSON result to file instead of stdout")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if *dataDir != "" {
		cfg.Data.Dir = *dataDir
	}

	store, err := data.NewStore(logger, cfg.Data.Dir)
	if err != nil {
		logger.Fatal("Failed to initialize data store", zap.Error(err))
	}

	symbols := store.Symbols()
	if *symbolList != "" {
		symbols = strings.Split(*symbolList, ",")
		for i := range symbols {
			symbols[i] = strings.TrimSpace(symbols[i])
		}
	}
	if len(symbols) == 0 {
		logger.Fatal("No symbols to backtest", zap.String("dataDir", cfg.Data.Dir))
	}

	ctx := context.Background()
	instruments, err := store.LoadSeries(ctx, symbols)
	if err != nil {
		logger.Fatal("Failed to load price history", zap.Error(err))
	}

	var slippage backtester.SlippageModel
	if *slippageBps > 0 {
		slippage = backtester.NewFixedSlippage(decimal.NewFromFloat(*slippageBps))
	}

	initial := decimal.NewFromFloat(cfg.InitialCapital)
	engine := backtester.NewEngine(logger, slippage)
	result, err := engine.Run(instruments, cfg.Strategy.ToParams(), initial)
	if err != nil {
		logger.Fatal("Backtest failed", zap.Error(err))
	}

	logger.Info("Backtest complete",
		zap.Strings("symbols", symbols),
		zap.Int("trades", len(result.Trades)),
		zap.String("finalValue", result.FinalValue.StringFixed(2)),
	)

	var payload any = result
	if *withOptions {
		overlay := options.NewOverlay(logger, nil, nil)
		optResult, err := overlay.RunMulti(instruments, result.Trades, cfg.Options.ToParams(), initial)
		if err != nil {
			logger.Fatal("Options overlay failed", zap.Error(err))
		}
		logger.Info("Options overlay complete",
			zap.Int("trades", len(optResult.Trades)),
			zap.String("finalValue", optResult.FinalValue.StringFixed(2)),
		)
		payload = struct {
			Stock   any `json:"stock"`
			Options any `json:"options"`
		}{result, optResult}
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			logger.Fatal("Failed to create output file", zap.Error(err))
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		logger.Fatal("Failed to write result", zap.Error(err))
	}
}
