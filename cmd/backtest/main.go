package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"trendlab/internal/app"
	"trendlab/internal/config"
	"trendlab/internal/strategy/backtest"
)

func main() {
	var (
		configPath = flag.String("config", "", "配置文件路径 (YAML)")
		data       = flag.String("data", "", "K线CSV文件, 覆盖 data.path")
		fromDate   = flag.String("fromdate", "", "开始日期 YYYY-MM-DD")
		toDate     = flag.String("todate", "", "结束日期 YYYY-MM-DD")
		indicators = flag.Bool("indicators", false, "记录逐K线指标")
		asJSON     = flag.Bool("json", false, "以JSON输出完整结果")
	)
	flag.StringVar(data, "d", "", "shorthand for --data")
	flag.StringVar(fromDate, "f", "", "shorthand for --fromdate")
	flag.StringVar(toDate, "t", "", "shorthand for --todate")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *data != "" {
		cfg.Data.Source = config.SourceCSV
		cfg.Data.Path = *data
	}
	if *fromDate != "" {
		cfg.Data.From = *fromDate
	}
	if *toDate != "" {
		cfg.Data.To = *toDate
	}
	cfg.Broker.RecordIndicators = cfg.Broker.RecordIndicators || *indicators
	if err := config.NewValidator(cfg).Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialise: %v", err)
	}
	defer a.Close()

	bars, err := a.LoadBars(ctx)
	if err != nil {
		log.Fatalf("Failed to load market data: %v", err)
	}

	result, err := a.Backtest(ctx, bars)
	if err != nil {
		log.Fatalf("Backtest failed: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.Fatalf("Failed to encode result: %v", err)
		}
		return
	}
	report(os.Stdout, result)
}

// report prints one line per analyzer.
func report(w io.Writer, r *backtest.Result) {
	fmt.Fprintf(w, "value %.2f\n", r.FinalValue)
	line(w, "sqn", r.SQN)
	line(w, "trade", r.Trades)
	line(w, "drawdown", r.DrawDown)
	line(w, "annual", r.Annual)
	line(w, "sharpe", r.Sharpe)
	line(w, "margin", r.Margin)
	if r.Indicators != nil {
		line(w, "indicator", struct {
			ScaledFast       backtest.Extremes `json:"scaled_fast"`
			ScaledSlow       backtest.Extremes `json:"scaled_slow"`
			ScaledCombined   backtest.Extremes `json:"scaled_combined"`
			MaxTargetPercent float64           `json:"max_target_percent"`
		}{r.Indicators.ScaledFast, r.Indicators.ScaledSlow, r.Indicators.ScaledCombined, r.Indicators.MaxTargetPercent})
	}
}

func line(w io.Writer, name string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(w, "%s <%v>\n", name, err)
		return
	}
	fmt.Fprintf(w, "%s %s\n", name, b)
}
