package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"trendlab/internal/app"
	"trendlab/internal/config"
	"trendlab/internal/database"
	"trendlab/internal/market"
)

// backfill 把CSV中的K线导入 market_data 表, 供 data.source=postgres 使用
func main() {
	var (
		configPath = flag.String("config", "", "配置文件路径")
		data       = flag.String("data", "", "K线CSV文件")
		symbol     = flag.String("symbol", "", "交易对符号, 覆盖 data.symbol")
		interval   = flag.String("interval", "", "K线间隔, 覆盖 data.interval")
		fromDate   = flag.String("fromdate", "", "开始日期 YYYY-MM-DD")
		toDate     = flag.String("todate", "", "结束日期 YYYY-MM-DD")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Data.Source = config.SourceCSV
	if *data != "" {
		cfg.Data.Path = *data
	}
	if *symbol != "" {
		cfg.Data.Symbol = *symbol
	}
	if *interval != "" {
		cfg.Data.Interval = *interval
	}
	if *fromDate != "" {
		cfg.Data.From = *fromDate
	}
	if *toDate != "" {
		cfg.Data.To = *toDate
	}
	if cfg.Data.Symbol == "" {
		log.Fatalf("A symbol is required (--symbol or data.symbol)")
	}
	cfg.Database.Enabled = true
	cfg.Database.Migrate = true
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
		log.Fatalf("Failed to read %s: %v", cfg.Data.Path, err)
	}
	if err := market.Validate(bars); err != nil {
		log.Fatalf("Refusing to import %s: %v", cfg.Data.Path, err)
	}

	repo := database.NewMarketDataRepository(a.DB.DB)
	inserted, err := repo.Import(ctx, cfg.Data.Symbol, cfg.Data.Interval, bars)
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}
	total, err := repo.Count(ctx, cfg.Data.Symbol, cfg.Data.Interval)
	if err != nil {
		log.Fatalf("Failed to count bars: %v", err)
	}

	fmt.Printf("%s %s: read %d, inserted %d, skipped %d, stored %d\n",
		cfg.Data.Symbol, cfg.Data.Interval, len(bars), inserted, int64(len(bars))-inserted, total)
}
