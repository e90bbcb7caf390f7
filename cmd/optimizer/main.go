package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"trendlab/internal/api"
	"trendlab/internal/app"
	"trendlab/internal/config"
	"trendlab/internal/logger"
	"trendlab/internal/scheduler"
	"trendlab/internal/strategy/optimizer"
)

// overrides are the command line settings re-applied after every reload.
type overrides struct {
	data, fromDate, toDate string
	trials, workers        int
	sampler                string
	seed                   int64
}

func (o overrides) apply(cfg *config.Config) {
	if o.data != "" {
		cfg.Data.Source = config.SourceCSV
		cfg.Data.Path = o.data
	}
	if o.fromDate != "" {
		cfg.Data.From = o.fromDate
	}
	if o.toDate != "" {
		cfg.Data.To = o.toDate
	}
	if o.trials > 0 {
		cfg.Study.Trials = o.trials
	}
	if o.workers > 0 {
		cfg.Study.Workers = o.workers
	}
	if o.sampler != "" {
		cfg.Study.Sampler.Name = o.sampler
	}
	if o.seed != 0 {
		cfg.Study.Sampler.Seed = o.seed
	}
}

func main() {
	var (
		o          overrides
		configPath = flag.String("config", "", "配置文件路径 (YAML)")
		serve      = flag.Bool("serve", false, "启动 HTTP/WebSocket 服务, 研究结束后继续运行")
		schedule   = flag.Bool("schedule", false, "按 schedule.cron 周期性重新运行研究")
		watch      = flag.Duration("watch", 0, "配置文件检查间隔, 0 表示不监听")
	)
	flag.StringVar(&o.data, "data", "", "K线CSV文件, 覆盖 data.path")
	flag.StringVar(&o.data, "d", "", "shorthand for --data")
	flag.StringVar(&o.fromDate, "fromdate", "", "开始日期 YYYY-MM-DD")
	flag.StringVar(&o.fromDate, "f", "", "shorthand for --fromdate")
	flag.StringVar(&o.toDate, "todate", "", "结束日期 YYYY-MM-DD")
	flag.StringVar(&o.toDate, "t", "", "shorthand for --todate")
	flag.IntVar(&o.trials, "trials", 0, "试验次数, 覆盖 study.trials")
	flag.IntVar(&o.workers, "workers", 0, "并发数, 覆盖 study.workers")
	flag.StringVar(&o.sampler, "sampler", "", "采样器: random, grid 或 tpe")
	flag.Int64Var(&o.seed, "seed", 0, "采样器随机种子")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	o.apply(cfg)
	if err := config.NewValidator(cfg).Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	scheduled := *schedule || cfg.Schedule.Enabled

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialise: %v", err)
	}
	defer a.Close()
	a.StartBackground(ctx)
	logger.Info("Optimizer starting", "study", cfg.Study.Name, "trials", cfg.Study.Trials,
		"workers", cfg.Study.Workers, "sampler", cfg.Study.Sampler.Name)

	r := &runner{app: a}

	var sched *scheduler.Scheduler
	var taskID string
	if scheduled {
		sched = scheduler.NewScheduler()
		taskID, err = sched.AddTask(cfg.Study.Name, cfg.Schedule.Cron, scheduler.JobFunc(r.run))
		if err != nil {
			log.Fatalf("Failed to schedule study: %v", err)
		}
	}

	if *serve {
		opts := []api.Option{api.WithMetrics(a.Metrics)}
		for name, check := range a.HealthChecks() {
			opts = append(opts, api.WithHealthCheck(name, check))
		}
		if sched != nil {
			opts = append(opts, api.WithTrigger(func() error { return sched.Trigger(taskID) }))
		}
		r.server = api.NewServer(cfg.Server, opts...)
		go func() {
			if err := r.server.Start(); err != nil {
				logger.Error("API server failed", "error", err)
				stop()
			}
		}()
	}

	if *watch > 0 && *configPath != "" {
		watcher := config.NewConfigWatcher(*configPath, *watch)
		watcher.AddCallback(func(next *config.Config) error {
			o.apply(next)
			if err := config.NewValidator(next).Validate(); err != nil {
				return err
			}
			r.reload(next)
			return nil
		})
		go watcher.Start(ctx)
	}

	if sched != nil {
		sched.Start()
		if err := sched.Trigger(taskID); err != nil {
			log.Fatalf("Failed to start study: %v", err)
		}
		<-ctx.Done()
	} else {
		if err := r.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("Study failed: %v", err)
		}
		if r.server != nil {
			logger.Info("Study finished, serving results until interrupted", "addr", cfg.Server.Addr())
			<-ctx.Done()
		}
	}

	shutdown(sched, r.server)
}

// runner builds and runs one study per call against the current config.
type runner struct {
	app    *app.App
	server *api.Server

	mu sync.Mutex
}

// reload swaps in the parts of next that a study reads. The backends stay
// as they were started.
func (r *runner) reload(next *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := r.app.Config
	cfg.Data = next.Data
	cfg.Broker = next.Broker
	cfg.Strategy = next.Strategy
	cfg.Study = next.Study
	logger.Info("Configuration reloaded, next study run uses it", "trials", cfg.Study.Trials)
}

func (r *runner) run(ctx context.Context) error {
	study, err := r.newStudy(ctx)
	if err != nil {
		return err
	}
	if r.server != nil {
		r.server.SetStudy(study)
	}

	summary, err := study.Run(ctx)
	if summary != nil {
		report(summary)
	}
	return err
}

func (r *runner) newStudy(ctx context.Context) (*optimizer.Study, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 每次运行都重新加载K线, postgres 数据可能已被 backfill 更新
	bars, err := r.app.LoadBars(ctx)
	if err != nil {
		return nil, err
	}
	var opts []optimizer.Option
	if r.server != nil {
		opts = append(opts, optimizer.WithListener(r.server.Hub()))
	}
	return r.app.NewStudy(bars, opts...)
}

func report(s *optimizer.Summary) {
	fmt.Printf("study %s: %d completed, %d infeasible, %d failed\n",
		s.Study.Name, s.Completed, s.Infeasible, s.Failed)
	if s.Best == nil {
		fmt.Println("no feasible trial")
		return
	}
	params, err := json.Marshal(s.Best.Params)
	if err != nil {
		params = []byte(fmt.Sprint(s.Best.Params))
	}
	fmt.Printf("best_params %s\n", params)
	fmt.Printf("best_value %g\n", s.Best.Objective)
}

func shutdown(sched *scheduler.Scheduler, server *api.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sched != nil {
		if err := sched.Stop(ctx); err != nil {
			logger.Error("Scheduler shutdown failed", "error", err)
		}
	}
	if server != nil {
		if err := server.Stop(ctx); err != nil {
			logger.Error("API server shutdown failed", "error", err)
		}
	}
}
