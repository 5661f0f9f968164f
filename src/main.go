package main

import (
	"TransportDelay/src/config"
	"TransportDelay/src/datapush"
	"TransportDelay/src/datasource/email"
	"TransportDelay/src/datasource/file"
	"TransportDelay/src/metrics"
	"TransportDelay/src/processor"
	"TransportDelay/src/storage"
	"TransportDelay/src/utils"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-gota/gota/dataframe"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/robfig/cron"
	"gonum.org/v1/gonum/stat"
)

const (
	configFile = "config.json"
	schemaFile = "schema.json"

	statusOK     = "ok"
	statusFailed = "failed"
)

var (
	configDir    = flag.String("config", "./config", "配置目录")
	inputPath    = flag.String("input", "", "数据集路径，默认使用配置中的 input_file")
	generateN    = flag.Int("generate", 0, "生成 N 条带噪声的测试数据到输入路径后退出")
	seed         = flag.Int64("seed", 42, "测试数据随机种子")
	watchMode    = flag.Bool("watch", false, "监控数据目录，新数据集到达时运行")
	scheduleMode = flag.Bool("schedule", false, "按邮件检查间隔拉取数据集附件并运行")
	httpAddr     = flag.String("http", "", "守护模式 HTTP 监听地址，默认使用配置")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	cfg, schema, err := config.LoadConfig(*configDir, configFile, schemaFile)
	if err != nil {
		log.Printf("加载配置失败: %v", err)
		return 1
	}
	cfg.ApplyEnv()
	if *inputPath != "" {
		cfg.InputFile = *inputPath
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}

	// 初始化日志系统
	logger, err := storage.NewLogger(cfg.LogName)
	if err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return 1
	}
	logger.SetConsole(os.Stderr)
	defer logger.Close()

	if *generateN > 0 {
		df, err := file.WriteDirtyDataset(cfg.InputFile, *generateN, *seed)
		if err != nil {
			logger.Error(err.Error())
			return 1
		}
		logger.Info(fmt.Sprintf("已生成 %d 条测试数据: %s", df.Nrow(), cfg.InputFile))
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, schema, logger)
	if err != nil {
		logger.Error(err.Error())
		return 1
	}
	defer a.Close()

	if !*watchMode && !*scheduleMode {
		if _, err := a.runFile(ctx, cfg.InputFile); err != nil {
			logger.Error(fmt.Sprintf("运行失败: %v", err))
			return 1
		}
		return 0
	}

	if err := a.serve(ctx, *watchMode, *scheduleMode); err != nil {
		logger.Error(err.Error())
		return 1
	}
	return 0
}

// app 串行执行管道运行，并负责输出、历史、指标和通知
type app struct {
	cfg     *config.Config
	schema  *config.Schema
	policy  processor.Policy
	logger  *storage.Logger
	history *storage.History // 未配置时为 nil
	metrics *metrics.Metrics
	pusher  *datapush.Pusher // 未配置时为 nil
	mu      sync.Mutex
}

func newApp(ctx context.Context, cfg *config.Config, schema *config.Schema, logger *storage.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		schema:  schema,
		policy:  processor.DefaultPolicy(),
		logger:  logger,
		metrics: metrics.New(nil),
	}
	if cfg.HistoryDB != "" {
		h, err := storage.OpenHistory(ctx, cfg.HistoryDB)
		if err != nil {
			return nil, err
		}
		a.history = h
	}
	if cfg.WebhookURL != "" {
		a.pusher = datapush.NewPusher(cfg.WebhookURL)
	}
	return a, nil
}

func (a *app) Close() error {
	if a.history != nil {
		return a.history.Close()
	}
	return nil
}

// runFile 处理一个数据集。失败的运行同样记录历史和指标。
func (a *app) runFile(ctx context.Context, path string) (datapush.Summary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	summary := datapush.Summary{RunID: uuid.NewString(), Source: path, Status: statusOK}
	a.logger.Info(fmt.Sprintf("开始运行 %s: %s", summary.RunID, path))

	res, outputs, err := a.process(ctx, summary.RunID, path)
	if res != nil {
		summary.RowsRaw = res.RowsRaw
		summary.RowsCleaned = res.Cleaned.Nrow()
		summary.RowsFeatures = res.Training.Nrow()
		summary.Warnings = res.Warnings
		summary.OperatingWarnings = res.OperatingWarnings
		summary.MeanDelay = meanDelay(res.Features)
	}
	if err != nil {
		summary.Status = statusFailed
		summary.Error = err.Error()
	}
	summary.Duration = time.Since(start)
	summary.FinishedAt = time.Now()

	a.record(summary, res)
	a.notify(summary, outputs)

	if err != nil {
		return summary, err
	}
	a.logger.Info(fmt.Sprintf("运行完成 %s: 原始 %d 行，训练表 %d 行，耗时 %v",
		summary.RunID, summary.RowsRaw, summary.RowsFeatures, summary.Duration))
	return summary, nil
}

func (a *app) process(ctx context.Context, runID, path string) (*processor.Result, file.Outputs, error) {
	raw, err := file.Load(path, a.cfg)
	if err != nil {
		return nil, file.Outputs{}, err
	}
	a.logger.Info(fmt.Sprintf("读取 %s: %d 行, %d 列", path, raw.Nrow(), raw.Ncol()))

	var cancel context.CancelFunc
	if timeout := time.Duration(a.cfg.RunTimeout); timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	res, err := processor.NewPipeline(a.schema, a.policy, a.logger).Run(ctx, raw)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("超出运行时间预算 %v: %w", time.Duration(a.cfg.RunTimeout), err)
		}
		return res, file.Outputs{}, err
	}

	fc := file.FeatureConfig{FeatureNames: res.FeatureNames, Target: res.Target, RunID: runID}
	var extra []utils.Sheet
	if res.Routes.Ncol() > 0 {
		extra = append(extra, utils.Sheet{Name: file.RoutesSheet, Data: res.Routes})
	}
	outputs, err := file.WriteOutputs(a.cfg.OutputDir, res.Cleaned, res.Training, fc, res.Audit, extra...)
	if err != nil {
		return res, outputs, fmt.Errorf("写出结果失败: %w", err)
	}
	return res, outputs, nil
}

// record 写历史与指标，使用独立的 ctx，运行超时后仍能记录
func (a *app) record(s datapush.Summary, res *processor.Result) {
	a.metrics.Observe(metrics.Run{
		Success:           s.Status == statusOK,
		Duration:          s.Duration,
		RowsRaw:           s.RowsRaw,
		RowsOut:           s.RowsFeatures,
		Warnings:          s.Warnings,
		OperatingWarnings: s.OperatingWarnings,
		MeanDelay:         s.MeanDelay,
	})

	if a.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run := storage.RunSummary{
		RunID:        s.RunID,
		Source:       s.Source,
		StartedAt:    s.FinishedAt.Add(-s.Duration),
		Duration:     s.Duration,
		RowsRaw:      s.RowsRaw,
		RowsCleaned:  s.RowsCleaned,
		RowsFeatures: s.RowsFeatures,
		MeanDelay:    s.MeanDelay,
		Warnings:     s.Warnings,
		Status:       s.Status,
	}
	if res != nil {
		run.Audit = res.Audit
	}
	if err := a.history.RecordRun(ctx, run); err != nil {
		a.logger.Error(err.Error())
	}
	if s.Status != statusOK || res == nil {
		return
	}
	if err := a.history.UpdateRouteStats(ctx, routeDelays(res.Features)); err != nil {
		a.logger.Error(err.Error())
	}
}

// notify 推送与邮件失败只记日志
func (a *app) notify(s datapush.Summary, outputs file.Outputs) {
	if a.pusher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := a.pusher.Push(ctx, s); err != nil {
			a.logger.Error(fmt.Sprintf("推送运行摘要失败: %v", err))
		}
		cancel()
	}
	if a.cfg.SendEmail.To != "" && s.Status == statusOK {
		if err := email.SendReport(a.cfg, s.Text(), outputs.Report); err != nil {
			a.logger.Error(err.Error())
		} else {
			a.logger.Info("结果邮件发送成功")
		}
	}
}

func meanDelay(df dataframe.DataFrame) float64 {
	if df.Err != nil || df.Nrow() == 0 || !utils.HasColumn(df, config.ColDelayMinutes) {
		return 0
	}
	return stat.Mean(df.Col(config.ColDelayMinutes).Float(), nil)
}

func routeDelays(df dataframe.DataFrame) []storage.RouteDelay {
	if df.Err != nil || !utils.HasColumn(df, config.ColRouteID) || !utils.HasColumn(df, config.ColDelayMinutes) {
		return nil
	}
	routes, err := df.Col(config.ColRouteID).Int()
	if err != nil {
		return nil
	}
	delays := df.Col(config.ColDelayMinutes).Float()
	out := make([]storage.RouteDelay, len(routes))
	for i := range routes {
		out[i] = storage.RouteDelay{RouteID: routes[i], DelayMinutes: delays[i]}
	}
	return out
}

// serve 守护模式：文件监控和/或邮件定时拉取，直到收到退出信号
func (a *app) serve(ctx context.Context, watch, schedule bool) error {
	if err := os.WriteFile(a.cfg.PidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("写入 pid 文件失败: %w", err)
	}
	defer os.Remove(a.cfg.PidFile)

	go a.reopenOnHangup(ctx)

	srv := &http.Server{Addr: a.cfg.HTTPAddr, Handler: a.router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error(fmt.Sprintf("HTTP 服务退出: %v", err))
		}
	}()

	c := cron.New()
	if err := c.AddFunc("@every 1m", func() {
		if err := a.logger.CheckRotate(a.cfg); err != nil {
			a.logger.Error(err.Error())
		}
	}); err != nil {
		return fmt.Errorf("创建日志轮转任务失败: %w", err)
	}

	if schedule {
		interval := time.Duration(a.cfg.Email.CheckInterval).String()
		cronSpec := fmt.Sprintf("@every %s", interval)
		emailClient := email.NewEmailClient(a.cfg.Email.Server, a.cfg.Email.Username, a.cfg.Email.Password, a.logger)
		handler := email.NewAttachmentHandler(a.cfg.Email.TargetSubject, a.cfg.DataDir, a.logger)

		// 同时监控目录时，保存的附件由目录监控触发运行
		runSaved := !watch
		if err := c.AddFunc(cronSpec, func() { a.pollMailbox(ctx, emailClient, handler, runSaved) }); err != nil {
			return fmt.Errorf("创建定时任务失败: %w", err)
		}
		a.logger.Info(fmt.Sprintf("邮件监控服务已启动(检查间隔: %v)", interval))
	}
	c.Start()
	defer c.Stop()

	if watch {
		monitor, err := file.NewFileMonitor(a.cfg.DataDir)
		if err != nil {
			return fmt.Errorf("创建文件监控失败: %w", err)
		}
		defer monitor.Close()

		go func() {
			err := monitor.Watch(ctx, func(path string) {
				if _, err := a.runFile(ctx, path); err != nil {
					a.logger.Error(fmt.Sprintf("处理 %s 失败: %v", path, err))
				}
			})
			if err != nil {
				a.logger.Error(fmt.Sprintf("文件监控错误: %v", err))
			}
		}()
		a.logger.Info(fmt.Sprintf("开始监控数据目录: %s", monitor.Dir()))
	}

	<-ctx.Done()
	a.logger.Info("收到退出信号，正在关闭...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *app) pollMailbox(ctx context.Context, svc email.MailService, handler *email.AttachmentHandler, runSaved bool) {
	saved, err := email.FetchDatasets(svc, handler, a.logger)
	if err != nil {
		a.logger.Error("检查处理邮件失败: " + err.Error())
		return
	}
	if !runSaved {
		return
	}
	for _, path := range saved {
		if ctx.Err() != nil {
			return
		}
		if _, err := a.runFile(ctx, path); err != nil {
			a.logger.Error(fmt.Sprintf("处理 %s 失败: %v", path, err))
		}
	}
}

// reopenOnHangup 外部轮转日志后发送 SIGHUP，重新打开日志文件
func (a *app) reopenOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := a.logger.Reopen(""); err != nil {
				log.Printf("重新打开日志失败: %v", err)
				continue
			}
			a.logger.Info("日志文件已重新打开")
		}
	}
}

func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
		})
	})
	r.Handle("/metrics", a.metrics.Handler())
	r.Get("/logs", a.streamLogs)
	r.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
		if a.history == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "未配置运行历史"})
			return
		}
		limit := 20
		if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
			limit = v
		}
		runs, err := a.history.RecentRuns(r.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})
	r.Get("/routes", func(w http.ResponseWriter, r *http.Request) {
		if a.history == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "未配置运行历史"})
			return
		}
		stats, err := a.history.RouteStats(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})
	return r
}

// streamLogs 持续输出实时日志，直到客户端断开
func (a *app) streamLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	logChan := a.logger.Subscribe()
	defer a.logger.Unsubscribe(logChan)

	for {
		select {
		case msg, ok := <-logChan:
			if !ok {
				return
			}
			if _, err := fmt.Fprint(w, msg); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
