package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rtmp-orchestrator/internal/media"
	"rtmp-orchestrator/internal/notify"
	"rtmp-orchestrator/internal/orchestrator"
	"rtmp-orchestrator/internal/platform/config"
	"rtmp-orchestrator/internal/platform/logger"
	"rtmp-orchestrator/internal/platform/metrics"
	"rtmp-orchestrator/internal/ws"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "3000")
	rtmpBaseURL := config.GetEnv("RTMP_BASE_URL", "rtmp://127.0.0.1:1935")
	recordingsDir := config.GetEnv("RECORDINGS_DIR", "recordings")
	sampleInterval := time.Duration(config.GetEnvInt("SAMPLE_INTERVAL_MS", 2000)) * time.Millisecond
	ffmpegPath := config.GetEnv("FFMPEG_PATH", "ffmpeg")
	ffprobePath := config.GetEnv("FFPROBE_PATH", "ffprobe")
	telegramToken := config.GetEnv("TELEGRAM_BOT_TOKEN", "")
	chatIDsFile := config.GetEnv("TELEGRAM_CHAT_IDS_FILE", "chatids.json")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	if err := os.MkdirAll(recordingsDir, 0o755); err != nil {
		log.Error("create recordings directory", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var notifier orchestrator.Notifier
	if telegramToken != "" {
		tg, err := notify.NewTelegram(telegramToken, chatIDsFile, log)
		if err != nil {
			log.Error("telegram setup failed, falling back to log notifications", "error", err)
			notifier = notify.NewLog(log)
		} else {
			tg.Start()
			defer tg.Close()
			notifier = tg
		}
	} else {
		notifier = notify.NewLog(log)
	}

	runner := media.NewFFmpegRunner(ffmpegPath, log)
	prober := media.NewFFprobe(ffprobePath)
	hub := ws.NewHub(log)
	met := metrics.New()

	table := orchestrator.NewSessionTable()
	recorder := orchestrator.NewRecorder(runner, prober, rtmpBaseURL, notifier, log)
	forwarder := orchestrator.NewForwarder(table, runner, rtmpBaseURL, notifier, log)
	sampler := orchestrator.NewSampler(table, prober, rtmpBaseURL, sampleInterval, notifier, hub, log, met)
	svc := orchestrator.NewService(ctx, table, recorder, forwarder, sampler, hub, notifier, recordingsDir, log, met)
	h := orchestrator.NewHandler(svc, recordingsDir, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetActiveStreams(table.ActiveCount())
			met.SetActiveForwards(table.ForwardCount())
		}).ServeHTTP(w, r)
	})
	r.Route("/hooks", func(r chi.Router) {
		r.Post("/publish", h.PublishStart)
		r.Post("/publish_done", h.PublishDone)
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/forward", h.Forward)
		r.Get("/recordings", h.ListRecordings)
		r.Get("/recordings/{filename}", h.DownloadRecording)
		r.Get("/metrics", h.ListMetrics)
	})
	r.Get("/ws", hub.ServeWS)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"rtmp_base_url", rtmpBaseURL,
		"recordings_dir", recordingsDir,
		"sample_interval", sampleInterval.String(),
		"log_level", logLevel,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
