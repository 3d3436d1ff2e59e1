package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"realmarena/config"
	"realmarena/server"
	"realmarena/session"
)

// RealmArena 入口：加载配置，启动房间 actor 系统、回收器和 HTTP + WebSocket 服务
func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	// 使用第三方 zap 日志库写入日志文件（带滚动）
	if err := server.InitLogger(server.LogOptions{
		File:   cfg.LogFile,
		Level:  cfg.LogLevel,
		Stderr: cfg.LogStderr,
	}); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	grid, err := cfg.LoadGrid()
	if err != nil {
		server.Log.Fatalf("load map: %v", err)
	}
	if grid != nil {
		server.Log.Infof("map loaded: %s (%dx%d tiles)", cfg.MapFile, cfg.MapWidth, grid.Height())
	}
	policy := cfg.MovePolicy(grid)

	// protoactor 默认用 tint 写 stderr，这里改为接到 zap
	system := actor.NewActorSystem(actor.WithLoggerFactory(server.ActorLogger))
	registry := session.NewRegistry(system, session.Options{
		Generator:        session.NewRandomGenerator(cfg.SpawnZone(), 0),
		Policy:           &policy,
		ChallengeRadius:  cfg.ChallengeRadius,
		ChallengeTimeout: cfg.ChallengeTimeout.Duration,
		RequestTimeout:   cfg.RequestTimeout.Duration,
		Logger:           server.Log,
	})
	reaper := session.NewReaper(registry, cfg.ReapInterval.Duration, cfg.IdleThreshold.Duration)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s := server.NewServer(cfg, registry, reaper, server.NewMetrics(promReg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reaper.Run(ctx)

	mux := s.Routes(promReg)
	// 前后端分离：存在 web 目录时映射为静态资源
	if st, err := os.Stat("web"); err == nil && st.IsDir() {
		mux.Handle("/", http.FileServer(http.Dir("web")))
	}
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		server.Log.Infof("RealmArena listening on %s (codec=%s, idle threshold %s)", cfg.Addr, cfg.Codec, cfg.IdleThreshold)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	server.Log.Info("Shutting down...")

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		server.Log.Warnf("http shutdown: %v", err)
	}
	s.Shutdown()
	registry.Close()
}
