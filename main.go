package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/nightfeed/mazeshow/api/rest"
	"github.com/nightfeed/mazeshow/api/sse"
	"github.com/nightfeed/mazeshow/api/ws"
	"github.com/nightfeed/mazeshow/cache"
	"github.com/nightfeed/mazeshow/config"
	dbadapter "github.com/nightfeed/mazeshow/db"
	"github.com/nightfeed/mazeshow/game/hook"
	"github.com/nightfeed/mazeshow/game/world"
	"github.com/nightfeed/mazeshow/live"
	mw "github.com/nightfeed/mazeshow/middleware"
	"github.com/nightfeed/mazeshow/model"
	"github.com/nightfeed/mazeshow/recorder"
	"github.com/nightfeed/mazeshow/scheduler"
	"github.com/nightfeed/mazeshow/telemetry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Server.AdminKeyHash == "" {
		logger.Warn("server.admin_key_hash is not set; admin endpoints are disabled")
	}
	defaults, err := cfg.ArenaDefaults()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database, logger)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Cache / PubSub ----
	c, pubsub, err := cache.Open(cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	})
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	defer c.Close()
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Hook listeners ----
	hooks := hook.NewCenter(logger)

	rec := recorder.New(db, recorder.Options{
		BatchSize:     cfg.Telemetry.BatchSize,
		FlushInterval: cfg.Telemetry.FlushInterval,
	}, logger)
	rec.Attach(hooks)

	out, err := telemetry.NewOutputManager(cfg.Telemetry.OutputDir, logger)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	out.Attach(hooks)

	pub := live.NewPublisher(c, pubsub, cfg.Cache.ScoreTTL, cfg.Cache.HistoryLen, logger)
	pub.Attach(hooks)

	// ---- World ----
	wm := world.NewWorldManager(hooks, true, logger)

	// ---- Handlers ----
	arenaH := apirest.NewArenaHandler(apirest.ArenaDeps{
		World:     wm,
		Defaults:  defaults,
		MaxArenas: cfg.Game.MaxArenas,
		Recorder:  rec,
		Output:    out,
		Live:      pub,
		Cache:     c,
		Security:  cfg.Security,
		Logger:    logger,
	})
	rankH := apirest.NewRankingHandler(rec, pub, cfg.Game.LeaderboardSize, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()
	sched.AddTicker("leaderboard_refresh", time.Minute, func() {
		rankH.Refresh(ctx)
	})
	sched.AddTicker("arena_stats", cfg.Telemetry.SampleInterval, func() {
		for _, a := range wm.List() {
			s := a.Pool().Snapshot()
			logger.Debug("arena stats",
				zap.String("arena", a.ID),
				zap.Int("monsters", len(a.MonsterIDs())),
				zap.Float64("viewers", s.Viewers),
				zap.Int64("likes", s.Likes))
		}
	})
	adminH := apirest.NewAdminHandler(wm, sched, logger)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(ctx, rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "arenas": wm.ActiveCount()})
	})

	api := r.Group("/api")
	{
		arenasG := api.Group("/arenas")
		arenasG.POST("", arenaH.Create)
		arenasG.GET("", arenaH.List)
		arenasG.GET("/:id", arenaH.Get)
		arenasG.DELETE("/:id", arenaH.Delete)
		arenasG.GET("/:id/history", arenaH.History)
		arenasG.POST("/:id/observer-token", arenaH.ObserverToken)
		arenasG.POST("/:id/monsters", arenaH.Spawn)
		arenasG.PUT("/:id/monsters/:mid/visibility", arenaH.SetVisibility)
		arenasG.PUT("/:id/monsters/:mid/request", arenaH.SetRequested)
		arenasG.PUT("/:id/monsters/:mid/economy", arenaH.ConfigureEconomy)
		arenasG.DELETE("/:id/monsters/:mid", arenaH.RemoveMonster)

		api.GET("/leaderboard", rankH.Leaderboard)
		api.GET("/runs/:id", rankH.GetRun)
		api.GET("/runs/:id/samples", rankH.RunSamples)

		adminG := api.Group("/admin")
		if len(cfg.Server.AdminAllowIPs) > 0 {
			adminG.Use(mw.IPWhitelist(cfg.Server.AdminAllowIPs))
		}
		adminG.Use(mw.AdminAuth(cfg.Server.AdminKeyHash))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.GET("/arenas/:id/tasks", adminH.ArenaTasks)
		adminG.POST("/arenas/stop", adminH.StopAll)
		adminG.POST("/leaderboard/refresh", rankH.RefreshLeaderboard)
	}

	// ---- Live feeds (SSE and WebSocket) ----
	observerAuth := mw.ObserverAuth(cfg.Security, c)
	sseH := sse.NewHandler(pub, cfg.Security, logger)
	r.GET("/sse", observerAuth, sseH.ServeSSE)
	wsH := ws.NewHandler(pub, cfg.Security, logger)
	r.GET("/ws", observerAuth, wsH.ServeWS)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		logger.Info("Server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	// Finish and archive every live arena so no run is lost on restart.
	for _, a := range wm.List() {
		cfg := a.Config()
		snap, err := wm.Destroy(a.ID)
		if err != nil {
			continue
		}
		if _, err := rec.Archive(shutdownCtx, snap, cfg); err != nil {
			logger.Warn("archive on shutdown", zap.String("arena", a.ID), zap.Error(err))
		}
	}
	rec.Stop(shutdownCtx)
	if err := out.Close(); err != nil {
		logger.Warn("telemetry close", zap.Error(err))
	}
}
