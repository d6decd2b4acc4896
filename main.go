package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/emilythestrangee/algaerithm/config"
	"github.com/emilythestrangee/algaerithm/handler"
	"github.com/emilythestrangee/algaerithm/middleware"
	"github.com/emilythestrangee/algaerithm/service"
	"github.com/emilythestrangee/algaerithm/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := utils.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to flush logs: %v\n", err)
		}
	}()

	utils.Logger.Info("starting algaerithm server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	// 加载分类模型
	classifier, err := service.LoadClassifier(cfg.Model.Path, cfg.Model.FallbackOnError)
	if err != nil {
		utils.Logger.Fatal("failed to load classifier", zap.Error(err))
	}

	// 初始化Redis
	var redisService *service.RedisService
	if cfg.Redis.Enabled {
		redisService = service.NewRedisService(&cfg.Redis)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := redisService.Ping(ctx)
		cancel()
		if err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
			_ = redisService.Close()
			redisService = nil
		} else {
			utils.Logger.Info("redis connected successfully")
			defer redisService.Close()
		}
	}

	detector := service.NewAlgaeDetector(classifier)
	detectHandler := handler.NewDetectHandler(cfg, redisService, detector)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      setupRouter(cfg, detectHandler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		utils.Logger.Error("server forced to shutdown", zap.Error(err))
	}
}

func setupRouter(cfg *config.Config, detectHandler *handler.DetectHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	// 静态文件服务
	r.Static("/static", cfg.Static.Dir)
	r.StaticFile("/", filepath.Join(cfg.Static.Dir, "index.html"))

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": Version,
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"build_id":   BuildID,
			"git_commit": GitCommit,
			"git_branch": GitBranch,
		})
	})

	// API路由
	api := r.Group("/api")
	{
		api.POST("/detect-algae", detectHandler.Detect)
		api.GET("/detect-algae/:md5", detectHandler.GetByMD5)
	}

	return r
}
