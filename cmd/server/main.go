package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"backend/api"
	"backend/internal/ai/providers"
	"backend/internal/auth"
	"backend/internal/automation"
	"backend/internal/config"
	"backend/internal/connector"
	"backend/internal/infra"
	"backend/internal/infra/queue"
	"backend/internal/logger"
	"backend/internal/models"
	"backend/internal/worker"
	"backend/internal/worker/handlers"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// 统一加载 .env，便于集中管理 APP_* 环境变量
	loadEnvFile()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	cfg, err := config.Load(env, "")
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
	)

	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer infra.CloseDatabase()

	if cfg.Database.AutoMigrate {
		if err := infra.AutoMigrate(db, models.AllModels()...); err != nil {
			logger.Fatal("数据库迁移失败", zap.Error(err))
		}
	} else {
		logger.Info("跳过自动迁移（配置已禁用）")
	}

	rdb, err := infra.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Fatal("初始化 Redis 失败", zap.Error(err))
	}
	defer infra.CloseRedis()

	// 组装自动化管道
	log := logger.Get()
	registry := connector.NewRegistry(db, time.Duration(cfg.Automation.DispatchTimeoutSeconds)*time.Second)
	credentialService := models.NewCredentialService(db)
	factory := providers.NewFactory(cfg.AI, cfg.Automation.ProviderTimeoutSeconds)

	contextBuilder := automation.NewContextBuilder(registry, cfg.Automation.RecentItemsLimit, log)
	skillRunner := automation.NewSkillRunner(credentialService, factory, log)
	actionRouter, err := automation.NewActionRouter(db, registry, log)
	if err != nil {
		logger.Fatal("动作路由器装配失败", zap.Error(err))
	}
	engine := automation.NewEngine(db, contextBuilder, skillRunner, actionRouter, log)
	eventHandler := automation.NewEventHandler(db, registry, log)
	scanner := automation.NewConditionScanner(db, registry, log)

	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()

	jwtService := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, rdb)

	// Worker：消费触发任务与周期性条件扫描
	scanLockTTL := time.Duration(cfg.Automation.ScanIntervalMinutes) * time.Minute
	automationHandler := handlers.NewAutomationHandler(db, engine, scanner, queueClient, rdb, scanLockTTL, log)
	workerServer, err := worker.NewServer(cfg.Redis, cfg.Automation, automationHandler, log)
	if err != nil {
		logger.Fatal("Worker 服务器装配失败", zap.Error(err))
	}

	router := api.NewRouter(&api.Dependencies{
		Config:            cfg,
		DB:                db,
		QueueClient:       queueClient,
		JWTService:        jwtService,
		Engine:            engine,
		ActionRouter:      actionRouter,
		EventHandler:      eventHandler,
		SkillRunner:       skillRunner,
		CredentialService: credentialService,
		Logger:            log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	go func() {
		if err := workerServer.Run(); err != nil {
			logger.Fatal("Worker 服务器启动失败", zap.Error(err))
		}
	}()

	gracefulShutdown(server, workerServer)
}

// gracefulShutdown 等待退出信号，先停 Worker 再停 HTTP
func gracefulShutdown(server *http.Server, workerServer *worker.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("收到退出信号，开始优雅关闭...")

	workerServer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP 服务器关闭异常", zap.Error(err))
	}

	logger.Info("应用已退出")
}

// loadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func loadEnvFile() {
	if path := resolveEnvPath(); path != "" {
		if err := godotenv.Load(path); err != nil {
			fmt.Printf("加载环境变量文件 %s 失败: %v\n", path, err)
		} else {
			fmt.Printf("已加载环境变量文件: %s\n", path)
		}
	} else {
		fmt.Println("未找到 .env 文件，将仅使用系统环境变量和 config/* 配置")
	}
}

// resolveEnvPath 尝试从当前工作目录、可执行文件目录向上查找根目录 .env
func resolveEnvPath() string {
	for _, path := range collectEnvCandidates() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func collectEnvCandidates() []string {
	seen := make(map[string]struct{})
	var candidates []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		candidates = append(candidates, path)
	}

	traverse := func(start string) {
		dir := filepath.Clean(start)
		for i := 0; i < 8; i++ {
			if dir == "" || dir == string(filepath.Separator) || dir == "." {
				break
			}
			add(filepath.Join(dir, ".env"))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if wd, err := os.Getwd(); err == nil {
		traverse(wd)
	}
	if exe, err := os.Executable(); err == nil {
		traverse(filepath.Dir(exe))
	}

	return candidates
}
