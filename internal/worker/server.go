package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"backend/internal/config"
	"backend/internal/worker/handlers"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Server 任务消费端。
// 同时挂一个调度器周期性投递条件扫描任务
type Server struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	logger    *zap.Logger
}

func NewServer(
	cfg config.RedisConfig,
	automationCfg config.AutomationConfig,
	handler *handlers.AutomationHandler,
	logger *zap.Logger,
) (*Server, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"automation": 8,
				"default":    2,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeProcessTrigger, handler.HandleProcessTrigger)
	mux.HandleFunc(tasks.TypeScanConditions, handler.HandleScanConditions)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	scanPayload, err := json.Marshal(tasks.ScanConditionsPayload{Reason: "scheduled"})
	if err != nil {
		return nil, fmt.Errorf("扫描任务载荷序列化失败: %w", err)
	}
	_, err = scheduler.Register(
		fmt.Sprintf("*/%d * * * *", automationCfg.ScanIntervalMinutes),
		asynq.NewTask(tasks.TypeScanConditions, scanPayload),
		asynq.Queue("automation"),
		asynq.MaxRetry(0),
	)
	if err != nil {
		return nil, fmt.Errorf("扫描任务调度注册失败: %w", err)
	}

	return &Server{
		server:    srv,
		scheduler: scheduler,
		mux:       mux,
		logger:    logger,
	}, nil
}

// Run 阻塞启动
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("调度器启动失败: %w", err)
	}
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("调度器启动失败: %w", err)
	}
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.scheduler.Shutdown()
	s.server.Shutdown()
}
