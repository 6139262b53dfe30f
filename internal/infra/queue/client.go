package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend/internal/config"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Client 任务队列客户端接口
type Client interface {
	EnqueueProcessTrigger(payload tasks.ProcessTriggerPayload) error
	EnqueueScanConditions(reason string) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &asynqClient{client: client}
}

func (c *asynqClient) EnqueueProcessTrigger(payload tasks.ProcessTriggerPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("任务载荷序列化失败: %w", err)
	}

	task := asynq.NewTask(tasks.TypeProcessTrigger, data)

	// 引擎自己把失败落到执行行，队列层不做重试，避免重复执行
	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(0),
		asynq.Timeout(5*time.Minute),
		asynq.Queue("automation"),
	)
	if err != nil {
		return fmt.Errorf("任务入队失败: %w", err)
	}
	return nil
}

func (c *asynqClient) EnqueueScanConditions(reason string) error {
	data, err := json.Marshal(tasks.ScanConditionsPayload{Reason: reason})
	if err != nil {
		return fmt.Errorf("任务载荷序列化失败: %w", err)
	}

	task := asynq.NewTask(tasks.TypeScanConditions, data)

	// 唯一性窗口内重复的扫描请求只入队一次
	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(0),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("automation"),
		asynq.Unique(time.Minute),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("任务入队失败: %w", err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
