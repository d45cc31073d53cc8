package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/s4jith/ncert-working/internal/config"
	"github.com/s4jith/ncert-working/internal/worker/tasks"
)

// Client 任务队列客户端接口
type Client interface {
	EnqueueProcessDocument(uploadID string) error
	EnqueueDeleteSource(uploadID string) error
	EnqueueCacheSweep() error
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

func (c *asynqClient) EnqueueProcessDocument(uploadID string) error {
	payload, err := json.Marshal(tasks.ProcessDocumentPayload{UploadID: uploadID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	// 整册教材抽取加 OCR 可能很慢，放宽超时
	_, err = c.client.Enqueue(asynq.NewTask(tasks.TypeProcessDocument, payload),
		asynq.MaxRetry(3),
		asynq.Timeout(20*time.Minute),
		asynq.Queue("ingest"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) EnqueueDeleteSource(uploadID string) error {
	payload, err := json.Marshal(tasks.DeleteSourcePayload{UploadID: uploadID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	_, err = c.client.Enqueue(asynq.NewTask(tasks.TypeDeleteSource, payload),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
		asynq.Queue("ingest"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) EnqueueCacheSweep() error {
	_, err := c.client.Enqueue(asynq.NewTask(tasks.TypeCacheSweep, nil),
		asynq.MaxRetry(1),
		asynq.Timeout(time.Minute),
		asynq.Queue("maintenance"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
