package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/s4jith/ncert-working/internal/config"
	"github.com/s4jith/ncert-working/internal/ingest"
	"github.com/s4jith/ncert-working/internal/rag"
	"github.com/s4jith/ncert-working/internal/worker/handlers"
	"github.com/s4jith/ncert-working/internal/worker/tasks"
)

type Server struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	logger    *zap.Logger
}

func NewServer(
	cfg config.RedisConfig,
	ingestService *ingest.Service,
	cache *rag.ResponseCache,
	logger *zap.Logger,
) *Server {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 4, // 教材处理吃 CPU 和内存，并发压低
			Queues: map[string]int{
				"ingest":      6, // 教材入库优先级高
				"maintenance": 2,
				"default":     1,
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

	ingestHandler := handlers.NewIngestHandler(ingestService, logger)
	mux.HandleFunc(tasks.TypeProcessDocument, ingestHandler.HandleProcessDocument)
	mux.HandleFunc(tasks.TypeDeleteSource, ingestHandler.HandleDeleteSource)

	cacheHandler := handlers.NewCacheHandler(cache, logger)
	mux.HandleFunc(tasks.TypeCacheSweep, cacheHandler.HandleSweep)

	// 过期缓存定期清理
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				logger.Error("定时任务入队失败", zap.Error(err))
			}
		},
	})
	if _, err := scheduler.Register("@every 6h",
		asynq.NewTask(tasks.TypeCacheSweep, nil),
		asynq.Queue("maintenance")); err != nil {
		logger.Error("注册缓存清理定时任务失败", zap.Error(err))
	}

	return &Server{
		server:    srv,
		scheduler: scheduler,
		mux:       mux,
		logger:    logger,
	}
}

// Run 阻塞启动 Worker
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	if err := s.scheduler.Start(); err != nil {
		return err
	}
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	if err := s.scheduler.Start(); err != nil {
		return err
	}
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.scheduler.Shutdown()
	s.server.Shutdown()
}
