package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/s4jith/ncert-working/api/handlers/admin"
	"github.com/s4jith/ncert-working/api/handlers/chat"
	uploadHandlers "github.com/s4jith/ncert-working/api/handlers/upload"
	"github.com/s4jith/ncert-working/internal/config"
	"github.com/s4jith/ncert-working/internal/embedding"
	"github.com/s4jith/ncert-working/internal/extract"
	"github.com/s4jith/ncert-working/internal/infra/queue"
	"github.com/s4jith/ncert-working/internal/ingest"
	"github.com/s4jith/ncert-working/internal/llm"
	"github.com/s4jith/ncert-working/internal/logger"
	"github.com/s4jith/ncert-working/internal/metrics"
	"github.com/s4jith/ncert-working/internal/rag"
	"github.com/s4jith/ncert-working/internal/worker"
)

// SetupRouter 组装 Gin 路由和 Worker 服务器
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *worker.Server) {
	router := gin.New()
	log := logger.Get()

	// 全局中间件
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(CORS())
	router.Use(metrics.PrometheusMiddleware())

	// 向量索引与向量化
	index, err := initVectorIndex(cfg, db)
	if err != nil {
		logger.Fatal("初始化向量索引失败", zap.Error(err))
	}
	embedder := embedding.NewOpenAIProvider(
		cfg.AI.OpenAI.APIKey,
		cfg.AI.OpenAI.BaseURL,
		cfg.AI.OpenAI.EmbeddingModel,
		cfg.VectorIndex.Dimension,
	)

	// 检索、缓存与问答流水线
	retriever := rag.NewRetriever(index, embedder, cfg.RAG.TopK, cfg.RAG.FanoutNamespaces, log)
	cacheTTL := time.Duration(cfg.RAG.CacheTTLSeconds) * time.Second
	responseCache := rag.NewResponseCache(db, cacheTTL, log)
	ragService := rag.NewService(db, responseCache, retriever, rag.ServiceOptions{
		MinRelevanceScore: cfg.RAG.MinRelevanceScore,
		RerankTopK:        cfg.RAG.RerankTopK,
		HistoryLimit:      cfg.RAG.HistoryLimit,
		CacheMinSources:   cfg.RAG.CacheMinSources,
	}, log)

	// 大模型后端工厂
	providers := llm.NewFactory(cfg.AI)

	// 教材入库流水线
	ocrEngine := extract.NewTesseractEngine(cfg.OCR)
	var extractor ingest.TextExtractor
	if ocrEngine != nil {
		extractor = extract.NewExtractor(ocrEngine, cfg.OCR.DPI)
	} else {
		log.Warn("未配置 OCR 服务，扫描版教材将无法抽取")
		extractor = extract.NewExtractor(nil, cfg.OCR.DPI)
	}
	ingestService := ingest.NewService(db, extractor, retriever, cfg.Ingest, log)

	// 任务队列
	queueClient := queue.NewClient(cfg.Redis)
	workerServer := worker.NewServer(cfg.Redis, ingestService, responseCache, log)

	// 公开端点
	router.GET("/health", HealthCheck())
	router.GET("/ready", ReadinessCheck(db, index))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	container := &AppContainer{
		DB:            db,
		Cfg:           cfg,
		Index:         index,
		Retriever:     retriever,
		Cache:         responseCache,
		RagService:    ragService,
		Providers:     providers,
		IngestService: ingestService,
		QueueClient:   queueClient,
	}
	handlers := &Handlers{
		Chat:   chat.NewHandler(ragService, providers, log),
		Stream: chat.NewStreamHandler(ragService, providers, log),
		Upload: uploadHandlers.NewHandler(ingestService, queueClient, cfg.Ingest, log),
		Admin:  admin.NewHandler(retriever, responseCache, ingestService, log),
	}

	RegisterRoutes(router, container, handlers)

	return router, workerServer
}
