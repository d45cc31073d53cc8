package api

import (
	"github.com/s4jith/ncert-working/api/handlers/admin"
	"github.com/s4jith/ncert-working/api/handlers/chat"
	"github.com/s4jith/ncert-working/api/handlers/upload"
	"github.com/s4jith/ncert-working/internal/config"
	"github.com/s4jith/ncert-working/internal/infra/queue"
	"github.com/s4jith/ncert-working/internal/ingest"
	"github.com/s4jith/ncert-working/internal/llm"
	"github.com/s4jith/ncert-working/internal/rag"
	"github.com/s4jith/ncert-working/internal/vectordb"

	"gorm.io/gorm"
)

// AppContainer 汇总路由层用到的核心组件
type AppContainer struct {
	DB            *gorm.DB
	Cfg           *config.Config
	Index         vectordb.Index
	Retriever     *rag.Retriever
	Cache         *rag.ResponseCache
	RagService    *rag.Service
	Providers     *llm.Factory
	IngestService *ingest.Service
	QueueClient   queue.Client
}

// Handlers 汇总所有 HTTP 处理器
type Handlers struct {
	Chat   *chat.Handler
	Stream *chat.StreamHandler
	Upload *upload.Handler
	Admin  *admin.Handler
}
