package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/s4jith/ncert-working/api/handlers/common"
	"github.com/s4jith/ncert-working/internal/ingest"
	"github.com/s4jith/ncert-working/internal/rag"
	"github.com/s4jith/ncert-working/internal/vectordb"
)

// Handler 后台统计接口
type Handler struct {
	retriever     *rag.Retriever
	cache         *rag.ResponseCache
	ingestService *ingest.Service
	logger        *zap.Logger
}

// NewHandler 创建后台接口
func NewHandler(retriever *rag.Retriever, cache *rag.ResponseCache, ingestService *ingest.Service, logger *zap.Logger) *Handler {
	return &Handler{
		retriever:     retriever,
		cache:         cache,
		ingestService: ingestService,
		logger:        logger,
	}
}

// StatsResponse 系统总览
type StatsResponse struct {
	Index   *vectordb.IndexStats `json:"index,omitempty"`
	Cache   *rag.CacheStats      `json:"cache,omitempty"`
	Uploads map[string]int64     `json:"uploads"`
}

// Stats 汇总索引、缓存和入库状态
// GET /api/v1/admin/stats
func (h *Handler) Stats(c *gin.Context) {
	resp := StatsResponse{}

	// 局部故障不拖垮整个总览，缺失的部分置空
	if indexStats, err := h.retriever.Stats(c.Request.Context()); err != nil {
		h.logger.Warn("查询索引统计失败", zap.Error(err))
	} else {
		resp.Index = indexStats
	}

	if cacheStats, err := h.cache.Stats(c.Request.Context()); err != nil {
		h.logger.Warn("查询缓存统计失败", zap.Error(err))
	} else {
		resp.Cache = cacheStats
	}

	uploads, err := h.ingestService.CountByStatus()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, "failed to load upload stats")
		return
	}
	resp.Uploads = uploads

	common.OK(c, resp)
}
