package handlers

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/s4jith/ncert-working/internal/rag"
)

type CacheHandler struct {
	cache  *rag.ResponseCache
	logger *zap.Logger
}

func NewCacheHandler(cache *rag.ResponseCache, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{
		cache:  cache,
		logger: logger,
	}
}

// HandleSweep 清理过期缓存行。失效但未过期的记录保留作审计
func (h *CacheHandler) HandleSweep(ctx context.Context, t *asynq.Task) error {
	removed, err := h.cache.Sweep(ctx)
	if err != nil {
		h.logger.Error("缓存清理失败", zap.Error(err))
		return err
	}
	if removed > 0 {
		h.logger.Info("缓存清理完成", zap.Int64("removed", removed))
	}
	return nil
}
