package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/s4jith/ncert-working/internal/ingest"
	"github.com/s4jith/ncert-working/internal/worker/tasks"
)

type IngestHandler struct {
	ingestService *ingest.Service
	logger        *zap.Logger
}

func NewIngestHandler(ingestService *ingest.Service, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{
		ingestService: ingestService,
		logger:        logger,
	}
}

func (h *IngestHandler) HandleProcessDocument(ctx context.Context, t *asynq.Task) error {
	var p tasks.ProcessDocumentPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	h.logger.Info("开始教材处理任务", zap.String("upload_id", p.UploadID))

	if err := h.ingestService.ProcessDocument(ctx, p.UploadID); err != nil {
		h.logger.Error("教材处理失败", zap.String("upload_id", p.UploadID), zap.Error(err))
		return err
	}

	h.logger.Info("教材处理完成", zap.String("upload_id", p.UploadID))
	return nil
}

func (h *IngestHandler) HandleDeleteSource(ctx context.Context, t *asynq.Task) error {
	var p tasks.DeleteSourcePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	h.logger.Info("开始教材删除任务", zap.String("upload_id", p.UploadID))

	if err := h.ingestService.DeleteUpload(ctx, p.UploadID); err != nil {
		h.logger.Error("教材删除失败", zap.String("upload_id", p.UploadID), zap.Error(err))
		return err
	}
	return nil
}
