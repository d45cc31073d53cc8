package upload

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/s4jith/ncert-working/api/handlers/common"
	"github.com/s4jith/ncert-working/internal/config"
	"github.com/s4jith/ncert-working/internal/infra/queue"
	"github.com/s4jith/ncert-working/internal/ingest"
	"github.com/s4jith/ncert-working/internal/rag"
)

// Handler 教材上传接口
type Handler struct {
	ingestService *ingest.Service
	queueClient   queue.Client
	cfg           config.IngestConfig
	logger        *zap.Logger
}

// NewHandler 创建上传接口
func NewHandler(ingestService *ingest.Service, queueClient queue.Client, cfg config.IngestConfig, logger *zap.Logger) *Handler {
	if cfg.UploadDir == "" {
		cfg.UploadDir = "./uploads"
	}
	if cfg.MaxUploadSizeMB <= 0 {
		cfg.MaxUploadSizeMB = 50
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{"pdf"}
	}
	return &Handler{
		ingestService: ingestService,
		queueClient:   queueClient,
		cfg:           cfg,
		logger:        logger,
	}
}

// UploadBook 上传一册教材并排队处理
// POST /api/v1/uploads/book
func (h *Handler) UploadBook(c *gin.Context) {
	classNum := strings.TrimSpace(c.PostForm("class_num"))
	subject := strings.TrimSpace(c.PostForm("subject"))
	chapter := strings.TrimSpace(c.PostForm("chapter"))
	if classNum == "" || subject == "" || chapter == "" {
		common.Fail(c, http.StatusBadRequest, "class_num, subject and chapter are required")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, "file is required")
		return
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(file.Filename)), ".")
	if !h.extensionAllowed(ext) {
		common.Fail(c, http.StatusBadRequest,
			fmt.Sprintf("unsupported file type .%s, allowed: %s", ext, strings.Join(h.cfg.AllowedExtensions, ", ")))
		return
	}

	maxBytes := int64(h.cfg.MaxUploadSizeMB) << 20
	if file.Size > maxBytes {
		common.Fail(c, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds %d MB limit", h.cfg.MaxUploadSizeMB))
		return
	}

	uploadID := uuid.New().String()
	destDir := filepath.Join(h.cfg.UploadDir, uploadID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		h.logger.Error("创建上传目录失败", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "failed to store file")
		return
	}
	destPath := filepath.Join(destDir, filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, destPath); err != nil {
		h.logger.Error("保存上传文件失败", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "failed to store file")
		return
	}

	record := &ingest.Upload{
		ID:       uploadID,
		Filename: filepath.Base(file.Filename),
		Path:     destPath,
		SizeMB:   float64(file.Size) / (1 << 20),
		ClassNum: rag.NormalizeClass(classNum),
		Subject:  subject,
		Chapter:  chapter,
	}
	if err := h.ingestService.CreateUpload(record); err != nil {
		h.logger.Error("登记上传失败", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "failed to register upload")
		return
	}

	if err := h.queueClient.EnqueueProcessDocument(uploadID); err != nil {
		h.logger.Error("入队处理任务失败", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "failed to schedule processing")
		return
	}

	h.logger.Info("教材已入队",
		zap.String("upload_id", uploadID),
		zap.String("file", record.Filename),
		zap.String("class", record.ClassNum),
		zap.String("subject", record.Subject))

	c.JSON(http.StatusAccepted, common.APIResponse{
		Success: true,
		Message: "upload accepted for processing",
		Data:    record,
	})
}

// Status 查询单条上传进度
// GET /api/v1/uploads/:id
func (h *Handler) Status(c *gin.Context) {
	upload, err := h.ingestService.GetUpload(c.Param("id"))
	if err != nil {
		if err == ingest.ErrUploadNotFound {
			common.Fail(c, http.StatusNotFound, "upload not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, "failed to load upload")
		return
	}
	common.OK(c, upload)
}

// List 分页查询上传记录
// GET /api/v1/uploads
func (h *Handler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	uploads, total, err := h.ingestService.ListUploads(page, pageSize)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, "failed to list uploads")
		return
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	common.OK(c, common.ListResponse{
		Items:      uploads,
		Pagination: common.NewPaginationMeta(page, pageSize, total),
	})
}

// Delete 删除上传，向量与文件的清理走后台任务
// DELETE /api/v1/uploads/:id
func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.ingestService.GetUpload(id); err != nil {
		if err == ingest.ErrUploadNotFound {
			common.Fail(c, http.StatusNotFound, "upload not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, "failed to load upload")
		return
	}

	if err := h.queueClient.EnqueueDeleteSource(id); err != nil {
		h.logger.Error("入队删除任务失败", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "failed to schedule deletion")
		return
	}
	c.JSON(http.StatusAccepted, common.APIResponse{
		Success: true,
		Message: "deletion scheduled",
	})
}

// Chapters 查询已入库章节目录
// GET /api/v1/books/chapters
func (h *Handler) Chapters(c *gin.Context) {
	chapters, err := h.ingestService.ListChapters(c.Query("class_num"), c.Query("subject"))
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, "failed to list chapters")
		return
	}
	common.OK(c, chapters)
}

func (h *Handler) extensionAllowed(ext string) bool {
	for _, allowed := range h.cfg.AllowedExtensions {
		if strings.EqualFold(strings.TrimPrefix(allowed, "."), ext) {
			return true
		}
	}
	return false
}
