package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/s4jith/ncert-working/internal/config"
	"github.com/s4jith/ncert-working/internal/extract"
	"github.com/s4jith/ncert-working/internal/metrics"
	"github.com/s4jith/ncert-working/internal/rag"
)

// ErrUploadNotFound 上传记录不存在
var ErrUploadNotFound = errors.New("上传记录不存在")

// TextExtractor PDF 文本抽取依赖
type TextExtractor interface {
	Extract(ctx context.Context, path string) (*extract.Result, error)
}

// ChunkIndexer 向量索引依赖
type ChunkIndexer interface {
	UpsertChunks(ctx context.Context, chunks []rag.ChunkInput, classNum, subject, chapter, sourceFile string) (int, error)
	DeleteSource(ctx context.Context, sourceFile, subject string) error
}

// Service 教材入库流水线：抽取、清洗、切片、向量化入索引
type Service struct {
	db        *gorm.DB
	extractor TextExtractor
	indexer   ChunkIndexer
	cfg       config.IngestConfig
	logger    *zap.Logger
}

// NewService 创建入库服务
func NewService(db *gorm.DB, extractor TextExtractor, indexer ChunkIndexer, cfg config.IngestConfig, logger *zap.Logger) *Service {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = rag.DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = rag.DefaultChunkOverlap
	}
	if cfg.DefaultTotalPages <= 0 {
		cfg.DefaultTotalPages = 20
	}
	return &Service{
		db:        db,
		extractor: extractor,
		indexer:   indexer,
		cfg:       cfg,
		logger:    logger,
	}
}

// CreateUpload 登记一条待处理上传
func (s *Service) CreateUpload(upload *Upload) error {
	upload.Status = StatusPending
	upload.Progress = 0
	if err := s.db.Create(upload).Error; err != nil {
		return fmt.Errorf("登记上传失败: %w", err)
	}
	return nil
}

// GetUpload 查询单条上传
func (s *Service) GetUpload(id string) (*Upload, error) {
	var upload Upload
	if err := s.db.First(&upload, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUploadNotFound
		}
		return nil, err
	}
	return &upload, nil
}

// ListUploads 分页查询上传记录，按时间倒序
func (s *Service) ListUploads(page, pageSize int) ([]Upload, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	var total int64
	if err := s.db.Model(&Upload{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var uploads []Upload
	err := s.db.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&uploads).Error
	return uploads, total, err
}

// ListChapters 查询已入库章节
func (s *Service) ListChapters(classNum, subject string) ([]BookChapter, error) {
	query := s.db.Order("class_num, subject, chapter")
	if classNum != "" {
		query = query.Where("class_num = ?", rag.NormalizeClass(classNum))
	}
	if subject != "" {
		query = query.Where("subject = ?", subject)
	}
	var chapters []BookChapter
	err := query.Find(&chapters).Error
	return chapters, err
}

// CountByStatus 按状态统计上传数，用于后台总览
func (s *Service) CountByStatus() (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := s.db.Model(&Upload{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// ProcessDocument 处理一条上传：进度沿固定检查点单调推进，
// 失败时停在最后到达的检查点并记录原因
func (s *Service) ProcessDocument(ctx context.Context, uploadID string) error {
	start := time.Now()
	upload, err := s.GetUpload(uploadID)
	if err != nil {
		return err
	}

	s.logger.Info("开始处理教材",
		zap.String("upload_id", uploadID),
		zap.String("file", upload.Filename),
		zap.String("class", upload.ClassNum),
		zap.String("subject", upload.Subject))

	if err := s.db.Model(&Upload{}).Where("id = ?", uploadID).
		Updates(map[string]any{"status": StatusProcessing, "progress": 0}).Error; err != nil {
		return fmt.Errorf("更新状态失败: %w", err)
	}

	if _, err := os.Stat(upload.Path); err != nil {
		return s.fail(uploadID, start, fmt.Errorf("源文件不可读: %w", err))
	}
	s.advance(uploadID, 15)

	result, err := s.extractor.Extract(ctx, upload.Path)
	if err != nil {
		return s.fail(uploadID, start, err)
	}
	s.advance(uploadID, 30)

	text := extract.Normalize(result.Text)
	s.advance(uploadID, 45)

	chunks := rag.Chunk(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return s.fail(uploadID, start, errors.New("切片后没有可入库的内容"))
	}
	s.advance(uploadID, 55)

	pageCount := result.PageCount
	if pageCount <= 0 {
		pageCount = s.cfg.DefaultTotalPages
	}
	inputs := make([]rag.ChunkInput, len(chunks))
	for i, chunk := range chunks {
		inputs[i] = rag.ChunkInput{
			Text: chunk,
			Page: rag.EstimatePage(i, len(chunks), pageCount),
		}
	}
	s.advance(uploadID, 65)

	upserted, err := s.indexer.UpsertChunks(ctx, inputs,
		upload.ClassNum, upload.Subject, upload.Chapter, upload.Filename)
	if err != nil {
		return s.fail(uploadID, start, err)
	}
	s.advance(uploadID, 90)

	if err := s.recordChapter(upload, upserted, result.PageCount); err != nil {
		return s.fail(uploadID, start, err)
	}

	err = s.db.Model(&Upload{}).Where("id = ?", uploadID).
		Updates(map[string]any{
			"status":       StatusCompleted,
			"progress":     100,
			"total_chunks": upserted,
			"page_count":   result.PageCount,
			"used_ocr":     result.UsedOCR,
		}).Error
	if err != nil {
		return fmt.Errorf("收尾更新失败: %w", err)
	}

	metrics.IngestTotal.WithLabelValues(StatusCompleted).Inc()
	metrics.IngestChunks.Add(float64(upserted))
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	s.logger.Info("教材处理完成",
		zap.String("upload_id", uploadID),
		zap.Int("chunks", upserted),
		zap.Int("pages", result.PageCount),
		zap.Bool("used_ocr", result.UsedOCR),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// DeleteUpload 删除上传：清掉索引里的向量、章节记录、文件和数据库行
func (s *Service) DeleteUpload(ctx context.Context, uploadID string) error {
	upload, err := s.GetUpload(uploadID)
	if err != nil {
		return err
	}

	if err := s.indexer.DeleteSource(ctx, upload.Filename, upload.Subject); err != nil {
		return fmt.Errorf("删除向量失败: %w", err)
	}

	chapterID := ChapterID(rag.NormalizeClass(upload.ClassNum), upload.Subject, upload.Chapter)
	if err := s.db.Delete(&BookChapter{}, "id = ?", chapterID).Error; err != nil {
		return fmt.Errorf("删除章节记录失败: %w", err)
	}

	if upload.Path != "" {
		if err := os.Remove(upload.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("删除源文件失败", zap.String("path", upload.Path), zap.Error(err))
		}
	}

	if err := s.db.Delete(&Upload{}, "id = ?", uploadID).Error; err != nil {
		return fmt.Errorf("删除上传记录失败: %w", err)
	}
	s.logger.Info("已删除上传", zap.String("upload_id", uploadID), zap.String("file", upload.Filename))
	return nil
}

func (s *Service) recordChapter(upload *Upload, totalChunks, pageCount int) error {
	classNum := rag.NormalizeClass(upload.ClassNum)
	chapter := BookChapter{
		ID:          ChapterID(classNum, upload.Subject, upload.Chapter),
		ClassNum:    classNum,
		Subject:     upload.Subject,
		Chapter:     upload.Chapter,
		SourceFile:  upload.Filename,
		TotalChunks: totalChunks,
		PageCount:   pageCount,
	}
	if err := s.db.Save(&chapter).Error; err != nil {
		return fmt.Errorf("写入章节记录失败: %w", err)
	}
	return nil
}

// advance 推进进度检查点，只增不减
func (s *Service) advance(uploadID string, progress int) {
	err := s.db.Model(&Upload{}).
		Where("id = ? AND progress < ?", uploadID, progress).
		Update("progress", progress).Error
	if err != nil {
		s.logger.Warn("更新进度失败",
			zap.String("upload_id", uploadID),
			zap.Int("progress", progress),
			zap.Error(err))
	}
}

func (s *Service) fail(uploadID string, start time.Time, cause error) error {
	s.logger.Error("教材处理失败",
		zap.String("upload_id", uploadID),
		zap.Error(cause))
	err := s.db.Model(&Upload{}).Where("id = ?", uploadID).
		Updates(map[string]any{
			"status":        StatusFailed,
			"error_message": cause.Error(),
		}).Error
	if err != nil {
		s.logger.Error("记录失败状态出错", zap.Error(err))
	}
	metrics.IngestTotal.WithLabelValues(StatusFailed).Inc()
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	return cause
}
