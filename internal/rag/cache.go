package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrCacheMiss 缓存未命中，属于正常信号而非故障
var ErrCacheMiss = errors.New("缓存未命中")

// DefaultCacheTTL 回答缓存默认有效期（10 天）
const DefaultCacheTTL = 864000 * time.Second

// ResponseCache 基于关系库的问答缓存
// 同一问题在相同年级/学科限定下命中同一条记录
type ResponseCache struct {
	db     *gorm.DB
	ttl    time.Duration
	logger *zap.Logger
}

// NewResponseCache 创建问答缓存
func NewResponseCache(db *gorm.DB, ttl time.Duration, logger *zap.Logger) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseCache{db: db, ttl: ttl, logger: logger}
}

// HashQuestion 计算缓存键
// 问题做小写与去空白归一化，年级/学科为空时记作 any
func HashQuestion(question, grade, subject string) string {
	if grade == "" {
		grade = "any"
	}
	if subject == "" {
		subject = "any"
	}
	key := fmt.Sprintf("%s|%s|%s", strings.ToLower(strings.TrimSpace(question)), grade, subject)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Get 查询缓存
// 记录存在、有效且未过期才算命中，命中时累加命中计数
func (c *ResponseCache) Get(ctx context.Context, questionHash string) (*CacheEntry, error) {
	var entry CacheEntry
	err := c.db.WithContext(ctx).
		Where("question_hash = ? AND is_valid = ? AND expires_at > ?", questionHash, true, time.Now().UTC()).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("查询缓存失败: %w", err)
	}

	// 命中计数失败不影响读取
	if err := c.db.WithContext(ctx).
		Model(&CacheEntry{}).
		Where("question_hash = ?", questionHash).
		UpdateColumn("hit_count", gorm.Expr("hit_count + 1")).Error; err != nil {
		c.logger.Warn("更新缓存命中计数失败", zap.Error(err))
	}

	return &entry, nil
}

// Put 写入缓存，同键整条替换并重置命中计数与有效性
func (c *ResponseCache) Put(ctx context.Context, question, grade, subject, answer, language string, sources datatypes.JSON) error {
	now := time.Now().UTC()
	entry := CacheEntry{
		QuestionHash: HashQuestion(question, grade, subject),
		Question:     question,
		Grade:        grade,
		Subject:      subject,
		Answer:       answer,
		Sources:      sources,
		Language:     language,
		HitCount:     0,
		IsValid:      true,
		ExpiresAt:    now.Add(c.ttl),
	}

	err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "question_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"question", "grade", "subject", "answer", "sources",
				"language", "hit_count", "is_valid", "expires_at", "updated_at",
			}),
		}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("写入缓存失败: %w", err)
	}
	return nil
}

// Invalidate 将缓存标记为失效，记录保留
// 返回是否确实存在并被翻转
func (c *ResponseCache) Invalidate(ctx context.Context, questionHash string) (bool, error) {
	result := c.db.WithContext(ctx).
		Model(&CacheEntry{}).
		Where("question_hash = ?", questionHash).
		Update("is_valid", false)
	if result.Error != nil {
		return false, fmt.Errorf("失效缓存失败: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Sweep 清理已过期记录，返回删除数量
// 由后台周期任务调用
func (c *ResponseCache) Sweep(ctx context.Context) (int64, error) {
	result := c.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now().UTC()).
		Delete(&CacheEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("清理过期缓存失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CacheStats 缓存统计
type CacheStats struct {
	TotalEntries int64 `json:"total_entries"`
	ValidEntries int64 `json:"valid_entries"`
	TotalHits    int64 `json:"total_hits"`
}

// Stats 统计缓存规模与命中总数
func (c *ResponseCache) Stats(ctx context.Context) (*CacheStats, error) {
	var stats CacheStats
	db := c.db.WithContext(ctx).Model(&CacheEntry{})

	if err := db.Count(&stats.TotalEntries).Error; err != nil {
		return nil, err
	}
	if err := c.db.WithContext(ctx).Model(&CacheEntry{}).
		Where("is_valid = ? AND expires_at > ?", true, time.Now().UTC()).
		Count(&stats.ValidEntries).Error; err != nil {
		return nil, err
	}

	var totalHits *int64
	if err := c.db.WithContext(ctx).Model(&CacheEntry{}).
		Select("SUM(hit_count)").Scan(&totalHits).Error; err != nil {
		return nil, err
	}
	if totalHits != nil {
		stats.TotalHits = *totalHits
	}
	return &stats, nil
}
