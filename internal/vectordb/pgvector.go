package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TextbookVector pgvector 后端的向量记录表
type TextbookVector struct {
	ID        string          `gorm:"primaryKey;type:varchar(256)"`
	Namespace string          `gorm:"index:idx_textbook_vectors_ns;type:varchar(128)"`
	Embedding pgvector.Vector `gorm:"type:vector(768)"`
	Metadata  datatypes.JSON  `gorm:"type:jsonb"`
	CreatedAt time.Time
}

// TableName 指定表名
func (TextbookVector) TableName() string {
	return "textbook_vectors"
}

// PgvectorIndex 基于 PostgreSQL pgvector 扩展的索引实现
// 与 PineconeIndex 暴露同一抽象，自托管部署时使用
type PgvectorIndex struct {
	db *gorm.DB
}

// NewPgvectorIndex 创建 pgvector 索引实例
func NewPgvectorIndex(db *gorm.DB) (*PgvectorIndex, error) {
	// 确保 pgvector 扩展已启用
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("启用 pgvector 扩展失败: %w", err)
	}

	if err := db.AutoMigrate(&TextbookVector{}); err != nil {
		return nil, fmt.Errorf("迁移向量表失败: %w", err)
	}

	return &PgvectorIndex{db: db}, nil
}

// Query 余弦相似度检索
// 1 - (embedding <=> query) 即余弦相似度，<=> 为 pgvector 的余弦距离算子
func (s *PgvectorIndex) Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("查询向量不能为空")
	}
	if topK <= 0 {
		topK = 5
	}

	where := []string{"namespace = ?"}
	args := []any{namespace}

	filterSQL, filterArgs, err := filterToSQL(filter)
	if err != nil {
		return nil, err
	}
	where = append(where, filterSQL...)
	args = append(args, filterArgs...)

	query := fmt.Sprintf(`
		SELECT id, metadata, 1 - (embedding <=> ?) AS score
		FROM textbook_vectors
		WHERE %s
		ORDER BY embedding <=> ?
		LIMIT ?
	`, strings.Join(where, " AND "))

	qv := pgvector.NewVector(vector)
	fullArgs := append([]any{qv}, args...)
	fullArgs = append(fullArgs, qv, topK)

	var rows []struct {
		ID       string         `gorm:"column:id"`
		Metadata datatypes.JSON `gorm:"column:metadata"`
		Score    float64        `gorm:"column:score"`
	}
	if err := s.db.WithContext(ctx).Raw(query, fullArgs...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	matches := make([]Match, 0, len(rows))
	for _, r := range rows {
		var meta map[string]any
		if len(r.Metadata) > 0 {
			_ = json.Unmarshal(r.Metadata, &meta)
		}
		matches = append(matches, Match{ID: r.ID, Score: r.Score, Metadata: meta})
	}
	return matches, nil
}

// Upsert 批量写入向量，冲突时整行替换
func (s *PgvectorIndex) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	for start := 0; start < len(vectors); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(vectors) {
			end = len(vectors)
		}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, vec := range vectors[start:end] {
				meta, err := json.Marshal(vec.Metadata)
				if err != nil {
					return fmt.Errorf("序列化元数据失败: %w", err)
				}

				row := &TextbookVector{
					ID:        vec.ID,
					Namespace: namespace,
					Embedding: pgvector.NewVector(vec.Values),
					Metadata:  datatypes.JSON(meta),
				}
				// 主键冲突时先删后插，等价于替换
				if err := tx.Where("id = ?", vec.ID).Delete(&TextbookVector{}).Error; err != nil {
					return err
				}
				if err := tx.Create(row).Error; err != nil {
					return fmt.Errorf("写入向量失败: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteByFilter 按元数据条件删除
func (s *PgvectorIndex) DeleteByFilter(ctx context.Context, namespace string, filter Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("删除条件不能为空")
	}

	filterSQL, args, err := filterToSQL(filter)
	if err != nil {
		return err
	}

	tx := s.db.WithContext(ctx).Where("namespace = ?", namespace)
	for i, cond := range filterSQL {
		tx = tx.Where(cond, args[i])
	}
	return tx.Delete(&TextbookVector{}).Error
}

// DescribeStats 查询整体与各命名空间向量数量
func (s *PgvectorIndex) DescribeStats(ctx context.Context) (*IndexStats, error) {
	var rows []struct {
		Namespace string `gorm:"column:namespace"`
		Count     int64  `gorm:"column:count"`
	}
	err := s.db.WithContext(ctx).
		Model(&TextbookVector{}).
		Select("namespace, COUNT(*) AS count").
		Group("namespace").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("查询索引统计失败: %w", err)
	}

	stats := &IndexStats{Namespaces: make(map[string]NamespaceStats, len(rows))}
	for _, r := range rows {
		stats.Namespaces[r.Namespace] = NamespaceStats{VectorCount: r.Count}
		stats.TotalVectorCount += r.Count
	}
	return stats, nil
}

// filterToSQL 将 $eq/$in 过滤条件翻译为 JSONB 查询片段
// 每个条件恰好消耗一个参数，便于与 gorm Where 链配合
func filterToSQL(filter Filter) ([]string, []any, error) {
	conds := make([]string, 0, len(filter))
	args := make([]any, 0, len(filter))

	for key, raw := range filter {
		ops, ok := raw.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("过滤条件 %s 的格式无效", key)
		}
		for op, value := range ops {
			switch op {
			case "$eq":
				conds = append(conds, fmt.Sprintf("metadata->>'%s' = ?", key))
				args = append(args, fmt.Sprint(value))
			case "$in":
				values, ok := value.([]any)
				if !ok {
					return nil, nil, fmt.Errorf("$in 条件 %s 需要数组", key)
				}
				strs := make([]string, 0, len(values))
				for _, v := range values {
					strs = append(strs, fmt.Sprint(v))
				}
				conds = append(conds, fmt.Sprintf("metadata->>'%s' IN ?", key))
				args = append(args, strs)
			default:
				return nil, nil, fmt.Errorf("不支持的过滤算子: %s", op)
			}
		}
	}
	return conds, args, nil
}
