package vectordb

import (
	"context"
	"errors"
)

// ErrUnavailable 索引服务不可用（网络或服务端故障）
// 调用方捕获后按降级策略处理，不应直接透传给用户
var ErrUnavailable = errors.New("向量索引服务不可用")

// Vector 待写入索引的向量记录
type Vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Match 检索命中结果
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Filter 元数据过滤条件，使用 $eq / $in 算子
// 例: {"class_num": {"$in": ["10", "Class 10"]}, "chapter": {"$eq": "Light"}}
type Filter map[string]any

// Eq 构造等值条件
func Eq(value any) map[string]any {
	return map[string]any{"$eq": value}
}

// In 构造集合条件
func In(values ...any) map[string]any {
	return map[string]any{"$in": values}
}

// NamespaceStats 单个命名空间的统计信息
type NamespaceStats struct {
	VectorCount int64 `json:"vector_count"`
}

// IndexStats 索引整体统计信息
type IndexStats struct {
	Dimension        int                       `json:"dimension"`
	TotalVectorCount int64                     `json:"total_vector_count"`
	Namespaces       map[string]NamespaceStats `json:"namespaces"`
}

// Index 向量索引抽象，按命名空间分区
// 实现: PineconeIndex(托管服务), PgvectorIndex(自托管)
type Index interface {
	// Query 在指定命名空间内检索 topK 条最相似向量
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error)

	// Upsert 批量写入向量，内部按 100 条分批
	Upsert(ctx context.Context, namespace string, vectors []Vector) error

	// DeleteByFilter 按过滤条件删除命名空间内的向量
	DeleteByFilter(ctx context.Context, namespace string, filter Filter) error

	// DescribeStats 查询索引整体与各命名空间的向量数量
	DescribeStats(ctx context.Context) (*IndexStats, error)
}

// upsertBatchSize 单次写入批大小
const upsertBatchSize = 100
