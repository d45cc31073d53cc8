package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/s4jith/ncert-working/internal/embedding"
	"github.com/s4jith/ncert-working/internal/metrics"
	"github.com/s4jith/ncert-working/internal/vectordb"

	"go.uber.org/zap"
)

// 检索默认参数
const (
	DefaultTopK       = 5
	defaultFanoutTopK = 3 // 广播检索时每个命名空间取的条数
)

// DefaultFanoutNamespaces 未指定学科时广播检索的命名空间
// 空串为默认命名空间
var DefaultFanoutNamespaces = []string{
	"", "mathematics", "science", "physics", "chemistry", "biology", "english", "social_science",
}

// NamespaceFor 学科名到命名空间的归一化
// 小写，空格与连字符替换为下划线，空学科归入 general
func NamespaceFor(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "general"
	}
	ns := strings.ToLower(subject)
	ns = strings.ReplaceAll(ns, " ", "_")
	ns = strings.ReplaceAll(ns, "-", "_")
	return ns
}

// NormalizeClass 年级归一化，"Class 10"/"class 10"/"10" 都归为 "10"
func NormalizeClass(class string) string {
	normalized := strings.ToLower(class)
	normalized = strings.ReplaceAll(normalized, "class", "")
	return strings.TrimSpace(normalized)
}

// VectorID 片段的确定性索引主键，重新入库同一文件时覆盖旧向量
func VectorID(sourceFile, classNum, chapter string, chunkIndex int) string {
	id := fmt.Sprintf("%s_%s_%s_%d", sourceFile, classNum, chapter, chunkIndex)
	return strings.ReplaceAll(id, " ", "_")
}

// Retrieved 检索命中的教材片段
type Retrieved struct {
	ID         string  `json:"id"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
	ClassNum   string  `json:"class_num"`
	Subject    string  `json:"subject"`
	Chapter    string  `json:"chapter"`
	SourceFile string  `json:"source_file"`
	Page       int     `json:"page"`
}

// SearchOptions 检索条件
type SearchOptions struct {
	Grade   string // 年级过滤，可为空
	Subject string // 学科，决定命名空间；为空时广播检索
	Chapter string // 章节过滤，可为空
	TopK    int
}

// Retriever 教材片段检索器
type Retriever struct {
	index    vectordb.Index
	embedder embedding.Provider
	logger   *zap.Logger

	topK       int
	fanoutList []string
}

// NewRetriever 创建检索器
func NewRetriever(index vectordb.Index, embedder embedding.Provider, topK int, fanoutNamespaces []string, logger *zap.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if len(fanoutNamespaces) == 0 {
		fanoutNamespaces = DefaultFanoutNamespaces
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		index:      index,
		embedder:   embedder,
		logger:     logger,
		topK:       topK,
		fanoutList: fanoutNamespaces,
	}
}

// buildFilter 构造元数据过滤条件
// 年级同时匹配归一化值与 "Class N" 两种入库写法
func buildFilter(grade, chapter string) vectordb.Filter {
	filter := vectordb.Filter{}

	if grade != "" {
		norm := NormalizeClass(grade)
		filter["class_num"] = vectordb.In(norm, "Class "+norm)
	}
	if chapter != "" {
		filter["chapter"] = vectordb.Eq(chapter)
	}

	if len(filter) == 0 {
		return nil
	}
	return filter
}

// Search 检索与问题相关的教材片段
// 指定学科时查询对应命名空间；否则并发广播到固定命名空间列表，
// 单个命名空间失败只跳过，合并后按相关度排序截取 TopK
func (r *Retriever) Search(ctx context.Context, query string, opts SearchOptions) ([]Retrieved, error) {
	start := time.Now()
	defer func() {
		metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	}()

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("问题向量化失败: %w", err)
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = r.topK
	}
	filter := buildFilter(opts.Grade, opts.Chapter)

	if strings.TrimSpace(opts.Subject) != "" {
		matches, err := r.index.Query(ctx, NamespaceFor(opts.Subject), vector, topK, filter)
		if err != nil {
			return nil, err
		}
		return toRetrieved(matches), nil
	}

	// 并发广播检索
	type nsResult struct {
		namespace string
		matches   []vectordb.Match
		err       error
	}

	var wg sync.WaitGroup
	resultsChan := make(chan nsResult, len(r.fanoutList))

	for _, ns := range r.fanoutList {
		wg.Add(1)
		go func(namespace string) {
			defer wg.Done()
			matches, err := r.index.Query(ctx, namespace, vector, defaultFanoutTopK, filter)
			resultsChan <- nsResult{namespace: namespace, matches: matches, err: err}
		}(ns)
	}

	wg.Wait()
	close(resultsChan)

	var all []vectordb.Match
	for res := range resultsChan {
		if res.err != nil {
			// 命名空间可能不存在或暂不可用，静默跳过
			r.logger.Debug("命名空间检索失败",
				zap.String("namespace", res.namespace),
				zap.Error(res.err),
			)
			continue
		}
		all = append(all, res.matches...)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].Score > all[j].Score
	})
	if len(all) > topK {
		all = all[:topK]
	}

	return toRetrieved(all), nil
}

// ChunkInput 待入库的片段
type ChunkInput struct {
	Text string
	Page int
}

// UpsertChunks 将一章教材的片段批量写入索引
// 向量 ID 由来源文件/年级/章节/序号确定，重复入库覆盖旧记录
func (r *Retriever) UpsertChunks(ctx context.Context, chunks []ChunkInput, classNum, subject, chapter, sourceFile string) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	embeddings, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("片段向量化失败: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("向量数量不匹配: 期望 %d 实际 %d", len(chunks), len(embeddings))
	}

	vectors := make([]vectordb.Vector, 0, len(chunks))
	for i, chunk := range chunks {
		text := chunk.Text
		if len(text) > 8000 {
			// 元数据字段有大小上限，正文截断存储
			text = text[:8000]
		}

		vectors = append(vectors, vectordb.Vector{
			ID:     VectorID(sourceFile, classNum, chapter, i),
			Values: embeddings[i],
			Metadata: map[string]any{
				"text":        text,
				"class_num":   classNum,
				"subject":     subject,
				"chapter":     chapter,
				"source_file": sourceFile,
				"page":        chunk.Page,
				"chunk_index": i,
				"token_count": CountTokens(chunk.Text),
			},
		})
	}

	namespace := NamespaceFor(subject)
	if err := r.index.Upsert(ctx, namespace, vectors); err != nil {
		return 0, fmt.Errorf("写入向量索引失败: %w", err)
	}

	r.logger.Info("片段写入索引完成",
		zap.String("namespace", namespace),
		zap.String("source_file", sourceFile),
		zap.Int("count", len(vectors)),
	)
	return len(vectors), nil
}

// DeleteSource 删除某来源文件的全部向量
// 已知学科时只清理对应命名空间，否则遍历广播列表逐个清理
func (r *Retriever) DeleteSource(ctx context.Context, sourceFile, subject string) error {
	filter := vectordb.Filter{"source_file": vectordb.Eq(sourceFile)}

	if strings.TrimSpace(subject) != "" {
		return r.index.DeleteByFilter(ctx, NamespaceFor(subject), filter)
	}

	for _, ns := range r.fanoutList {
		if err := r.index.DeleteByFilter(ctx, ns, filter); err != nil {
			r.logger.Warn("清理命名空间向量失败",
				zap.String("namespace", ns),
				zap.String("source_file", sourceFile),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Stats 索引统计透传
func (r *Retriever) Stats(ctx context.Context) (*vectordb.IndexStats, error) {
	return r.index.DescribeStats(ctx)
}

func toRetrieved(matches []vectordb.Match) []Retrieved {
	results := make([]Retrieved, 0, len(matches))
	for _, m := range matches {
		results = append(results, Retrieved{
			ID:         m.ID,
			Score:      m.Score,
			Text:       metaString(m.Metadata, "text"),
			ClassNum:   metaString(m.Metadata, "class_num"),
			Subject:    metaString(m.Metadata, "subject"),
			Chapter:    metaString(m.Metadata, "chapter"),
			SourceFile: metaString(m.Metadata, "source_file"),
			Page:       metaInt(m.Metadata, "page"),
		})
	}
	return results
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func metaInt(meta map[string]any, key string) int {
	if meta == nil {
		return 0
	}
	switch n := meta[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	default:
		return 0
	}
}
