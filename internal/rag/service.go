package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/s4jith/ncert-working/internal/metrics"
	"github.com/s4jith/ncert-working/internal/vectordb"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultRerankTopK 进入上下文的片段数
const DefaultRerankTopK = 3

// DefaultMinRelevanceScore 片段进入回答的相关度下限
const DefaultMinRelevanceScore = 0.7

// ErrRetrievalUnavailable 检索基础设施不可用
// 调用方可降级为不带教材上下文的直答
var ErrRetrievalUnavailable = errors.New("检索服务不可用")

// Source 回答引用的教材来源
type Source struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Class     string `json:"class"`
	Subject   string `json:"subject"`
	Chapter   string `json:"chapter"`
	Page      int    `json:"page,omitempty"`
	Relevance string `json:"relevance"`
}

// SourceTypeTextbook 教材来源类型
const SourceTypeTextbook = "ncert_textbook"

// QueryRequest 一次学生提问
type QueryRequest struct {
	Question string
	Grade    string // 年级，可为空
	Subject  string // 学科，可为空
	Chapter  string // 章节，可为空
	UserID   string // 用于对话上下文
	UseCache bool
}

// QueryResult 问答流水线的产出
// 命中缓存或超纲时 Answer 已就绪；否则 Prompt 交由大模型生成
type QueryResult struct {
	Answer       string
	Prompt       string
	Context      string
	Sources      []Source
	Language     string
	InScope      bool
	Cached       bool
	QuestionHash string
}

// ServiceOptions 流水线参数
type ServiceOptions struct {
	MinRelevanceScore float64
	RerankTopK        int
	HistoryLimit      int
	CacheMinSources   int
}

// Service 问答流水线
// 缓存 → 语种识别 → 检索 → 相关度过滤 → 上下文与提示词组装
type Service struct {
	db        *gorm.DB
	cache     *ResponseCache
	retriever *Retriever
	logger    *zap.Logger

	minScore        float64
	rerankTopK      int
	historyLimit    int
	cacheMinSources int
}

// NewService 创建问答流水线
func NewService(db *gorm.DB, cache *ResponseCache, retriever *Retriever, opts ServiceOptions, logger *zap.Logger) *Service {
	if opts.MinRelevanceScore <= 0 {
		opts.MinRelevanceScore = DefaultMinRelevanceScore
	}
	if opts.RerankTopK <= 0 {
		opts.RerankTopK = DefaultRerankTopK
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 5
	}
	if opts.CacheMinSources <= 0 {
		opts.CacheMinSources = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		db:              db,
		cache:           cache,
		retriever:       retriever,
		logger:          logger,
		minScore:        opts.MinRelevanceScore,
		rerankTopK:      opts.RerankTopK,
		historyLimit:    opts.HistoryLimit,
		cacheMinSources: opts.CacheMinSources,
	}
}

// ProcessQuery 执行问答流水线
// 检索服务不可用时返回 ErrRetrievalUnavailable，由调用方降级
func (s *Service) ProcessQuery(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	start := time.Now()
	questionHash := HashQuestion(req.Question, req.Grade, req.Subject)

	// 1. 查缓存
	if req.UseCache {
		if entry, err := s.cache.Get(ctx, questionHash); err == nil {
			metrics.CacheHits.Inc()
			s.logger.Info("缓存命中", zap.String("question_hash", questionHash))

			var sources []Source
			if len(entry.Sources) > 0 {
				_ = json.Unmarshal(entry.Sources, &sources)
			}
			return &QueryResult{
				Answer:       entry.Answer,
				Sources:      sources,
				Language:     entry.Language,
				InScope:      true,
				Cached:       true,
				QuestionHash: questionHash,
			}, nil
		}
		metrics.CacheMisses.Inc()
	}

	// 2. 语种识别
	language := DetectLanguage(req.Question)

	// 3. 检索教材片段
	results, err := s.retriever.Search(ctx, req.Question, SearchOptions{
		Grade:   req.Grade,
		Subject: req.Subject,
		Chapter: req.Chapter,
	})
	if err != nil {
		if errors.Is(err, vectordb.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
		}
		return nil, err
	}

	// 4. 相关度过滤
	relevant := results[:0:0]
	for _, r := range results {
		if r.Score >= s.minScore {
			relevant = append(relevant, r)
		}
	}

	// 5. 无相关内容时按语种返回超纲回复，不写缓存
	if len(relevant) == 0 {
		metrics.OutOfScopeQueries.Inc()
		return &QueryResult{
			Answer:       OutOfScopeResponse(language),
			Language:     language,
			InScope:      false,
			QuestionHash: questionHash,
		}, nil
	}

	// 6. 组装引用来源
	sources := formatSources(relevant)

	// 7. 组装教材上下文
	contextText := s.buildContext(relevant)

	// 8. 拉取对话历史
	history := ""
	if req.UserID != "" {
		history = s.conversationContext(ctx, req.UserID)
	}

	// 9. 组装提示词
	prompt := BuildPrompt(req.Question, contextText, history)

	s.logger.Info("检索流水线完成",
		zap.Int("relevant_docs", len(relevant)),
		zap.String("language", language),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &QueryResult{
		Prompt:       prompt,
		Context:      contextText,
		Sources:      sources,
		Language:     language,
		InScope:      true,
		QuestionHash: questionHash,
	}, nil
}

// CacheAnswer 按写入门槛缓存有依据的回答
// 来源数不足（无教材依据）的回答不写缓存
func (s *Service) CacheAnswer(ctx context.Context, req QueryRequest, answer, language string, sources []Source) error {
	if len(sources) < s.cacheMinSources {
		return nil
	}

	raw, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("序列化来源失败: %w", err)
	}
	return s.cache.Put(ctx, req.Question, req.Grade, req.Subject, answer, language, raw)
}

// InvalidateAnswer 按哈希标记缓存失效，并留存举报记录
func (s *Service) InvalidateAnswer(ctx context.Context, userID, question, grade, subject, reason string) (bool, error) {
	questionHash := HashQuestion(question, grade, subject)

	report := AnswerReport{
		UserID:       userID,
		QuestionHash: questionHash,
		Question:     question,
		Reason:       reason,
	}
	if err := s.db.WithContext(ctx).Create(&report).Error; err != nil {
		return false, fmt.Errorf("保存举报记录失败: %w", err)
	}

	return s.cache.Invalidate(ctx, questionHash)
}

// SaveExchange 保存一轮问答到历史
func (s *Service) SaveExchange(ctx context.Context, msg *ChatMessage) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("保存对话记录失败: %w", err)
	}
	return nil
}

// History 分页查询用户问答历史，按时间倒序
func (s *Service) History(ctx context.Context, userID string, limit, offset int) ([]ChatMessage, int64, error) {
	if limit <= 0 {
		limit = 20
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&ChatMessage{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var messages []ChatMessage
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// conversationContext 取最近若干轮问答并转为时间正序的对话文本
func (s *Service) conversationContext(ctx context.Context, userID string) string {
	var messages []ChatMessage
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(s.historyLimit).
		Find(&messages).Error
	if err != nil || len(messages) == 0 {
		return ""
	}

	// 倒序查询结果转回时间正序
	lines := make([]string, 0, len(messages)*2)
	for i := len(messages) - 1; i >= 0; i-- {
		lines = append(lines,
			"User: "+truncate(messages[i].Question, 500),
			"Assistant: "+truncate(messages[i].Answer, 500),
		)
	}
	return strings.Join(lines, "\n")
}

// formatSources 将检索命中转为引用来源
func formatSources(results []Retrieved) []Source {
	sources := make([]Source, 0, len(results))
	for _, r := range results {
		subject := r.Subject
		if subject == "" {
			subject = "Unknown"
		}
		chapter := r.Chapter
		if chapter == "" {
			chapter = "Unknown"
		}
		classNum := r.ClassNum
		if classNum == "" {
			classNum = "Unknown"
		}

		sources = append(sources, Source{
			Type:      SourceTypeTextbook,
			Name:      fmt.Sprintf("%s - %s", subject, chapter),
			Class:     "Class " + classNum,
			Subject:   r.Subject,
			Chapter:   r.Chapter,
			Page:      r.Page,
			Relevance: fmt.Sprintf("%d%%", int(r.Score*100)),
		})
	}
	return sources
}

// buildContext 将相关度最高的若干片段拼为带出处标注的上下文
func (s *Service) buildContext(results []Retrieved) string {
	limit := s.rerankTopK
	if len(results) < limit {
		limit = len(results)
	}

	parts := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		r := results[i]
		header := fmt.Sprintf("[Source %d: Class %s, %s, %s]",
			i+1, orNA(r.ClassNum), orNA(r.Subject), orNA(r.Chapter))
		parts = append(parts, header+"\n"+r.Text)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
