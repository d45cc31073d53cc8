package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/s4jith/ncert-working/api/handlers/common"
	"github.com/s4jith/ncert-working/internal/llm"
	"github.com/s4jith/ncert-working/internal/metrics"
	"github.com/s4jith/ncert-working/internal/rag"
)

// Handler 问答接口
type Handler struct {
	ragService *rag.Service
	providers  *llm.Factory
	logger     *zap.Logger
}

// NewHandler 创建问答接口
func NewHandler(ragService *rag.Service, providers *llm.Factory, logger *zap.Logger) *Handler {
	return &Handler{
		ragService: ragService,
		providers:  providers,
		logger:     logger,
	}
}

// Ask 学生提问
// POST /api/v1/chat/ask
func (h *Handler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "question is required")
		return
	}

	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}

	start := time.Now()
	query := rag.QueryRequest{
		Question: req.Question,
		Grade:    req.Grade,
		Subject:  req.Subject,
		Chapter:  req.Chapter,
		UserID:   req.UserID,
		UseCache: useCache,
	}

	result, err := h.ragService.ProcessQuery(c.Request.Context(), query)
	if errors.Is(err, rag.ErrRetrievalUnavailable) {
		h.answerDirect(c, req, start)
		return
	}
	if err != nil {
		h.logger.Error("问答流水线失败", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "failed to process question")
		return
	}

	answer := result.Answer
	if answer == "" {
		// 未命中缓存也在纲内，交给大模型生成
		provider, perr := h.providers.Get(req.Provider)
		if perr != nil {
			common.Fail(c, http.StatusBadRequest, perr.Error())
			return
		}
		answer, perr = provider.Generate(c.Request.Context(), result.Prompt)
		if perr != nil {
			h.logger.Error("生成回答失败", zap.Error(perr))
			common.Fail(c, http.StatusBadGateway, "AI service is unavailable right now")
			return
		}
		if cerr := h.ragService.CacheAnswer(c.Request.Context(), query, answer, result.Language, result.Sources); cerr != nil {
			h.logger.Warn("写入缓存失败", zap.Error(cerr))
		}
	}

	latency := time.Since(start).Milliseconds()
	h.saveExchange(c, req, answer, result, latency)

	metrics.QueriesTotal.WithLabelValues(result.Language, strconv.FormatBool(result.Cached)).Inc()
	common.OK(c, AskResponse{
		Answer:    answer,
		Sources:   result.Sources,
		Language:  result.Language,
		Cached:    result.Cached,
		InScope:   result.InScope,
		LatencyMS: latency,
	})
}

// answerDirect 检索不可用时跳过教材上下文直接回答
func (h *Handler) answerDirect(c *gin.Context, req AskRequest, start time.Time) {
	h.logger.Warn("检索不可用，降级为直答", zap.String("question", req.Question))

	provider, err := h.providers.Get(req.Provider)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, err.Error())
		return
	}
	answer, err := provider.Generate(c.Request.Context(), rag.BuildDirectPrompt(req.Question))
	if err != nil {
		h.logger.Error("直答降级也失败", zap.Error(err))
		common.Fail(c, http.StatusServiceUnavailable, "service is temporarily unavailable")
		return
	}

	language := rag.DetectLanguage(req.Question)
	latency := time.Since(start).Milliseconds()
	if req.UserID != "" {
		msg := &rag.ChatMessage{
			UserID:    req.UserID,
			Question:  req.Question,
			Answer:    answer,
			Grade:     req.Grade,
			Subject:   req.Subject,
			Language:  language,
			LatencyMS: latency,
		}
		if err := h.ragService.SaveExchange(c.Request.Context(), msg); err != nil {
			h.logger.Warn("保存对话失败", zap.Error(err))
		}
	}

	metrics.QueriesTotal.WithLabelValues(language, "false").Inc()
	common.OK(c, AskResponse{
		Answer:    answer,
		Sources:   []rag.Source{},
		Language:  language,
		InScope:   true,
		Fallback:  true,
		LatencyMS: latency,
	})
}

func (h *Handler) saveExchange(c *gin.Context, req AskRequest, answer string, result *rag.QueryResult, latency int64) {
	if req.UserID == "" {
		return
	}
	sources, err := json.Marshal(result.Sources)
	if err != nil {
		sources = []byte("[]")
	}
	msg := &rag.ChatMessage{
		UserID:    req.UserID,
		Question:  req.Question,
		Answer:    answer,
		Sources:   datatypes.JSON(sources),
		Grade:     req.Grade,
		Subject:   req.Subject,
		Language:  result.Language,
		Cached:    result.Cached,
		LatencyMS: latency,
	}
	if err := h.ragService.SaveExchange(c.Request.Context(), msg); err != nil {
		h.logger.Warn("保存对话失败", zap.Error(err))
	}
}

// History 查询对话历史
// GET /api/v1/chat/history/:user_id
func (h *Handler) History(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		common.Fail(c, http.StatusBadRequest, "user_id is required")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	messages, total, err := h.ragService.History(c.Request.Context(), userID, pageSize, (page-1)*pageSize)
	if err != nil {
		h.logger.Error("查询对话历史失败", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "failed to load history")
		return
	}

	common.OK(c, common.ListResponse{
		Items:      messages,
		Pagination: common.NewPaginationMeta(page, pageSize, total),
	})
}

// Report 举报错误答案，命中的缓存条目会被失效
// POST /api/v1/chat/report
func (h *Handler) Report(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "question is required")
		return
	}

	invalidated, err := h.ragService.InvalidateAnswer(c.Request.Context(),
		req.UserID, req.Question, req.Grade, req.Subject, req.Reason)
	if err != nil {
		h.logger.Error("处理答案报错失败", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "failed to record report")
		return
	}

	common.OKWithMessage(c, "report recorded", ReportResponse{Invalidated: invalidated})
}
