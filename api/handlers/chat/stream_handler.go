package chat

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/s4jith/ncert-working/internal/llm"
	"github.com/s4jith/ncert-working/internal/metrics"
	"github.com/s4jith/ncert-working/internal/rag"
)

// StreamHandler 流式问答的 WebSocket 接口
type StreamHandler struct {
	ragService *rag.Service
	providers  *llm.Factory
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewStreamHandler 创建流式接口
func NewStreamHandler(ragService *rag.Service, providers *llm.Factory, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		ragService: ragService,
		providers:  providers,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 5 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// Stream 升级为 WebSocket，按连接处理问答
// 每个问题依次下发 sources、start、chunk*、end 帧
// GET /api/v1/chat/stream
func (h *StreamHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(8 * 1024)

	for {
		var req AskRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			_ = conn.WriteJSON(streamFrame{Type: frameError, Message: "question is required"})
			continue
		}
		h.handleQuestion(c.Request.Context(), conn, req)
	}
}

func (h *StreamHandler) handleQuestion(ctx context.Context, conn *websocket.Conn, req AskRequest) {
	start := time.Now()
	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}
	query := rag.QueryRequest{
		Question: req.Question,
		Grade:    req.Grade,
		Subject:  req.Subject,
		Chapter:  req.Chapter,
		UserID:   req.UserID,
		UseCache: useCache,
	}

	result, err := h.ragService.ProcessQuery(ctx, query)
	if errors.Is(err, rag.ErrRetrievalUnavailable) {
		h.streamDirect(ctx, conn, req, start)
		return
	}
	if err != nil {
		h.logger.Error("问答流水线失败", zap.Error(err))
		_ = conn.WriteJSON(streamFrame{Type: frameError, Message: "failed to process question"})
		return
	}

	_ = conn.WriteJSON(streamFrame{Type: frameSources, Sources: result.Sources})
	_ = conn.WriteJSON(streamFrame{Type: frameStart})

	// 缓存命中或超纲时答案已就绪，整体作为单个 chunk 下发
	if result.Answer != "" {
		_ = conn.WriteJSON(streamFrame{Type: frameChunk, Content: result.Answer})
		_ = conn.WriteJSON(streamFrame{Type: frameEnd, Language: result.Language, Cached: result.Cached})
		h.finishExchange(ctx, req, result.Answer, result, time.Since(start).Milliseconds())
		return
	}

	provider, err := h.providers.Get(req.Provider)
	if err != nil {
		_ = conn.WriteJSON(streamFrame{Type: frameError, Message: err.Error()})
		return
	}

	chunks, errs := provider.GenerateStream(ctx, result.Prompt)
	var sb strings.Builder
	for chunk := range chunks {
		sb.WriteString(chunk)
		if err := conn.WriteJSON(streamFrame{Type: frameChunk, Content: chunk}); err != nil {
			return
		}
	}
	if err := <-errs; err != nil {
		h.logger.Error("流式生成失败", zap.Error(err))
		_ = conn.WriteJSON(streamFrame{Type: frameError, Message: "generation was interrupted"})
		return
	}

	_ = conn.WriteJSON(streamFrame{Type: frameEnd, Language: result.Language, Cached: false})

	answer := sb.String()
	if cerr := h.ragService.CacheAnswer(ctx, query, answer, result.Language, result.Sources); cerr != nil {
		h.logger.Warn("写入缓存失败", zap.Error(cerr))
	}
	h.finishExchange(ctx, req, answer, result, time.Since(start).Milliseconds())
}

// streamDirect 检索不可用时的直答降级流
func (h *StreamHandler) streamDirect(ctx context.Context, conn *websocket.Conn, req AskRequest, start time.Time) {
	provider, err := h.providers.Get(req.Provider)
	if err != nil {
		_ = conn.WriteJSON(streamFrame{Type: frameError, Message: err.Error()})
		return
	}

	language := rag.DetectLanguage(req.Question)
	_ = conn.WriteJSON(streamFrame{Type: frameSources, Sources: []rag.Source{}})
	_ = conn.WriteJSON(streamFrame{Type: frameStart})

	chunks, errs := provider.GenerateStream(ctx, rag.BuildDirectPrompt(req.Question))
	var sb strings.Builder
	for chunk := range chunks {
		sb.WriteString(chunk)
		if err := conn.WriteJSON(streamFrame{Type: frameChunk, Content: chunk}); err != nil {
			return
		}
	}
	if err := <-errs; err != nil {
		h.logger.Error("直答降级流失败", zap.Error(err))
		_ = conn.WriteJSON(streamFrame{Type: frameError, Message: "generation was interrupted"})
		return
	}
	_ = conn.WriteJSON(streamFrame{Type: frameEnd, Language: language, Cached: false})

	if req.UserID != "" {
		msg := &rag.ChatMessage{
			UserID:    req.UserID,
			Question:  req.Question,
			Answer:    sb.String(),
			Grade:     req.Grade,
			Subject:   req.Subject,
			Language:  language,
			LatencyMS: time.Since(start).Milliseconds(),
		}
		if err := h.ragService.SaveExchange(ctx, msg); err != nil {
			h.logger.Warn("保存对话失败", zap.Error(err))
		}
	}
	metrics.QueriesTotal.WithLabelValues(language, "false").Inc()
}

func (h *StreamHandler) finishExchange(ctx context.Context, req AskRequest, answer string, result *rag.QueryResult, latency int64) {
	metrics.QueriesTotal.WithLabelValues(result.Language, strconv.FormatBool(result.Cached)).Inc()
	if req.UserID == "" {
		return
	}
	msg := &rag.ChatMessage{
		UserID:    req.UserID,
		Question:  req.Question,
		Answer:    answer,
		Grade:     req.Grade,
		Subject:   req.Subject,
		Language:  result.Language,
		Cached:    result.Cached,
		LatencyMS: latency,
	}
	if err := h.ragService.SaveExchange(ctx, msg); err != nil {
		h.logger.Warn("保存对话失败", zap.Error(err))
	}
}
