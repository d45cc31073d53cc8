package chat

import "github.com/s4jith/ncert-working/internal/rag"

// AskRequest 学生提问请求体
type AskRequest struct {
	Question string `json:"question" binding:"required"`
	Grade    string `json:"grade"`
	Subject  string `json:"subject"`
	Chapter  string `json:"chapter"`
	UserID   string `json:"user_id"`
	Provider string `json:"provider"` // 可选，指定大模型后端
	UseCache *bool  `json:"use_cache"`
}

// AskResponse 问答结果
type AskResponse struct {
	Answer    string       `json:"answer"`
	Sources   []rag.Source `json:"sources"`
	Language  string       `json:"language"`
	Cached    bool         `json:"cached"`
	InScope   bool         `json:"in_scope"`
	Fallback  bool         `json:"fallback,omitempty"` // 检索不可用时的直答降级
	LatencyMS int64        `json:"latency_ms"`
}

// ReportRequest 答案报错请求体
type ReportRequest struct {
	Question string `json:"question" binding:"required"`
	Grade    string `json:"grade"`
	Subject  string `json:"subject"`
	Reason   string `json:"reason"`
	UserID   string `json:"user_id"`
}

// ReportResponse 报错处理结果
type ReportResponse struct {
	Invalidated bool `json:"invalidated"`
}

// 流式帧类型
const (
	frameSources = "sources"
	frameStart   = "start"
	frameChunk   = "chunk"
	frameEnd     = "end"
	frameError   = "error"
)

// streamFrame WebSocket 下发帧
type streamFrame struct {
	Type     string       `json:"type"`
	Content  string       `json:"content,omitempty"`
	Sources  []rag.Source `json:"sources,omitempty"`
	Language string       `json:"language,omitempty"`
	Cached   bool         `json:"cached,omitempty"`
	Message  string       `json:"message,omitempty"`
}
