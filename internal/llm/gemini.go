package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/s4jith/ncert-working/internal/config"
	"github.com/s4jith/ncert-working/internal/logger"
	"github.com/s4jith/ncert-working/internal/metrics"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.5-flash"
)

// GeminiProvider Google Gemini 后端，直连 REST API
type GeminiProvider struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGeminiProvider 创建 Gemini 后端
func NewGeminiProvider(cfg config.GeminiConfig, maxRetries int, retryDelay, timeout time.Duration) *GeminiProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GeminiProvider{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Get(),
	}
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (p *GeminiProvider) buildRequest(prompt string) geminiRequest {
	return geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: geminiGenConfig{
			Temperature:     0.7,
			MaxOutputTokens: 2000,
		},
	}
}

// Generate 生成回答。限流和超时先重试，重试耗尽后返回降级文案
func (p *GeminiProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if p.apiKey == "" {
		return MsgNotConfigured("GEMINI_API_KEY"), nil
	}

	start := time.Now()
	defer func() {
		metrics.ProviderCallDuration.WithLabelValues("gemini").Observe(time.Since(start).Seconds())
	}()

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, p.model, p.apiKey)
	body, err := json.Marshal(p.buildRequest(prompt))
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	delay := p.retryDelay
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("构造请求失败: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			if isTimeoutErr(err) {
				metrics.ProviderRetriesTotal.WithLabelValues("gemini", "timeout").Inc()
				p.logger.Warn("Gemini 请求超时", zap.Int("attempt", attempt+1))
				if attempt < p.maxRetries-1 {
					continue
				}
				metrics.ProviderCallsTotal.WithLabelValues("gemini", "fallback").Inc()
				return MsgTimeout, nil
			}
			metrics.ProviderRetriesTotal.WithLabelValues("gemini", "network").Inc()
			if attempt < p.maxRetries-1 {
				time.Sleep(delay)
				delay *= 2
				continue
			}
			metrics.ProviderCallsTotal.WithLabelValues("gemini", "error").Inc()
			return "", &ProviderError{Provider: "gemini", Type: ErrorTypeNetwork, Message: "请求失败", Err: err}
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			metrics.ProviderCallsTotal.WithLabelValues("gemini", "error").Inc()
			return "", &ProviderError{Provider: "gemini", Type: ErrorTypeNetwork, Message: "读取响应失败", Err: readErr}
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			text, parseErr := parseGeminiResponse(respBody)
			if parseErr != nil {
				metrics.ProviderCallsTotal.WithLabelValues("gemini", "error").Inc()
				return "", parseErr
			}
			metrics.ProviderCallsTotal.WithLabelValues("gemini", "success").Inc()
			return text, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			metrics.ProviderRetriesTotal.WithLabelValues("gemini", "rate_limit").Inc()
			p.logger.Warn("Gemini 触发限流", zap.Int("attempt", attempt+1))
			if attempt < p.maxRetries-1 {
				time.Sleep(delay)
				delay *= 2
				continue
			}
			metrics.ProviderCallsTotal.WithLabelValues("gemini", "fallback").Inc()
			return MsgHighDemand, nil
		case resp.StatusCode == http.StatusBadRequest:
			// 请求不合法不重试，直接引导换问法
			p.logger.Warn("Gemini 拒绝请求", zap.ByteString("body", respBody))
			metrics.ProviderCallsTotal.WithLabelValues("gemini", "fallback").Inc()
			return MsgRephrase, nil
		default:
			metrics.ProviderRetriesTotal.WithLabelValues("gemini", "server").Inc()
			p.logger.Warn("Gemini 服务端错误",
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1))
			if attempt < p.maxRetries-1 {
				time.Sleep(delay)
				delay *= 2
				continue
			}
			metrics.ProviderCallsTotal.WithLabelValues("gemini", "error").Inc()
			return "", &ProviderError{
				Provider: "gemini",
				Type:     ErrorTypeServer,
				Message:  fmt.Sprintf("状态码 %d: %s", resp.StatusCode, truncateBody(respBody)),
			}
		}
	}

	metrics.ProviderCallsTotal.WithLabelValues("gemini", "fallback").Inc()
	return MsgExhausted, nil
}

// GenerateStream 流式生成，走 SSE 接口
func (p *GeminiProvider) GenerateStream(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	chunkChan := make(chan string, 10)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		if p.apiKey == "" {
			chunkChan <- MsgNotConfigured("GEMINI_API_KEY")
			return
		}

		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", p.baseURL, p.model, p.apiKey)
		body, err := json.Marshal(p.buildRequest(prompt))
		if err != nil {
			errChan <- fmt.Errorf("序列化请求失败: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			errChan <- fmt.Errorf("构造请求失败: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			errChan <- &ProviderError{Provider: "gemini", Type: ErrorTypeNetwork, Message: "流式请求失败", Err: err}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			errChan <- &ProviderError{
				Provider: "gemini",
				Type:     classifyStatus(resp.StatusCode),
				Message:  fmt.Sprintf("状态码 %d: %s", resp.StatusCode, truncateBody(respBody)),
			}
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				break
			}
			var chunk geminiResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			for _, c := range chunk.Candidates {
				for _, part := range c.Content.Parts {
					if part.Text == "" {
						continue
					}
					select {
					case chunkChan <- part.Text:
					case <-ctx.Done():
						errChan <- ctx.Err()
						return
					}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			errChan <- &ProviderError{Provider: "gemini", Type: ErrorTypeNetwork, Message: "读取流失败", Err: err}
		}
	}()

	return chunkChan, errChan
}

func parseGeminiResponse(body []byte) (string, error) {
	var result geminiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("解析响应失败: %w", err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return MsgEmptyResponse, nil
	}
	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return MsgEmptyResponse, nil
	}
	return text, nil
}

func classifyStatus(status int) ErrorType {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorTypeAuth
	case status >= 500:
		return ErrorTypeServer
	case status >= 400:
		return ErrorTypeInvalidRequest
	default:
		return ErrorTypeUnknown
	}
}

func truncateBody(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}
