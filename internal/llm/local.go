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

const defaultLocalBaseURL = "http://127.0.0.1:1234/v1"

// LocalProvider 本地 OpenAI 兼容后端（LM Studio、Ollama 网关等），无需鉴权
type LocalProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewLocalProvider 创建本地后端
func NewLocalProvider(cfg config.LocalConfig, timeout time.Duration) *LocalProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultLocalBaseURL
	}
	if timeout <= 0 {
		// 本地推理普遍偏慢，放宽超时
		timeout = 120 * time.Second
	}
	return &LocalProvider{
		baseURL:    baseURL,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Get(),
	}
}

func (p *LocalProvider) Name() string {
	return "local"
}

type localChatRequest struct {
	Model       string             `json:"model,omitempty"`
	Messages    []localChatMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream,omitempty"`
}

type localChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type localChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (p *LocalProvider) buildRequest(prompt string, stream bool) localChatRequest {
	return localChatRequest{
		Model: p.model,
		Messages: []localChatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   2000,
		Stream:      stream,
	}
}

// Generate 生成回答。本地服务未启动时直接报错，不做重试
func (p *LocalProvider) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	defer func() {
		metrics.ProviderCallDuration.WithLabelValues("local").Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(p.buildRequest(prompt, false))
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues("local", "error").Inc()
		if isTimeoutErr(err) {
			return MsgTimeout, nil
		}
		return "", &ProviderError{
			Provider: "local",
			Type:     ErrorTypeNetwork,
			Message:  "本地推理服务未启动，请先启动 LM Studio 或 Ollama",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues("local", "error").Inc()
		return "", &ProviderError{Provider: "local", Type: ErrorTypeNetwork, Message: "读取响应失败", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		metrics.ProviderCallsTotal.WithLabelValues("local", "error").Inc()
		return "", &ProviderError{
			Provider: "local",
			Type:     classifyStatus(resp.StatusCode),
			Message:  fmt.Sprintf("状态码 %d: %s", resp.StatusCode, truncateBody(respBody)),
		}
	}

	var result localChatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		metrics.ProviderCallsTotal.WithLabelValues("local", "error").Inc()
		return "", fmt.Errorf("解析响应失败: %w", err)
	}
	if len(result.Choices) == 0 {
		metrics.ProviderCallsTotal.WithLabelValues("local", "fallback").Inc()
		return MsgEmptyResponse, nil
	}
	metrics.ProviderCallsTotal.WithLabelValues("local", "success").Inc()
	return result.Choices[0].Message.Content, nil
}

// GenerateStream 流式生成，兼容 OpenAI SSE 格式
func (p *LocalProvider) GenerateStream(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	chunkChan := make(chan string, 10)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		body, err := json.Marshal(p.buildRequest(prompt, true))
		if err != nil {
			errChan <- fmt.Errorf("序列化请求失败: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			errChan <- fmt.Errorf("构造请求失败: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			errChan <- &ProviderError{
				Provider: "local",
				Type:     ErrorTypeNetwork,
				Message:  "本地推理服务未启动，请先启动 LM Studio 或 Ollama",
				Err:      err,
			}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			errChan <- &ProviderError{
				Provider: "local",
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
			var chunk localChatResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case chunkChan <- chunk.Choices[0].Delta.Content:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errChan <- &ProviderError{Provider: "local", Type: ErrorTypeNetwork, Message: "读取流失败", Err: err}
		}
	}()

	return chunkChan, errChan
}
