package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/s4jith/ncert-working/internal/config"
	"github.com/s4jith/ncert-working/internal/logger"
	"github.com/s4jith/ncert-working/internal/metrics"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider OpenAI 后端，基于官方兼容 SDK
type OpenAIProvider struct {
	client     *openai.Client
	apiKey     string
	model      string
	maxRetries int
	logger     *zap.Logger
}

// NewOpenAIProvider 创建 OpenAI 后端
func NewOpenAIProvider(cfg config.OpenAIConfig, maxRetries int, timeout time.Duration) *OpenAIProvider {
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientCfg),
		apiKey:     cfg.APIKey,
		model:      model,
		maxRetries: maxRetries,
		logger:     logger.Get(),
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) buildRequest(prompt string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   2000,
	}
}

// Generate 生成回答，指数退避重试
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if p.apiKey == "" {
		return MsgNotConfigured("OPENAI_API_KEY"), nil
	}

	start := time.Now()
	defer func() {
		metrics.ProviderCallDuration.WithLabelValues("openai").Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for i := 0; i < p.maxRetries; i++ {
		resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(prompt))
		if err == nil {
			if len(resp.Choices) == 0 {
				metrics.ProviderCallsTotal.WithLabelValues("openai", "fallback").Inc()
				return MsgEmptyResponse, nil
			}
			metrics.ProviderCallsTotal.WithLabelValues("openai", "success").Inc()
			return resp.Choices[0].Message.Content, nil
		}
		lastErr = err

		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.HTTPStatusCode {
			case http.StatusTooManyRequests:
				metrics.ProviderRetriesTotal.WithLabelValues("openai", "rate_limit").Inc()
				if i < p.maxRetries-1 {
					time.Sleep(time.Duration(1<<uint(i)) * time.Second)
					continue
				}
				metrics.ProviderCallsTotal.WithLabelValues("openai", "fallback").Inc()
				return MsgHighDemand, nil
			case http.StatusBadRequest:
				metrics.ProviderCallsTotal.WithLabelValues("openai", "fallback").Inc()
				return MsgRephrase, nil
			}
			if apiErr.HTTPStatusCode >= 500 {
				metrics.ProviderRetriesTotal.WithLabelValues("openai", "server").Inc()
				if i < p.maxRetries-1 {
					time.Sleep(time.Duration(1<<uint(i)) * time.Second)
					continue
				}
				metrics.ProviderCallsTotal.WithLabelValues("openai", "error").Inc()
				return "", &ProviderError{Provider: "openai", Type: ErrorTypeServer, Message: "上游服务错误", Err: err}
			}
			metrics.ProviderCallsTotal.WithLabelValues("openai", "error").Inc()
			return "", &ProviderError{Provider: "openai", Type: ErrorTypeInvalidRequest, Message: "请求被拒绝", Err: err}
		}

		if isTimeoutErr(err) {
			metrics.ProviderRetriesTotal.WithLabelValues("openai", "timeout").Inc()
			p.logger.Warn("OpenAI 请求超时", zap.Int("attempt", i+1))
			if i < p.maxRetries-1 {
				continue
			}
			metrics.ProviderCallsTotal.WithLabelValues("openai", "fallback").Inc()
			return MsgTimeout, nil
		}

		metrics.ProviderRetriesTotal.WithLabelValues("openai", "network").Inc()
		if i < p.maxRetries-1 {
			time.Sleep(time.Duration(1<<uint(i)) * time.Second)
		}
	}

	metrics.ProviderCallsTotal.WithLabelValues("openai", "error").Inc()
	return "", &ProviderError{Provider: "openai", Type: ErrorTypeNetwork, Message: "重试耗尽", Err: lastErr}
}

// GenerateStream 流式生成
func (p *OpenAIProvider) GenerateStream(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	chunkChan := make(chan string, 10)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		if p.apiKey == "" {
			chunkChan <- MsgNotConfigured("OPENAI_API_KEY")
			return
		}

		req := p.buildRequest(prompt)
		req.Stream = true
		stream, err := p.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			errChan <- &ProviderError{Provider: "openai", Type: ErrorTypeNetwork, Message: "创建流失败", Err: err}
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errChan <- &ProviderError{Provider: "openai", Type: ErrorTypeNetwork, Message: "读取流失败", Err: err}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case chunkChan <- delta:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
	}()

	return chunkChan, errChan
}
