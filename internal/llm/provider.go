package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/s4jith/ncert-working/internal/config"
	"github.com/s4jith/ncert-working/internal/logger"
)

// Provider 大模型统一接口，所有后端实现该接口
type Provider interface {
	// Generate 一次性生成回答。可恢复故障返回降级文案而非错误
	Generate(ctx context.Context, prompt string) (string, error)
	// GenerateStream 流式生成，文本块与错误分别走独立通道
	GenerateStream(ctx context.Context, prompt string) (<-chan string, <-chan error)
	// Name 后端标识
	Name() string
}

// Factory 按名称创建并缓存 Provider 实例
type Factory struct {
	cfg       config.AIConfig
	mu        sync.RWMutex
	instances map[string]Provider
	logger    *zap.Logger
}

// NewFactory 创建工厂
func NewFactory(cfg config.AIConfig) *Factory {
	return &Factory{
		cfg:       cfg,
		instances: make(map[string]Provider),
		logger:    logger.Get(),
	}
}

// Get 获取指定后端，实例按名称缓存复用
func (f *Factory) Get(name string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = f.cfg.DefaultProvider
	}

	f.mu.RLock()
	if p, ok := f.instances[name]; ok {
		f.mu.RUnlock()
		return p, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.instances[name]; ok {
		return p, nil
	}

	p, err := f.create(name)
	if err != nil {
		return nil, err
	}
	f.instances[name] = p
	f.logger.Info("创建大模型后端", zap.String("provider", name))
	return p, nil
}

// Default 获取配置的默认后端
func (f *Factory) Default() (Provider, error) {
	return f.Get(f.cfg.DefaultProvider)
}

func (f *Factory) create(name string) (Provider, error) {
	retryDelay := time.Duration(f.cfg.RetryDelayMS) * time.Millisecond
	timeout := time.Duration(f.cfg.TimeoutSeconds) * time.Second

	switch name {
	case "gemini", "google":
		return NewGeminiProvider(f.cfg.Gemini, f.cfg.MaxRetries, retryDelay, timeout), nil
	case "openai":
		return NewOpenAIProvider(f.cfg.OpenAI, f.cfg.MaxRetries, timeout), nil
	case "local", "lmstudio", "ollama":
		return NewLocalProvider(f.cfg.Local, timeout), nil
	default:
		return nil, fmt.Errorf("不支持的大模型后端: %s", name)
	}
}
