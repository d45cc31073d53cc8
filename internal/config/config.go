package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Log         LogConfig         `mapstructure:"log"`
	AI          AIConfig          `mapstructure:"ai"`
	RAG         RagConfig         `mapstructure:"rag"`
	VectorIndex VectorIndexConfig `mapstructure:"vector_index"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	OCR         OCRConfig         `mapstructure:"ocr"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
}

// RedisConfig Redis 配置（asynq 任务队列与健康检查共用）
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	PoolSize     int `mapstructure:"pool_size"`      // 连接池大小
	MinIdleConns int `mapstructure:"min_idle_conns"` // 最小空闲连接数
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AIConfig 大模型后端配置
type AIConfig struct {
	DefaultProvider string       `mapstructure:"default_provider"` // gemini, openai, local
	Gemini          GeminiConfig `mapstructure:"gemini"`
	OpenAI          OpenAIConfig `mapstructure:"openai"`
	Local           LocalConfig  `mapstructure:"local"`
	MaxRetries      int          `mapstructure:"max_retries"`     // 重试次数，默认 3
	RetryDelayMS    int          `mapstructure:"retry_delay_ms"`  // 首次重试延迟，默认 2000
	TimeoutSeconds  int          `mapstructure:"timeout_seconds"` // 单次请求超时，默认 30
}

// GeminiConfig Google Gemini 配置
type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"` // 默认 gemini-2.5-flash
}

// OpenAIConfig OpenAI 配置（对话与 embedding 共用）
type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`           // 默认 gpt-4o-mini
	EmbeddingModel string `mapstructure:"embedding_model"` // 默认 text-embedding-3-small
}

// LocalConfig 本地 OpenAI 兼容服务配置（LM Studio / Ollama 网关）
type LocalConfig struct {
	BaseURL string `mapstructure:"base_url"` // 默认 http://127.0.0.1:1234/v1
	Model   string `mapstructure:"model"`
}

// RagConfig 检索问答相关配置
type RagConfig struct {
	TopK              int      `mapstructure:"top_k"`               // 默认 5
	RerankTopK        int      `mapstructure:"rerank_top_k"`        // 进入上下文的条数，默认 3
	MinRelevanceScore float64  `mapstructure:"min_relevance_score"` // 默认 0.7
	FanoutNamespaces  []string `mapstructure:"fanout_namespaces"`   // 未指定学科时的广播检索范围
	CacheTTLSeconds   int      `mapstructure:"cache_ttl_seconds"`   // 回答缓存有效期，默认 10 天
	CacheMinSources   int      `mapstructure:"cache_min_sources"`   // 写入缓存所需的最少来源数，默认 1
	HistoryLimit      int      `mapstructure:"history_limit"`       // 对话上下文条数，默认 5
}

// VectorIndexConfig 向量索引配置
type VectorIndexConfig struct {
	Backend   string         `mapstructure:"backend"` // pinecone, pgvector
	Dimension int            `mapstructure:"dimension"`
	Pinecone  PineconeConfig `mapstructure:"pinecone"`
}

// PineconeConfig Pinecone 数据面配置
type PineconeConfig struct {
	Endpoint       string `mapstructure:"endpoint"` // 索引 host，如 https://xxx.svc.pinecone.io
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// IngestConfig 教材入库配置
type IngestConfig struct {
	UploadDir         string   `mapstructure:"upload_dir"`          // 上传文件根目录
	MaxUploadSizeMB   int      `mapstructure:"max_upload_size_mb"`  // 默认 50
	AllowedExtensions []string `mapstructure:"allowed_extensions"`  // 默认 [pdf]
	ChunkSize         int      `mapstructure:"chunk_size"`          // 默认 1000
	ChunkOverlap      int      `mapstructure:"chunk_overlap"`       // 默认 150
	DefaultTotalPages int      `mapstructure:"default_total_pages"` // 页码估算兜底值，默认 20
}

// OCRConfig 文字识别服务配置
type OCRConfig struct {
	Endpoint       string `mapstructure:"endpoint"`  // tesseract sidecar 地址
	Languages      string `mapstructure:"languages"` // 默认 eng+hin
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	DPI            int    `mapstructure:"dpi"` // 整页光栅化分辨率，默认 300
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件名和路径
	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP") // 环境变量前缀：APP_
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：APP_DATABASE_HOST

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Addr Redis 连接地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
