package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ncert_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ncert_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 问答流水线指标
var (
	// QueriesTotal 问答请求总数
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ncert_queries_total",
			Help: "问答请求总数",
		},
		[]string{"language", "cached"},
	)

	// CacheHits 回答缓存命中数
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ncert_cache_hits_total",
			Help: "回答缓存命中数",
		},
	)

	// CacheMisses 回答缓存未命中数
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ncert_cache_misses_total",
			Help: "回答缓存未命中数",
		},
	)

	// OutOfScopeQueries 检索无果的超纲提问数
	OutOfScopeQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ncert_out_of_scope_queries_total",
			Help: "检索无果的超纲提问数",
		},
	)

	// RetrievalDuration 向量检索耗时（秒）
	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ncert_retrieval_duration_seconds",
			Help:    "向量检索耗时分布",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)
)

// 大模型调用指标
var (
	// ProviderCallsTotal 大模型调用总数
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ncert_provider_calls_total",
			Help: "大模型调用总数",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderRetriesTotal 大模型调用重试次数
	ProviderRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ncert_provider_retries_total",
			Help: "大模型调用重试次数",
		},
		[]string{"provider", "reason"},
	)

	// ProviderCallDuration 大模型调用耗时（秒）
	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ncert_provider_call_duration_seconds",
			Help:    "大模型调用耗时分布",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)
)

// 入库指标
var (
	// IngestTotal 教材入库任务数
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ncert_ingest_total",
			Help: "教材入库任务数",
		},
		[]string{"status"},
	)

	// IngestChunks 入库产出的片段总数
	IngestChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ncert_ingest_chunks_total",
			Help: "入库产出的片段总数",
		},
	)

	// IngestDuration 单本教材处理耗时（秒）
	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ncert_ingest_duration_seconds",
			Help:    "单本教材处理耗时分布",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
)
