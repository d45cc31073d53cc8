package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// PineconeOptions 初始化 Pinecone 索引客户端的配置
type PineconeOptions struct {
	// Endpoint 索引数据面地址，如 https://ncert-xxxx.svc.us-east-1.pinecone.io
	Endpoint       string
	APIKey         string
	Dimension      int
	TimeoutSeconds int
	HTTPClient     *http.Client
}

// PineconeIndex 基于 Pinecone 数据面 HTTP API 的索引实现
type PineconeIndex struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	dimension int
}

// NewPineconeIndex 创建 Pinecone 索引客户端
func NewPineconeIndex(opts PineconeOptions) (*PineconeIndex, error) {
	baseURL := strings.TrimSpace(opts.Endpoint)
	if baseURL == "" {
		return nil, fmt.Errorf("pinecone endpoint 不能为空")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	dimension := opts.Dimension
	if dimension <= 0 {
		dimension = 768
	}

	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = 10
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}

	return &PineconeIndex{
		client:    client,
		baseURL:   baseURL,
		apiKey:    opts.APIKey,
		dimension: dimension,
	}, nil
}

// Query 在指定命名空间内检索相似向量
func (p *PineconeIndex) Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("查询向量不能为空")
	}
	if len(vector) != p.dimension {
		return nil, fmt.Errorf("向量维度不匹配: 期望 %d 实际 %d", p.dimension, len(vector))
	}
	if topK <= 0 {
		topK = 5
	}

	req := pineconeQueryRequest{
		Namespace:       namespace,
		Vector:          vector,
		TopK:            topK,
		Filter:          filter,
		IncludeMetadata: true,
	}

	var resp pineconeQueryResponse
	if err := p.doRequest(ctx, http.MethodPost, "/query", req, &resp); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		matches = append(matches, Match{
			ID:       m.ID,
			Score:    m.Score,
			Metadata: m.Metadata,
		})
	}
	return matches, nil
}

// Upsert 批量写入向量，按 upsertBatchSize 分批提交
func (p *PineconeIndex) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	for start := 0; start < len(vectors); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(vectors) {
			end = len(vectors)
		}

		batch := vectors[start:end]
		for _, vec := range batch {
			if len(vec.Values) != p.dimension {
				return fmt.Errorf("向量维度不匹配: 期望 %d 实际 %d (id=%s)", p.dimension, len(vec.Values), vec.ID)
			}
		}

		req := pineconeUpsertRequest{Namespace: namespace, Vectors: batch}
		var resp pineconeUpsertResponse
		if err := p.doRequest(ctx, http.MethodPost, "/vectors/upsert", req, &resp); err != nil {
			return err
		}
	}
	return nil
}

// DeleteByFilter 按元数据条件删除向量
func (p *PineconeIndex) DeleteByFilter(ctx context.Context, namespace string, filter Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("删除条件不能为空")
	}

	req := pineconeDeleteRequest{Namespace: namespace, Filter: filter}
	return p.doRequest(ctx, http.MethodPost, "/vectors/delete", req, nil)
}

// DescribeStats 查询索引统计信息
func (p *PineconeIndex) DescribeStats(ctx context.Context) (*IndexStats, error) {
	var resp pineconeStatsResponse
	if err := p.doRequest(ctx, http.MethodPost, "/describe_index_stats", struct{}{}, &resp); err != nil {
		return nil, err
	}

	stats := &IndexStats{
		Dimension:        resp.Dimension,
		TotalVectorCount: resp.TotalVectorCount,
		Namespaces:       make(map[string]NamespaceStats, len(resp.Namespaces)),
	}
	for name, ns := range resp.Namespaces {
		stats.Namespaces[name] = NamespaceStats{VectorCount: ns.VectorCount}
	}
	return stats, nil
}

func (p *PineconeIndex) doRequest(ctx context.Context, method, path string, payload any, dest any) error {
	var bodyReader *bytes.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		bodyReader = bytes.NewReader(buf)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		// 网络层故障归类为服务不可用，由调用方降级
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: 状态码 %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var errBody struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("pinecone API 错误: %s (%d)", errBody.Message, resp.StatusCode)
	}

	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// --- Pinecone API payloads ---

type pineconeQueryRequest struct {
	Namespace       string    `json:"namespace,omitempty"`
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	Filter          Filter    `json:"filter,omitempty"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type pineconeQueryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"matches"`
	Namespace string `json:"namespace"`
}

type pineconeUpsertRequest struct {
	Namespace string   `json:"namespace,omitempty"`
	Vectors   []Vector `json:"vectors"`
}

type pineconeUpsertResponse struct {
	UpsertedCount int `json:"upsertedCount"`
}

type pineconeDeleteRequest struct {
	Namespace string `json:"namespace,omitempty"`
	Filter    Filter `json:"filter,omitempty"`
}

type pineconeStatsResponse struct {
	Dimension        int   `json:"dimension"`
	TotalVectorCount int64 `json:"totalVectorCount"`
	Namespaces       map[string]struct {
		VectorCount int64 `json:"vectorCount"`
	} `json:"namespaces"`
}
