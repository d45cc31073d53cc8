package vectordb

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPineconeIndexUpsertBatches(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/vectors/upsert") {
			body, _ := io.ReadAll(r.Body)
			bodies = append(bodies, string(body))
			_, _ = w.Write([]byte(`{"upsertedCount":100}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	idx, err := NewPineconeIndex(PineconeOptions{
		Endpoint:   server.URL,
		APIKey:     "ut-key",
		Dimension:  2,
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)

	vectors := make([]Vector, 150)
	for i := range vectors {
		vectors[i] = Vector{
			ID:     "v",
			Values: []float32{0.1, 0.2},
		}
	}
	require.NoError(t, idx.Upsert(context.Background(), "science", vectors))

	// 150 条按 100 条分批，应提交两次
	require.Len(t, bodies, 2)

	var first pineconeUpsertRequest
	require.NoError(t, json.Unmarshal([]byte(bodies[0]), &first))
	require.Equal(t, "science", first.Namespace)
	require.Len(t, first.Vectors, 100)

	var second pineconeUpsertRequest
	require.NoError(t, json.Unmarshal([]byte(bodies[1]), &second))
	require.Len(t, second.Vectors, 50)
}

func TestPineconeIndexUpsertDimensionMismatch(t *testing.T) {
	idx, err := NewPineconeIndex(PineconeOptions{
		Endpoint:  "http://127.0.0.1:1",
		Dimension: 4,
	})
	require.NoError(t, err)

	err = idx.Upsert(context.Background(), "", []Vector{{ID: "a", Values: []float32{0.1}}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "维度不匹配")
}

func TestPineconeIndexQuery(t *testing.T) {
	var captured pineconeQueryRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "ut-key", r.Header.Get("Api-Key"))
		if strings.HasSuffix(r.URL.Path, "/query") {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &captured))
			_, _ = w.Write([]byte(`{"matches":[{"id":"phys_10_light_0","score":0.91,"metadata":{"chapter":"Light","text":"reflection"}}]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	idx, err := NewPineconeIndex(PineconeOptions{
		Endpoint:   server.URL,
		APIKey:     "ut-key",
		Dimension:  2,
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)

	matches, err := idx.Query(context.Background(), "physics", []float32{0.3, 0.4}, 3, Filter{
		"class_num": In("10", "Class 10"),
	})
	require.NoError(t, err)

	require.Equal(t, "physics", captured.Namespace)
	require.Equal(t, 3, captured.TopK)
	require.True(t, captured.IncludeMetadata)
	require.Contains(t, captured.Filter, "class_num")

	require.Len(t, matches, 1)
	require.Equal(t, "phys_10_light_0", matches[0].ID)
	require.InDelta(t, 0.91, matches[0].Score, 1e-9)
	require.Equal(t, "Light", matches[0].Metadata["chapter"])
}

func TestPineconeIndexServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	idx, err := NewPineconeIndex(PineconeOptions{
		Endpoint:   server.URL,
		Dimension:  2,
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)

	_, err = idx.Query(context.Background(), "", []float32{0.1, 0.2}, 5, nil)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestPineconeIndexDescribeStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/describe_index_stats") {
			_, _ = w.Write([]byte(`{"dimension":768,"totalVectorCount":1200,"namespaces":{"science":{"vectorCount":800},"mathematics":{"vectorCount":400}}}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	idx, err := NewPineconeIndex(PineconeOptions{
		Endpoint:   server.URL,
		Dimension:  768,
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)

	stats, err := idx.DescribeStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1200), stats.TotalVectorCount)
	require.Equal(t, int64(800), stats.Namespaces["science"].VectorCount)
}
