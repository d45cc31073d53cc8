package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/s4jith/ncert-working/internal/vectordb"
)

// fakeEmbedder 返回固定向量
type fakeEmbedder struct {
	dim       int
	embedErr  error
	batchErr  error
	callCount int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.callCount++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return make([]float32, f.dim), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f *fakeEmbedder) GetDimension() int { return f.dim }
func (f *fakeEmbedder) GetModel() string  { return "fake" }

// fakeIndex 记录调用并按命名空间返回预置结果
type fakeIndex struct {
	mu sync.Mutex

	matchesByNS map[string][]vectordb.Match
	errByNS     map[string]error

	queriedNS   []string
	lastFilter  vectordb.Filter
	lastTopK    int
	upsertedNS  string
	upserted    []vectordb.Vector
	deletedNS   []string
	statsResult *vectordb.IndexStats
}

func (f *fakeIndex) Query(ctx context.Context, namespace string, vector []float32, topK int, filter vectordb.Filter) ([]vectordb.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queriedNS = append(f.queriedNS, namespace)
	f.lastFilter = filter
	f.lastTopK = topK
	if err, ok := f.errByNS[namespace]; ok {
		return nil, err
	}
	return f.matchesByNS[namespace], nil
}

func (f *fakeIndex) Upsert(ctx context.Context, namespace string, vectors []vectordb.Vector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertedNS = namespace
	f.upserted = append(f.upserted, vectors...)
	return nil
}

func (f *fakeIndex) DeleteByFilter(ctx context.Context, namespace string, filter vectordb.Filter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedNS = append(f.deletedNS, namespace)
	f.lastFilter = filter
	return nil
}

func (f *fakeIndex) DescribeStats(ctx context.Context) (*vectordb.IndexStats, error) {
	if f.statsResult == nil {
		return nil, errors.New("stats unavailable")
	}
	return f.statsResult, nil
}

func match(id string, score float64, subject string) vectordb.Match {
	return vectordb.Match{
		ID:    id,
		Score: score,
		Metadata: map[string]any{
			"text":        "content of " + id,
			"class_num":   "10",
			"subject":     subject,
			"chapter":     "Chapter 1",
			"source_file": "book.pdf",
			"page":        float64(3),
		},
	}
}

func TestNamespaceFor(t *testing.T) {
	require.Equal(t, "mathematics", NamespaceFor("Mathematics"))
	require.Equal(t, "social_science", NamespaceFor("Social Science"))
	require.Equal(t, "social_science", NamespaceFor("social-science"))
	require.Equal(t, "general", NamespaceFor(""))
	require.Equal(t, "general", NamespaceFor("   "))
}

func TestNormalizeClass(t *testing.T) {
	require.Equal(t, "10", NormalizeClass("Class 10"))
	require.Equal(t, "10", NormalizeClass("class 10"))
	require.Equal(t, "10", NormalizeClass("10"))
	require.Equal(t, "9", NormalizeClass(" CLASS 9 "))
}

func TestVectorID(t *testing.T) {
	id := VectorID("class 10 science.pdf", "10", "Chemical Reactions", 4)
	require.Equal(t, "class_10_science.pdf_10_Chemical_Reactions_4", id)
	require.NotContains(t, id, " ")
}

func TestSearchSingleNamespace(t *testing.T) {
	index := &fakeIndex{
		matchesByNS: map[string][]vectordb.Match{
			"science": {match("v1", 0.92, "Science"), match("v2", 0.81, "Science")},
		},
	}
	r := NewRetriever(index, &fakeEmbedder{dim: 8}, 5, nil, nil)

	results, err := r.Search(context.Background(), "What is an acid?", SearchOptions{
		Grade:   "Class 10",
		Subject: "Science",
		Chapter: "Chapter 1",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, []string{"science"}, index.queriedNS)
	require.Equal(t, 5, index.lastTopK)

	// 年级过滤同时匹配两种入库写法
	classFilter, ok := index.lastFilter["class_num"].(map[string]any)
	require.True(t, ok)
	require.ElementsMatch(t, []any{"10", "Class 10"}, classFilter["$in"])

	require.Equal(t, "content of v1", results[0].Text)
	require.Equal(t, "10", results[0].ClassNum)
	require.Equal(t, 3, results[0].Page)
}

func TestSearchSingleNamespaceErrorPropagates(t *testing.T) {
	index := &fakeIndex{
		errByNS: map[string]error{"science": fmt.Errorf("%w: boom", vectordb.ErrUnavailable)},
	}
	r := NewRetriever(index, &fakeEmbedder{dim: 8}, 5, nil, nil)

	_, err := r.Search(context.Background(), "q", SearchOptions{Subject: "Science"})
	require.ErrorIs(t, err, vectordb.ErrUnavailable)
}

func TestSearchFanoutMergesAndSkipsFailures(t *testing.T) {
	index := &fakeIndex{
		matchesByNS: map[string][]vectordb.Match{
			"science":     {match("s1", 0.95, "Science"), match("s2", 0.70, "Science")},
			"mathematics": {match("m1", 0.88, "Mathematics")},
		},
		errByNS: map[string]error{
			"physics": errors.New("namespace not found"),
		},
	}
	r := NewRetriever(index, &fakeEmbedder{dim: 8}, 3, nil, nil)

	results, err := r.Search(context.Background(), "q", SearchOptions{})
	require.NoError(t, err)

	// 广播到全部默认命名空间
	require.Len(t, index.queriedNS, len(DefaultFanoutNamespaces))
	// 失败的命名空间被跳过，剩余结果按相关度排序截取
	require.Len(t, results, 3)
	require.Equal(t, "s1", results[0].ID)
	require.Equal(t, "m1", results[1].ID)
	require.Equal(t, "s2", results[2].ID)
}

func TestSearchEmbedError(t *testing.T) {
	r := NewRetriever(&fakeIndex{}, &fakeEmbedder{dim: 8, embedErr: errors.New("quota")}, 5, nil, nil)
	_, err := r.Search(context.Background(), "q", SearchOptions{Subject: "Science"})
	require.Error(t, err)
}

func TestUpsertChunksMetadata(t *testing.T) {
	index := &fakeIndex{}
	r := NewRetriever(index, &fakeEmbedder{dim: 8}, 5, nil, nil)

	chunks := []ChunkInput{
		{Text: "Acids are sour.", Page: 1},
		{Text: "Bases are bitter.", Page: 2},
	}
	count, err := r.UpsertChunks(context.Background(), chunks, "10", "Science", "Acids and Bases", "class 10 science.pdf")
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Equal(t, "science", index.upsertedNS)
	require.Len(t, index.upserted, 2)

	first := index.upserted[0]
	require.Equal(t, "class_10_science.pdf_10_Acids_and_Bases_0", first.ID)
	require.Equal(t, "Acids are sour.", first.Metadata["text"])
	require.Equal(t, "10", first.Metadata["class_num"])
	require.Equal(t, 1, first.Metadata["page"])
	require.Equal(t, 0, first.Metadata["chunk_index"])
}

func TestUpsertChunksTruncatesLongText(t *testing.T) {
	index := &fakeIndex{}
	r := NewRetriever(index, &fakeEmbedder{dim: 8}, 5, nil, nil)

	long := make([]byte, 9000)
	for i := range long {
		long[i] = 'a'
	}
	_, err := r.UpsertChunks(context.Background(), []ChunkInput{{Text: string(long), Page: 1}},
		"10", "Science", "Ch", "f.pdf")
	require.NoError(t, err)
	require.Len(t, index.upserted[0].Metadata["text"], 8000)
}

func TestDeleteSourceKnownSubject(t *testing.T) {
	index := &fakeIndex{}
	r := NewRetriever(index, &fakeEmbedder{dim: 8}, 5, nil, nil)

	require.NoError(t, r.DeleteSource(context.Background(), "book.pdf", "Science"))
	require.Equal(t, []string{"science"}, index.deletedNS)

	eq, ok := index.lastFilter["source_file"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "book.pdf", eq["$eq"])
}

func TestDeleteSourceUnknownSubjectSweepsFanout(t *testing.T) {
	index := &fakeIndex{}
	r := NewRetriever(index, &fakeEmbedder{dim: 8}, 5, nil, nil)

	require.NoError(t, r.DeleteSource(context.Background(), "book.pdf", ""))
	require.Len(t, index.deletedNS, len(DefaultFanoutNamespaces))
}
