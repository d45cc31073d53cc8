package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkEmptyInput(t *testing.T) {
	require.Nil(t, Chunk("", 1000, 150))
	require.Nil(t, Chunk("   \n\n  ", 1000, 150))
}

func TestChunkShortTextSingleChunk(t *testing.T) {
	text := "Photosynthesis is the process by which plants make food."
	chunks := Chunk(text, 1000, 150)
	require.Len(t, chunks, 1)
	require.Equal(t, text, chunks[0])
}

func TestChunkParagraphPacking(t *testing.T) {
	paraA := strings.Repeat("a", 300)
	paraB := strings.Repeat("b", 300)
	paraC := strings.Repeat("c", 500)

	chunks := Chunk(paraA+"\n\n"+paraB+"\n\n"+paraC, 700, 0)
	// A+B 聚为一块，C 放不下另起一块
	require.Len(t, chunks, 2)
	require.Equal(t, paraA+"\n\n"+paraB, chunks[0])
	require.Equal(t, paraC, chunks[1])
}

func TestChunkOversizeParagraphSentenceSplit(t *testing.T) {
	sentence := strings.Repeat("x", 80) + "."
	para := strings.TrimSpace(strings.Repeat(sentence+" ", 20)) // 一段 1600+ 字符

	chunks := Chunk(para, 500, 0)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		require.LessOrEqual(t, len(chunk), 600)
		require.Contains(t, chunk, strings.Repeat("x", 80))
	}
}

func TestChunkOverlapPrefix(t *testing.T) {
	paraA := strings.Repeat("a", 400)
	paraB := strings.Repeat("b", 400)

	chunks := Chunk(paraA+"\n\n"+paraB, 450, 100)
	require.Len(t, chunks, 2)
	require.Equal(t, paraA, chunks[0])
	// 第二块头部带上前一块末尾 100 字符
	require.Equal(t, strings.Repeat("a", 100)+" "+paraB, chunks[1])
}

func TestChunkZeroOverlapPreservesContent(t *testing.T) {
	var paras []string
	for i := 0; i < 6; i++ {
		paras = append(paras, strings.Repeat(string(rune('a'+i)), 350))
	}
	chunks := Chunk(strings.Join(paras, "\n\n"), 800, 0)

	joined := strings.Join(chunks, "\n\n")
	for _, para := range paras {
		require.Contains(t, joined, para)
	}
}

func TestEstimatePage(t *testing.T) {
	// 100 块 20 页，每页约 5 块
	require.Equal(t, 1, EstimatePage(0, 100, 20))
	require.Equal(t, 1, EstimatePage(4, 100, 20))
	require.Equal(t, 2, EstimatePage(5, 100, 20))
	require.Equal(t, 20, EstimatePage(99, 100, 20))

	// 页数未知时按 20 页兜底
	require.Equal(t, 20, EstimatePage(99, 100, 0))

	require.Equal(t, 1, EstimatePage(0, 0, 10))
}

func TestCountTokensFallbackScale(t *testing.T) {
	short := CountTokens("hello world")
	long := CountTokens(strings.Repeat("hello world ", 50))
	require.Greater(t, long, short)
	require.Greater(t, short, 0)
}
