package rag

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// 分块默认参数
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 150
)

// Chunk 将文本切分为带重叠的片段，纯函数
// 优先按段落(空行)聚合，超长段落退化为按句子(". ")切分
// overlap > 0 时，每个片段(除第一个)头部拼接前一片段末尾 overlap 个字符
func Chunk(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	paragraphs := strings.Split(text, "\n\n")

	var chunks []string
	current := ""

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(current)+len(para) > chunkSize {
			if current != "" {
				chunks = append(chunks, strings.TrimSpace(current))
			}

			if len(para) > chunkSize {
				// 超长段落按句子切分
				sentences := strings.Split(strings.ReplaceAll(para, ". ", ".\n"), "\n")
				current = ""
				for _, sentence := range sentences {
					if len(current)+len(sentence) > chunkSize {
						if current != "" {
							chunks = append(chunks, strings.TrimSpace(current))
						}
						current = sentence
					} else {
						if current != "" {
							current += " " + sentence
						} else {
							current = sentence
						}
					}
				}
			} else {
				current = para
			}
		} else {
			if current != "" {
				current += "\n\n" + para
			} else {
				current = para
			}
		}
	}

	if current != "" {
		chunks = append(chunks, strings.TrimSpace(current))
	}

	// 添加片段间重叠，取自未加重叠的原始片段
	if overlap > 0 && len(chunks) > 1 {
		overlapped := make([]string, len(chunks))
		overlapped[0] = chunks[0]
		for i := 1; i < len(chunks); i++ {
			prev := chunks[i-1]
			tail := prev
			if len(prev) > overlap {
				tail = prev[len(prev)-overlap:]
			}
			overlapped[i] = tail + " " + chunks[i]
		}
		return overlapped
	}

	return chunks
}

// EstimatePage 由片段序号线性估算页码
// 近似假设每页产出的片段数均匀，actualPages 未知时按 20 页兜底
func EstimatePage(chunkIndex, totalChunks, actualPages int) int {
	if totalChunks == 0 {
		return 1
	}

	pages := actualPages
	if pages <= 0 {
		pages = 20
	}

	chunksPerPage := float64(totalChunks) / float64(pages)
	return int(float64(chunkIndex)/chunksPerPage) + 1
}

var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
)

// CountTokens 统计文本 token 数，用于分块元数据
// cl100k_base 编码不可用时退化为字符数/4 的粗估
func CountTokens(text string) int {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tokenizer = enc
		}
	})

	if tokenizer == nil {
		return len(text) / 4
	}
	return len(tokenizer.Encode(text, nil, nil))
}
