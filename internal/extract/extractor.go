package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	dspdf "github.com/dslipak/pdf"
	ltpdf "github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/s4jith/ncert-working/internal/logger"
)

const (
	// 低于该字符数认为是扫描版教材，整册转 OCR
	ocrThresholdChars = 500
	// 低于该字符数认为抽取失败
	minExtractedChars = 100

	defaultRenderDPI = 300

	// ImageTextMarker 图片识别补充内容的分隔标记
	ImageTextMarker = "--- Extracted from Images ---"
)

// ExtractionError 文本抽取失败（所有层都没产出足够内容）
type ExtractionError struct {
	File  string
	Chars int
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("文本抽取失败: %s 仅得到 %d 字符", e.File, e.Chars)
}

// Result 单个 PDF 的抽取结果
type Result struct {
	Text      string // 清洗后的全文
	PageCount int    // 实际页数，0 表示未知
	UsedOCR   bool   // 是否用到了 OCR
}

// Extractor 分层 PDF 文本抽取器。
// 先按页做结构化抽取，失败换备用解析器；文本过少时整册 OCR 替换，
// 文本充足时只对无文字的扫描页做图片识别补充
type Extractor struct {
	ocr    Engine
	dpi    int
	logger *zap.Logger

	// 解析与光栅化入口，测试时可替换
	parse         func(path string) ([]string, int, error)
	parseFallback func(path string) (string, int, error)
	render        func(ctx context.Context, pdfPath, outDir string, dpi, first, last int) ([]string, error)
}

// NewExtractor 创建抽取器。ocr 传 nil 表示禁用 OCR
func NewExtractor(ocr Engine, dpi int) *Extractor {
	if dpi <= 0 {
		dpi = defaultRenderDPI
	}
	return &Extractor{
		ocr:           ocr,
		dpi:           dpi,
		logger:        logger.Get(),
		parse:         extractStructured,
		parseFallback: extractFallback,
		render:        renderPages,
	}
}

// Extract 抽取 PDF 全文
func (e *Extractor) Extract(ctx context.Context, path string) (*Result, error) {
	pages, pageCount, err := e.parse(path)
	if err != nil {
		e.logger.Warn("主解析器失败，换备用解析器",
			zap.String("file", filepath.Base(path)),
			zap.Error(err))
		pages = nil
		var raw string
		raw, pageCount, err = e.parseFallback(path)
		if err != nil {
			e.logger.Warn("备用解析器也失败",
				zap.String("file", filepath.Base(path)),
				zap.Error(err))
			raw = ""
		}
		pages = []string{raw}
	}
	text := Normalize(strings.Join(pages, "\n\n"))

	usedOCR := false
	if len(text) < ocrThresholdChars {
		// 扫描版教材，原生文本层只有噪声，OCR 结果整体替换
		if e.ocr != nil {
			e.logger.Info("文本过少，整册转 OCR",
				zap.String("file", filepath.Base(path)),
				zap.Int("chars", len(text)))
			ocrText, ocrPages, ocrErr := e.extractByOCR(ctx, path)
			if ocrErr != nil {
				e.logger.Warn("整册 OCR 失败", zap.Error(ocrErr))
			} else if ocrText != "" {
				text = ocrText
				usedOCR = true
				if pageCount == 0 {
					pageCount = ocrPages
				}
			}
		}
	} else if e.ocr != nil {
		// 混排文档：没有文字层的页按扫描图识别，补充在正文之后
		if imageText := e.extractImagePages(ctx, path, blankPageNums(pages)); imageText != "" {
			text = text + "\n\n" + ImageTextMarker + "\n\n" + imageText
			usedOCR = true
		}
	}

	if len(text) < minExtractedChars {
		return nil, &ExtractionError{File: filepath.Base(path), Chars: len(text)}
	}
	return &Result{Text: text, PageCount: pageCount, UsedOCR: usedOCR}, nil
}

// blankPageNums 返回没有产出文本的页码（1 起）
func blankPageNums(pages []string) []int {
	var nums []int
	for i, page := range pages {
		if strings.TrimSpace(page) == "" {
			nums = append(nums, i+1)
		}
	}
	return nums
}

// extractStructured 主解析器，逐页抽取文字层
func extractStructured(path string) ([]string, int, error) {
	f, r, err := ltpdf.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("打开 PDF 失败: %w", err)
	}
	defer f.Close()

	numPages := r.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// 单页失败不终止整册
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, numPages, nil
}

// extractFallback 备用解析器，整册一次性抽取
func extractFallback(path string) (string, int, error) {
	r, err := dspdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("打开 PDF 失败: %w", err)
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return "", 0, fmt.Errorf("抽取文本失败: %w", err)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", 0, fmt.Errorf("读取文本失败: %w", err)
	}
	return string(data), r.NumPage(), nil
}

// extractByOCR 整册光栅化后逐页识别
func (e *Extractor) extractByOCR(ctx context.Context, path string) (string, int, error) {
	tmpDir, err := os.MkdirTemp("", "ocr-pages-*")
	if err != nil {
		return "", 0, fmt.Errorf("创建临时目录失败: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	images, err := e.render(ctx, path, tmpDir, e.dpi, 0, 0)
	if err != nil {
		return "", 0, err
	}

	var parts []string
	for _, img := range images {
		pageText, err := e.ocr.RecognizeImage(ctx, img)
		if err != nil {
			e.logger.Warn("单页 OCR 失败",
				zap.String("image", filepath.Base(img)),
				zap.Error(err))
			continue
		}
		if pageText != "" {
			parts = append(parts, pageText)
		}
	}
	return Normalize(strings.Join(parts, "\n\n")), len(images), nil
}

// extractImagePages 只光栅化指定的扫描页并识别，失败的页跳过
func (e *Extractor) extractImagePages(ctx context.Context, path string, pageNums []int) string {
	if len(pageNums) == 0 {
		return ""
	}
	tmpDir, err := os.MkdirTemp("", "ocr-images-*")
	if err != nil {
		e.logger.Warn("创建临时目录失败", zap.Error(err))
		return ""
	}
	defer os.RemoveAll(tmpDir)

	var parts []string
	for _, n := range pageNums {
		pageDir, err := os.MkdirTemp(tmpDir, "p")
		if err != nil {
			continue
		}
		images, err := e.render(ctx, path, pageDir, e.dpi, n, n)
		if err != nil {
			e.logger.Warn("扫描页光栅化失败",
				zap.Int("page", n),
				zap.Error(err))
			continue
		}
		for _, img := range images {
			pageText, err := e.ocr.RecognizeImage(ctx, img)
			if err != nil {
				e.logger.Warn("扫描页 OCR 失败",
					zap.Int("page", n),
					zap.Error(err))
				continue
			}
			if strings.TrimSpace(pageText) != "" {
				parts = append(parts, pageText)
			}
		}
	}
	return Normalize(strings.Join(parts, "\n\n"))
}

// renderPages 用 pdftoppm 把 PDF 渲染为逐页 PNG
// first/last 为 0 时渲染整册
func renderPages(ctx context.Context, pdfPath, outDir string, dpi, first, last int) ([]string, error) {
	args := []string{"-r", fmt.Sprintf("%d", dpi), "-png"}
	if first > 0 {
		args = append(args, "-f", fmt.Sprintf("%d", first), "-l", fmt.Sprintf("%d", last))
	}
	args = append(args, pdfPath, filepath.Join(outDir, "page"))

	cmd := exec.CommandContext(ctx, "pdftoppm", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm 执行失败: %w: %s", err, string(output))
	}

	images, err := filepath.Glob(filepath.Join(outDir, "page-*.png"))
	if err != nil {
		return nil, fmt.Errorf("枚举渲染结果失败: %w", err)
	}
	sort.Strings(images)
	if len(images) == 0 {
		return nil, fmt.Errorf("pdftoppm 没有产出任何页面")
	}
	return images, nil
}
