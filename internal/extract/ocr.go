package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/s4jith/ncert-working/internal/config"
)

// Engine 图像文字识别接口
type Engine interface {
	// RecognizeImage 识别单张图片中的文字
	RecognizeImage(ctx context.Context, imagePath string) (string, error)
}

const defaultOCRLanguages = "eng+hin"

// TesseractEngine 通过 tesseract-server sidecar 做识别
type TesseractEngine struct {
	endpoint   string
	languages  []string
	httpClient *http.Client
}

// NewTesseractEngine 创建 OCR 客户端。endpoint 为空表示未部署 sidecar，返回 nil
func NewTesseractEngine(cfg config.OCRConfig) *TesseractEngine {
	if cfg.Endpoint == "" {
		return nil
	}
	languages := cfg.Languages
	if languages == "" {
		languages = defaultOCRLanguages
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TesseractEngine{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		languages:  strings.Split(languages, "+"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type tesseractOptions struct {
	Languages []string `json:"languages"`
}

type tesseractResponse struct {
	Data struct {
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exit_code"`
	} `json:"data"`
}

// RecognizeImage 上传图片并返回识别出的文本
func (e *TesseractEngine) RecognizeImage(ctx context.Context, imagePath string) (string, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("打开图片失败: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	options, err := json.Marshal(tesseractOptions{Languages: e.languages})
	if err != nil {
		return "", fmt.Errorf("序列化识别选项失败: %w", err)
	}
	if err := writer.WriteField("options", string(options)); err != nil {
		return "", fmt.Errorf("写入识别选项失败: %w", err)
	}

	part, err := writer.CreateFormFile("file", filepath.Base(imagePath))
	if err != nil {
		return "", fmt.Errorf("构造上传表单失败: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("写入图片数据失败: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("关闭上传表单失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/tesseract", &buf)
	if err != nil {
		return "", fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("OCR 请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("读取 OCR 响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OCR 服务返回状态码 %d: %s", resp.StatusCode, string(respBody))
	}

	var result tesseractResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("解析 OCR 响应失败: %w", err)
	}
	if result.Data.ExitCode != 0 {
		return "", fmt.Errorf("OCR 识别失败: %s", result.Data.Stderr)
	}
	return strings.TrimSpace(result.Data.Stdout), nil
}
