package extract

import (
	"regexp"
	"strings"
)

var (
	horizontalSpaceRe = regexp.MustCompile(`[ \t]+`)
	bareNumberLineRe  = regexp.MustCompile(`(?m)^\s*\d+\s*$`)
	excessNewlinesRe  = regexp.MustCompile(`\n{3,}`)
)

// Normalize 清洗抽取出的原始文本：
// 去控制字符、修正竖线误识别、删除独立页码行、压缩空白
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\x00", "")
	// 扫描件里 I 常被识别成竖线
	text = strings.ReplaceAll(text, "|", "I")
	text = bareNumberLineRe.ReplaceAllString(text, "")
	text = horizontalSpaceRe.ReplaceAllString(text, " ")
	text = excessNewlinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
