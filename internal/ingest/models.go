package ingest

import (
	"fmt"
	"strings"
	"time"
)

// Upload 状态流转：pending -> processing -> completed | failed
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Upload is one textbook PDF accepted for ingestion.
type Upload struct {
	ID       string  `json:"id" gorm:"primaryKey;size:64"`
	Filename string  `json:"filename" gorm:"size:255;not null"`
	Path     string  `json:"-" gorm:"size:512;not null"`
	SizeMB   float64 `json:"sizeMb"`

	ClassNum string `json:"classNum" gorm:"size:20;not null"`
	Subject  string `json:"subject" gorm:"size:100;not null"`
	Chapter  string `json:"chapter" gorm:"size:255;not null"`

	Status string `json:"status" gorm:"size:20;not null;default:pending;index"`
	// 进度只增不减，失败时保留最后到达的检查点
	Progress     int    `json:"progress" gorm:"default:0"`
	TotalChunks  int    `json:"totalChunks" gorm:"default:0"`
	PageCount    int    `json:"pageCount" gorm:"default:0"`
	UsedOCR      bool   `json:"usedOcr" gorm:"default:false"`
	ErrorMessage string `json:"errorMessage,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime;index"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName maps uploads to their own table.
func (Upload) TableName() string {
	return "uploads"
}

// BookChapter records one ingested chapter for catalog queries.
type BookChapter struct {
	ID       string `json:"id" gorm:"primaryKey;size:255"`
	ClassNum string `json:"classNum" gorm:"size:20;not null;index"`
	Subject  string `json:"subject" gorm:"size:100;not null;index"`
	Chapter  string `json:"chapter" gorm:"size:255;not null"`

	SourceFile  string `json:"sourceFile" gorm:"size:255;not null"`
	TotalChunks int    `json:"totalChunks" gorm:"default:0"`
	PageCount   int    `json:"pageCount" gorm:"default:0"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName maps chapters to their own table.
func (BookChapter) TableName() string {
	return "book_chapters"
}

// ChapterID 章节主键，格式 {class}_{subject}_{chapter}，空格转下划线
func ChapterID(classNum, subject, chapter string) string {
	id := fmt.Sprintf("%s_%s_%s", classNum, subject, chapter)
	return strings.ReplaceAll(id, " ", "_")
}
