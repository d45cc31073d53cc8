package rag

import (
	"time"

	"gorm.io/datatypes"
)

// CacheEntry is a cached answer keyed by the normalized question hash.
type CacheEntry struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	QuestionHash string `json:"questionHash" gorm:"size:64;not null;uniqueIndex"`
	Question     string `json:"question" gorm:"type:text;not null"`

	// 问题归一化时参与哈希的限定条件
	Grade   string `json:"grade" gorm:"size:20"`
	Subject string `json:"subject" gorm:"size:100"`

	Answer   string         `json:"answer" gorm:"type:text;not null"`
	Sources  datatypes.JSON `json:"sources" gorm:"type:jsonb"`
	Language string         `json:"language" gorm:"size:10"`

	// 命中统计与有效性。失效只翻转 IsValid，记录保留作审计
	HitCount int  `json:"hitCount" gorm:"default:0"`
	IsValid  bool `json:"isValid" gorm:"default:true"`

	ExpiresAt time.Time `json:"expiresAt" gorm:"not null;index"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName maps the cache to its own table.
func (CacheEntry) TableName() string {
	return "chat_cache"
}

// ChatMessage is one question/answer exchange stored per user.
type ChatMessage struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	UserID string `json:"userId" gorm:"size:100;not null;index"`

	Question string         `json:"question" gorm:"type:text;not null"`
	Answer   string         `json:"answer" gorm:"type:text;not null"`
	Sources  datatypes.JSON `json:"sources" gorm:"type:jsonb"`

	Grade    string `json:"grade" gorm:"size:20"`
	Subject  string `json:"subject" gorm:"size:100"`
	Language string `json:"language" gorm:"size:10"`

	Cached    bool  `json:"cached"`
	LatencyMS int64 `json:"latencyMs"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime;index"`
}

// TableName maps chat history to its own table.
func (ChatMessage) TableName() string {
	return "chat_messages"
}

// AnswerReport records a user flagging a wrong or unhelpful answer.
type AnswerReport struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	UserID       string    `json:"userId" gorm:"size:100;index"`
	QuestionHash string    `json:"questionHash" gorm:"size:64;not null;index"`
	Question     string    `json:"question" gorm:"type:text"`
	Reason       string    `json:"reason" gorm:"type:text"`
	CreatedAt    time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// TableName maps reports to their own table.
func (AnswerReport) TableName() string {
	return "answer_reports"
}
