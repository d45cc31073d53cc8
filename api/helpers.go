package api

import (
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/s4jith/ncert-working/internal/config"
	"github.com/s4jith/ncert-working/internal/infra"
	"github.com/s4jith/ncert-working/internal/vectordb"
)

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ReadinessResponse 就绪检查响应
type ReadinessResponse struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Database string `json:"database,omitempty"`
	Redis    string `json:"redis,omitempty"`
	Index    string `json:"index,omitempty"`
}

// HealthCheck 健康检查，供存活探针使用
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, HealthResponse{
			Status:  "healthy",
			Service: "ncert-tutor",
		})
	}
}

// ReadinessCheck 就绪检查：数据库、Redis、向量索引全部可达才算就绪
func ReadinessCheck(db *gorm.DB, index vectordb.Index) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := ReadinessResponse{Status: "ready"}

		sqlDB, err := db.DB()
		if err != nil || sqlDB.Ping() != nil {
			c.JSON(503, ReadinessResponse{Status: "not_ready", Reason: "database unreachable"})
			return
		}
		resp.Database = "connected"

		if err := infra.RedisHealthCheck(c.Request.Context()); err != nil {
			c.JSON(503, ReadinessResponse{Status: "not_ready", Reason: "redis unreachable", Database: "connected"})
			return
		}
		resp.Redis = "connected"

		if _, err := index.DescribeStats(c.Request.Context()); err != nil {
			// 索引短暂不可用时问答走直答降级，不算不可用
			resp.Index = "degraded"
		} else {
			resp.Index = "connected"
		}

		c.JSON(200, resp)
	}
}

// --- 环境变量辅助函数 ---

// getEnvList 读取逗号分隔的环境变量列表
func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	var res []string
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			res = append(res, v)
		}
	}
	return res
}

// stringInSlice 判断字符串是否存在于切片中
func stringInSlice(target string, list []string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

// defaultIfEmpty 返回非空列表或默认值
func defaultIfEmpty(list []string, def []string) []string {
	if len(list) == 0 {
		return def
	}
	return list
}

// --- 向量索引初始化 ---

// initVectorIndex 按配置选择向量索引后端
func initVectorIndex(cfg *config.Config, db *gorm.DB) (vectordb.Index, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.VectorIndex.Backend))

	if backend == "pinecone" {
		pcfg := cfg.VectorIndex.Pinecone
		if strings.TrimSpace(pcfg.Endpoint) == "" {
			return nil, fmt.Errorf("未配置 Pinecone endpoint")
		}
		return vectordb.NewPineconeIndex(vectordb.PineconeOptions{
			Endpoint:       pcfg.Endpoint,
			APIKey:         pcfg.APIKey,
			Dimension:      cfg.VectorIndex.Dimension,
			TimeoutSeconds: pcfg.TimeoutSeconds,
		})
	}

	return vectordb.NewPgvectorIndex(db)
}
