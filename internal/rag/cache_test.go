package rag

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupCacheTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&CacheEntry{}))
	return db
}

func TestHashQuestion(t *testing.T) {
	base := HashQuestion("What is an acid?", "10", "Science")

	// 大小写与首尾空白不影响缓存键
	require.Equal(t, base, HashQuestion("  what is an ACID?  ", "10", "Science"))
	// 限定条件不同则键不同
	require.NotEqual(t, base, HashQuestion("What is an acid?", "9", "Science"))
	require.NotEqual(t, base, HashQuestion("What is an acid?", "10", "Physics"))
	// 空限定记作 any
	require.Equal(t,
		HashQuestion("q", "", ""),
		HashQuestion("q", "any", "any"),
	)
	require.Len(t, base, 64)
}

func TestCachePutAndGet(t *testing.T) {
	db := setupCacheTestDB(t)
	cache := NewResponseCache(db, time.Hour, zap.NewNop())
	ctx := context.Background()

	sources := datatypes.JSON(`[{"name":"Science - Acids"}]`)
	require.NoError(t, cache.Put(ctx, "What is an acid?", "10", "Science", "An acid is sour.", "en", sources))

	hash := HashQuestion("What is an acid?", "10", "Science")
	entry, err := cache.Get(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, "An acid is sour.", entry.Answer)
	require.Equal(t, "en", entry.Language)
	require.JSONEq(t, string(sources), string(entry.Sources))

	// 每次命中累加计数
	_, err = cache.Get(ctx, hash)
	require.NoError(t, err)
	var stored CacheEntry
	require.NoError(t, db.Where("question_hash = ?", hash).First(&stored).Error)
	require.Equal(t, 2, stored.HitCount)
}

func TestCacheGetMiss(t *testing.T) {
	db := setupCacheTestDB(t)
	cache := NewResponseCache(db, time.Hour, zap.NewNop())

	_, err := cache.Get(context.Background(), HashQuestion("never asked", "", ""))
	require.ErrorIs(t, err, ErrCacheMiss)
}

func TestCacheExpiredEntryMisses(t *testing.T) {
	db := setupCacheTestDB(t)
	cache := NewResponseCache(db, time.Hour, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "q", "10", "Science", "a", "en", nil))
	hash := HashQuestion("q", "10", "Science")

	// 手动把过期时间拨回过去
	require.NoError(t, db.Model(&CacheEntry{}).
		Where("question_hash = ?", hash).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error)

	_, err := cache.Get(ctx, hash)
	require.ErrorIs(t, err, ErrCacheMiss)
}

func TestCacheInvalidateKeepsRow(t *testing.T) {
	db := setupCacheTestDB(t)
	cache := NewResponseCache(db, time.Hour, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "q", "10", "Science", "wrong answer", "en", nil))
	hash := HashQuestion("q", "10", "Science")

	flipped, err := cache.Invalidate(ctx, hash)
	require.NoError(t, err)
	require.True(t, flipped)

	// 失效后不再命中，但记录仍在
	_, err = cache.Get(ctx, hash)
	require.ErrorIs(t, err, ErrCacheMiss)
	var count int64
	require.NoError(t, db.Model(&CacheEntry{}).Where("question_hash = ?", hash).Count(&count).Error)
	require.EqualValues(t, 1, count)

	// 不存在的键返回 false
	flipped, err = cache.Invalidate(ctx, HashQuestion("missing", "", ""))
	require.NoError(t, err)
	require.False(t, flipped)
}

func TestCachePutUpsertResetsEntry(t *testing.T) {
	db := setupCacheTestDB(t)
	cache := NewResponseCache(db, time.Hour, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "q", "10", "Science", "old", "en", nil))
	hash := HashQuestion("q", "10", "Science")

	_, err := cache.Get(ctx, hash)
	require.NoError(t, err)
	_, err = cache.Invalidate(ctx, hash)
	require.NoError(t, err)

	// 重新回答后整条替换，命中计数与有效性复位
	require.NoError(t, cache.Put(ctx, "q", "10", "Science", "new", "en", nil))

	entry, err := cache.Get(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, "new", entry.Answer)
	require.Equal(t, 0, entry.HitCount)
	require.True(t, entry.IsValid)

	var count int64
	require.NoError(t, db.Model(&CacheEntry{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestCacheSweep(t *testing.T) {
	db := setupCacheTestDB(t)
	cache := NewResponseCache(db, time.Hour, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "fresh", "10", "Science", "a", "en", nil))
	require.NoError(t, cache.Put(ctx, "stale", "10", "Science", "a", "en", nil))
	require.NoError(t, db.Model(&CacheEntry{}).
		Where("question_hash = ?", HashQuestion("stale", "10", "Science")).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error)

	removed, err := cache.Sweep(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var count int64
	require.NoError(t, db.Model(&CacheEntry{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestCacheStats(t *testing.T) {
	db := setupCacheTestDB(t)
	cache := NewResponseCache(db, time.Hour, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "a", "10", "Science", "x", "en", nil))
	require.NoError(t, cache.Put(ctx, "b", "10", "Science", "y", "en", nil))
	_, err := cache.Get(ctx, HashQuestion("a", "10", "Science"))
	require.NoError(t, err)
	_, err = cache.Invalidate(ctx, HashQuestion("b", "10", "Science"))
	require.NoError(t, err)

	stats, err := cache.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.TotalEntries)
	require.EqualValues(t, 1, stats.ValidEntries)
	require.EqualValues(t, 1, stats.TotalHits)
}
