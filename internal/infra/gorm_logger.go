package infra

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	gormLogger "gorm.io/gorm/logger"
)

// QueryLogger 把 GORM 的日志接到 Zap 上。
// 问答链路里缓存表和历史表的查询很频繁，普通 SQL 压到 Debug 级，
// 只有慢查询和执行错误才会出现在默认日志里
type QueryLogger struct {
	base          *zap.Logger
	level         gormLogger.LogLevel
	slowQueryOver time.Duration
	skipNotFound  bool
}

// NewQueryLogger 创建 GORM 日志适配器
// slowQueryOver 为 0 时不记录慢查询
func NewQueryLogger(base *zap.Logger, level gormLogger.LogLevel, slowQueryOver time.Duration) *QueryLogger {
	return &QueryLogger{
		base:          base,
		level:         level,
		slowQueryOver: slowQueryOver,
		skipNotFound:  true,
	}
}

// LogMode 返回指定级别的副本
func (l *QueryLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *QueryLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Info {
		l.base.Sugar().Infof(msg, data...)
	}
}

func (l *QueryLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Warn {
		l.base.Sugar().Warnf(msg, data...)
	}
}

func (l *QueryLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Error {
		l.base.Sugar().Errorf(msg, data...)
	}
}

// Trace 记录单条 SQL 的执行情况
func (l *QueryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormLogger.Silent {
		return
	}

	cost := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Duration("cost", cost),
	}

	switch {
	case err != nil && !(l.skipNotFound && errors.Is(err, gormLogger.ErrRecordNotFound)):
		l.base.Error("查询执行出错", append(fields, zap.Error(err))...)
	case l.slowQueryOver > 0 && cost > l.slowQueryOver:
		l.base.Warn("检测到慢查询", append(fields, zap.Duration("threshold", l.slowQueryOver))...)
	case l.level >= gormLogger.Info:
		l.base.Debug("查询完成", fields...)
	}
}
