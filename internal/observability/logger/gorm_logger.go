package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	pkgdb "github.com/smallbiznis/clinicledger/pkg/db"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// SQLConfig configures the gorm logger.
type SQLConfig struct {
	// Level is one of silent, error, warn or info.
	Level         string
	SlowThreshold time.Duration
}

// SQLLogger routes gorm output through zap. Unique violations are logged at
// debug: the ledgers insert-if-absent and read them as replays.
type SQLLogger struct {
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func NewSQLLogger(cfg SQLConfig) *SQLLogger {
	return &SQLLogger{
		level:         parseSQLLevel(cfg.Level),
		slowThreshold: cfg.SlowThreshold,
	}
}

func parseSQLLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func (l *SQLLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *SQLLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, msg, data)
}

func (l *SQLLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, msg, data)
}

func (l *SQLLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, msg, data)
}

func (l *SQLLogger) message(ctx context.Context, level gormlogger.LogLevel, msg string, data []interface{}) {
	if l.level < level {
		return
	}
	log := FromContext(ctx).With(zap.String("component", "gorm"))
	var fields []zap.Field
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	switch level {
	case gormlogger.Error:
		log.Error(msg, fields...)
	case gormlogger.Warn:
		log.Warn(msg, fields...)
	default:
		log.Info(msg, fields...)
	}
}

func (l *SQLLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	level, ok := l.traceLevel(time.Since(begin), err)
	if !ok {
		return
	}
	ce := FromContext(ctx).Check(level, "gorm.query")
	if ce == nil {
		return
	}

	sql, rows := fc()
	op, table := statementShape(sql)
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("operation", op),
		zap.String("table", table),
		zap.Int64("duration_ms", time.Since(begin).Milliseconds()),
		zap.String("sql", strings.TrimSpace(sql)),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		if pkgdb.IsDuplicateKeyErr(err) {
			fields = append(fields, zap.String("constraint", pkgdb.ConstraintName(err)))
		}
	}
	ce.Write(fields...)
}

func (l *SQLLogger) traceLevel(elapsed time.Duration, err error) (zapcore.Level, bool) {
	if l.level <= gormlogger.Silent {
		return 0, false
	}
	switch {
	case errors.Is(err, gormlogger.ErrRecordNotFound), pkgdb.IsDuplicateKeyErr(err):
		return zapcore.DebugLevel, true
	case err != nil:
		return zapcore.ErrorLevel, l.level >= gormlogger.Error
	case l.slowThreshold > 0 && elapsed > l.slowThreshold:
		return zapcore.WarnLevel, l.level >= gormlogger.Warn
	default:
		return zapcore.DebugLevel, l.level >= gormlogger.Info
	}
}

// ParamsFilter drops bound values; they carry patient names and emails.
func (l *SQLLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

// statementShape returns the first DML verb in sql and the first table it
// names after FROM, INTO or UPDATE.
func statementShape(sql string) (op, table string) {
	tokens := strings.Fields(sql)
	for i := 0; i < len(tokens) && (op == "" || table == ""); i++ {
		word := strings.ToUpper(strings.Trim(tokens[i], "();"))
		switch word {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			if op == "" {
				op = word
			}
		}
		if table == "" && i+1 < len(tokens) && (word == "FROM" || word == "INTO" || word == "UPDATE") {
			table = strings.Trim(tokens[i+1], "`\"();")
		}
	}
	if op == "" {
		op = "UNKNOWN"
	}
	return op, table
}

var _ gormlogger.Interface = (*SQLLogger)(nil)
