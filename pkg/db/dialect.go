package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/clinicledger/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Dialect picks the gorm dialector. Only postgres and sqlite are supported: the
// repositories rely on INSERT ... ON CONFLICT and partial unique indexes.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	switch cfg.DBType {
	case "postgres":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost,
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBName,
			cfg.DBPort,
			cfg.DBSSLMode,
		)), nil
	case "sqlite":
		name := cfg.DBName
		if name == "" {
			name = "clinicledger.db"
		}
		sep := "?"
		if strings.Contains(name, "?") {
			sep = "&"
		}
		return sqlite.Open(name + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.DBType)
	}
}

// StripRowLocks drops FOR UPDATE clauses from raw SQL on sqlite, which has no
// row locks and serializes writers instead.
func StripRowLocks(conn *gorm.DB) {
	strip := func(tx *gorm.DB) {
		sql := tx.Statement.SQL.String()
		if !strings.Contains(sql, "FOR UPDATE") {
			return
		}
		sql = strings.ReplaceAll(sql, " FOR UPDATE SKIP LOCKED", "")
		sql = strings.ReplaceAll(sql, " FOR UPDATE", "")
		tx.Statement.SQL.Reset()
		tx.Statement.SQL.WriteString(sql)
	}
	_ = conn.Callback().Query().Before("gorm:query").Register("db:strip_for_update", strip)
	_ = conn.Callback().Row().Before("gorm:row").Register("db:strip_for_update_row", strip)
	_ = conn.Callback().Raw().Before("gorm:raw").Register("db:strip_for_update_raw", strip)
}
