package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const (
	// DriverMySQL 使用 go-sql-driver/mysql。
	DriverMySQL = "mysql"
	// DriverSQLite 使用纯 Go 实现的 modernc.org/sqlite。
	DriverSQLite = "sqlite"
)

// Config 描述 SQL 文档存储的连接参数。
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func openDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	driver := dialectOf(cfg.Driver)
	dsn := strings.TrimSpace(cfg.DSN)
	switch {
	case driver == "":
		return nil, fmt.Errorf("不支持的存储驱动: %q", cfg.Driver)
	case dsn == "":
		return nil, fmt.Errorf("%s DSN 不能为空", driver)
	case driver == DriverSQLite:
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", driver, err)
	}

	db.SetMaxOpenConns(positive(cfg.MaxOpenConns, 20))
	db.SetMaxIdleConns(positive(cfg.MaxIdleConns, 10))
	db.SetConnMaxLifetime(positive(cfg.ConnMaxLifetime, 30*time.Minute))
	db.SetConnMaxIdleTime(positive(cfg.ConnMaxIdleTime, 5*time.Minute))

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 %s: %w", driver, err)
	}
	return db, nil
}

// dialectOf 把配置中的驱动名归一化为 mysql 或 sqlite，不支持时返回空串。
func dialectOf(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverMySQL:
		return DriverMySQL
	case DriverSQLite, "sqlite3":
		return DriverSQLite
	default:
		return ""
	}
}

func positive[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}

// sqliteDSN 为裸文件路径补充 WAL 与 busy timeout 参数。
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") || dsn == ":memory:" {
		return dsn
	}
	return dsn + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
}
