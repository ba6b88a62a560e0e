package sqldb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"StoryAI/deploy/migrations"
)

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(128) NOT NULL PRIMARY KEY,
        checksum VARCHAR(64) NOT NULL,
        applied_at BIGINT NOT NULL
)`

// loadMigrations 允许测试替换迁移来源。
var loadMigrations = migrations.Load

// runMigrations 依次执行尚未应用的迁移。已应用迁移的脚本内容若被修改则拒绝启动。
func (s *Store) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}

	applied, err := s.appliedChecksums(ctx)
	if err != nil {
		return err
	}
	pending, err := loadMigrations(s.dialect)
	if err != nil {
		return err
	}

	for _, m := range pending {
		version := strings.TrimSuffix(m.Name, ".sql")
		if checksum, ok := applied[version]; ok {
			if checksum != m.Checksum {
				return fmt.Errorf("迁移 %s 在应用后被修改", m.Name)
			}
			continue
		}
		if err := s.apply(ctx, version, m); err != nil {
			return err
		}
		s.logger.Info("已应用数据库迁移", "version", m.VersionString(), "file", m.Name, "dialect", s.dialect)
	}
	return nil
}

func (s *Store) appliedChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("查询 schema_migrations 失败: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("解析 schema_migrations 失败: %w", err)
		}
		applied[version] = checksum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 schema_migrations 失败: %w", err)
	}
	return applied, nil
}

func (s *Store) apply(ctx context.Context, version string, m migrations.Migration) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range m.Statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("执行迁移 %s 第 %d 条语句失败: %w", m.Name, i+1, err)
		}
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, checksum, applied_at) VALUES (?, ?, ?)`,
		version, m.Checksum, time.Now().Unix()); err != nil {
		return fmt.Errorf("记录迁移版本失败: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移事务失败: %w", err)
	}
	return nil
}
