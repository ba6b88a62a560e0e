// Package migrations 内嵌文档库的 SQL 迁移脚本。
//
// 文件名形如 NNNN_name.sql 的脚本对所有方言生效，NNNN_name.<dialect>.sql
// 只对对应方言（mysql、sqlite）生效。同一版本号下方言脚本与通用脚本按文件名排序执行。
package migrations

import (
	"bufio"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

//go:embed *.sql
var files embed.FS

// Migration 是一份待执行的迁移脚本。
type Migration struct {
	Version    int
	Name       string
	Checksum   string
	Statements []string
}

// VersionString 返回写入 schema_migrations 的版本号，保留四位补零。
func (m Migration) VersionString() string {
	return fmt.Sprintf("%04d", m.Version)
}

// Load 返回适用于 dialect 的迁移，按版本号升序排列。
func Load(dialect string) ([]Migration, error) {
	return load(files, dialect)
}

func load(fsys fs.FS, dialect string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录失败: %w", err)
	}

	var out []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, target, err := parseName(name)
		if err != nil {
			return nil, err
		}
		if target != "" && target != dialect {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		statements := Split(string(content))
		if len(statements) == 0 {
			continue
		}
		sum := sha256.Sum256(content)
		out = append(out, Migration{
			Version:    version,
			Name:       name,
			Checksum:   hex.EncodeToString(sum[:]),
			Statements: statements,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Version != out[j].Version {
			return out[i].Version < out[j].Version
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// parseName 解析 "0002_index_documents.sqlite.sql" 形式的文件名。
func parseName(name string) (int, string, error) {
	base := strings.TrimSuffix(name, ".sql")
	prefix, rest, ok := strings.Cut(base, "_")
	if !ok {
		return 0, "", fmt.Errorf("迁移文件名缺少版本前缀: %s", name)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("迁移文件版本号非法: %s", name)
	}
	var dialect string
	if dot := strings.LastIndexByte(rest, '.'); dot >= 0 {
		dialect = rest[dot+1:]
	}
	return version, dialect, nil
}

// Split 按分号切分脚本，忽略整行的 "--" 注释与空语句。
func Split(content string) []string {
	var (
		statements []string
		current    strings.Builder
	)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for {
			before, after, found := strings.Cut(line, ";")
			current.WriteString(before)
			if !found {
				current.WriteByte('\n')
				break
			}
			flush()
			line = after
		}
	}
	flush()
	return statements
}
