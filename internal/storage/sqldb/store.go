package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "StoryAI/internal/errors"
	"StoryAI/internal/models"
	"StoryAI/internal/storage"
	"StoryAI/pkg/logger"
)

// Store 将文档以 JSON 文本形式保存到 MySQL 或 SQLite。
type Store struct {
	db      *sql.DB
	dialect string
	logger  *slog.Logger
	audit   *slog.Logger
}

// Open 建立连接池并执行内置迁移。
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "打开文档数据库失败")
	}
	s := newStore(db)
	s.dialect = dialectOf(cfg.Driver)
	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "执行数据库迁移失败")
	}
	return s, nil
}

func newStore(db *sql.DB) *Store {
	return &Store{db: db, logger: logger.Named("storage"), audit: logger.Audit()}
}

// SaveJournal 写入一次日记分析。
func (s *Store) SaveJournal(ctx context.Context, analysis models.JournalAnalysis) (string, error) {
	if analysis.ID == "" {
		analysis.ID = uuid.NewString()
	}
	if analysis.JournalEntry.Timestamp.IsZero() {
		analysis.JournalEntry.Timestamp = time.Now().UTC()
	}
	document, err := json.Marshal(analysis)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化日记失败")
	}

	const stmt = `INSERT INTO journal_entries
        (id, user_id, content, sentiment_label, dominant_emotion, document, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		analysis.ID,
		analysis.JournalEntry.UserID,
		analysis.JournalEntry.Content,
		analysis.SentimentAnalysis.Label,
		analysis.EmotionAnalysis.DominantEmotion,
		string(document),
		analysis.JournalEntry.Timestamp.UnixMilli(),
	); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入日记失败")
	}
	s.audit.Info("document stored", "collection", "journal_entries", "id", analysis.ID, "user_id", analysis.JournalEntry.UserID)
	return analysis.ID, nil
}

// ListJournals 按时间倒序返回用户最近的日记。
func (s *Store) ListJournals(ctx context.Context, userID string, limit int) ([]models.JournalAnalysis, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM journal_entries
        WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, storage.NormalizeLimit(limit))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询日记失败")
	}
	return scanDocuments[models.JournalAnalysis](rows)
}

// SaveExercises 在事务中插入或更新用户练习。
func (s *Store) SaveExercises(ctx context.Context, userID string, exercises models.Exercises) error {
	now := time.Now().UTC()
	exercises.LastUpdated = &now
	document, err := json.Marshal(exercises)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化练习失败")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM user_exercises WHERE user_id = ?`, userID).Scan(&existing)
	switch {
	case stdErrors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `INSERT INTO user_exercises (user_id, document, last_updated) VALUES (?, ?, ?)`,
			userID, string(document), now.UnixMilli())
	case err == nil:
		_, err = tx.ExecContext(ctx, `UPDATE user_exercises SET document = ?, last_updated = ? WHERE user_id = ?`,
			string(document), now.UnixMilli(), userID)
	}
	if err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入练习失败")
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交练习失败")
	}
	s.audit.Info("document stored", "collection", "user_exercises", "user_id", userID)
	return nil
}

// GetExercises 读取用户练习，不存在时返回 storage.ErrNotFound。
func (s *Store) GetExercises(ctx context.Context, userID string) (*models.Exercises, error) {
	var (
		document    string
		lastUpdated int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT document, last_updated FROM user_exercises WHERE user_id = ?`, userID).
		Scan(&document, &lastUpdated)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询练习失败")
	}

	var exercises models.Exercises
	if err := json.Unmarshal([]byte(document), &exercises); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析练习失败")
	}
	if exercises.LastUpdated == nil && lastUpdated > 0 {
		ts := time.UnixMilli(lastUpdated).UTC()
		exercises.LastUpdated = &ts
	}
	return &exercises, nil
}

// SaveTherapySession 写入结束的治疗会话。
func (s *Store) SaveTherapySession(ctx context.Context, session models.TherapySession) (string, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Timestamp.IsZero() {
		session.Timestamp = time.Now().UTC()
	}
	document, err := json.Marshal(session)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化治疗会话失败")
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO therapy_sessions
        (id, user_id, summary, document, created_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.SessionSummary, string(document), session.Timestamp.UnixMilli(),
	); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入治疗会话失败")
	}
	s.audit.Info("document stored", "collection", "therapy_sessions", "id", session.ID, "user_id", session.UserID)
	return session.ID, nil
}

// SaveWorkflowPlan 写入工作流规划。
func (s *Store) SaveWorkflowPlan(ctx context.Context, plan models.WorkflowPlan) (string, error) {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.Timestamp.IsZero() {
		plan.Timestamp = time.Now().UTC()
	}
	document, err := json.Marshal(plan)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化工作流规划失败")
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO workflow_plans
        (id, user_id, title, document, created_at) VALUES (?, ?, ?, ?, ?)`,
		plan.ID, plan.UserID, plan.Title, string(document), plan.Timestamp.UnixMilli(),
	); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入工作流规划失败")
	}
	s.audit.Info("document stored", "collection", "workflow_plans", "id", plan.ID, "user_id", plan.UserID)
	return plan.ID, nil
}

// ListWorkflowPlans 按时间倒序返回用户的工作流规划。
func (s *Store) ListWorkflowPlans(ctx context.Context, userID string, limit int) ([]models.WorkflowPlan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM workflow_plans
        WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, storage.NormalizeLimit(limit))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询工作流规划失败")
	}
	return scanDocuments[models.WorkflowPlan](rows)
}

// Close 关闭底层数据库连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanDocuments[T any](rows *sql.Rows) ([]T, error) {
	defer rows.Close()

	var results []T
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析文档失败")
		}
		var item T
		if err := json.Unmarshal([]byte(document), &item); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("解析文档内容失败: %.32s", document))
		}
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历文档失败")
	}
	return results, nil
}
