package storage

import (
	"context"

	xerrors "StoryAI/internal/errors"
	"StoryAI/internal/models"
)

// DefaultListLimit 是列表查询未指定数量时的默认条数。
const DefaultListLimit = 5

// ErrNotFound 表示请求的文档不存在，可通过 errors.Is 判断。
var ErrNotFound = xerrors.New(xerrors.CodeNotFound, "document not found")

// Store 抽象按用户划分的文档存储。
type Store interface {
	SaveJournal(ctx context.Context, analysis models.JournalAnalysis) (string, error)
	ListJournals(ctx context.Context, userID string, limit int) ([]models.JournalAnalysis, error)

	SaveExercises(ctx context.Context, userID string, exercises models.Exercises) error
	GetExercises(ctx context.Context, userID string) (*models.Exercises, error)

	SaveTherapySession(ctx context.Context, session models.TherapySession) (string, error)

	SaveWorkflowPlan(ctx context.Context, plan models.WorkflowPlan) (string, error)
	ListWorkflowPlans(ctx context.Context, userID string, limit int) ([]models.WorkflowPlan, error)

	Close() error
}

// NormalizeLimit 将非正数的 limit 替换为默认值。
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
