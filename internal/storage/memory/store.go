package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"StoryAI/internal/models"
	"StoryAI/internal/storage"
)

const journalFile = "journals.log"

// maxRecords 限制每类文档在内存中保留的数量。
const maxRecords = 1024

// Store 使用内存保存文档，可选地将日记以 JSON Lines 追加到本地文件。
type Store struct {
	mu        sync.RWMutex
	dataFile  string
	journals  []models.JournalAnalysis
	exercises map[string]models.Exercises
	sessions  []models.TherapySession
	plans     []models.WorkflowPlan
}

// Option 调整内存存储行为。
type Option func(*Store) error

// WithJournalPersistence 将日记追加写入 dataDir 下的日志文件，并在启动时恢复。
func WithJournalPersistence(dataDir string) Option {
	return func(s *Store) error {
		if dataDir == "" {
			dataDir = "."
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("创建数据目录失败: %w", err)
		}
		s.dataFile = filepath.Join(dataDir, journalFile)
		return s.loadFromDisk()
	}
}

// New 创建内存文档存储。
func New(opts ...Option) (*Store, error) {
	s := &Store{exercises: make(map[string]models.Exercises)}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SaveJournal 保存一次日记分析，返回生成的文档 ID。
func (s *Store) SaveJournal(_ context.Context, analysis models.JournalAnalysis) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if analysis.ID == "" {
		analysis.ID = uuid.NewString()
	}
	if analysis.JournalEntry.Timestamp.IsZero() {
		analysis.JournalEntry.Timestamp = time.Now().UTC()
	}

	if s.dataFile != "" {
		if err := s.appendToDisk(analysis); err != nil {
			return "", err
		}
	}

	s.journals = prepend(s.journals, analysis)
	return analysis.ID, nil
}

// ListJournals 返回用户最近的日记，按时间倒序。
func (s *Store) ListJournals(_ context.Context, userID string, limit int) ([]models.JournalAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = storage.NormalizeLimit(limit)
	results := make([]models.JournalAnalysis, 0, limit)
	for _, item := range s.journals {
		if item.JournalEntry.UserID != userID {
			continue
		}
		results = append(results, item)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// SaveExercises 覆盖写入用户练习并刷新更新时间。
func (s *Store) SaveExercises(_ context.Context, userID string, exercises models.Exercises) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	exercises.LastUpdated = &now
	s.exercises[userID] = exercises
	return nil
}

// GetExercises 返回用户当前练习，不存在时返回 storage.ErrNotFound。
func (s *Store) GetExercises(_ context.Context, userID string) (*models.Exercises, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exercises, ok := s.exercises[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if exercises.LastUpdated != nil {
		ts := *exercises.LastUpdated
		exercises.LastUpdated = &ts
	}
	return &exercises, nil
}

// SaveTherapySession 保存结束的治疗会话。
func (s *Store) SaveTherapySession(_ context.Context, session models.TherapySession) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.Messages = append([]models.TherapyMessage(nil), session.Messages...)
	s.sessions = prepend(s.sessions, session)
	return session.ID, nil
}

// SaveWorkflowPlan 保存工作流规划。
func (s *Store) SaveWorkflowPlan(_ context.Context, plan models.WorkflowPlan) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	s.plans = prepend(s.plans, plan)
	return plan.ID, nil
}

// ListWorkflowPlans 返回用户最近的工作流规划。
func (s *Store) ListWorkflowPlans(_ context.Context, userID string, limit int) ([]models.WorkflowPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = storage.NormalizeLimit(limit)
	results := make([]models.WorkflowPlan, 0, limit)
	for _, plan := range s.plans {
		if plan.UserID != userID {
			continue
		}
		results = append(results, plan)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// Close 无需释放资源。
func (s *Store) Close() error { return nil }

func (s *Store) appendToDisk(analysis models.JournalAnalysis) error {
	file, err := os.OpenFile(s.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开日记日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("序列化日记失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入日记日志失败: %w", err)
	}
	return nil
}

func (s *Store) loadFromDisk() error {
	file, err := os.OpenFile(s.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取日记日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var restored []models.JournalAnalysis
	for scanner.Scan() {
		var record models.JournalAnalysis
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = prepend(restored, record)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析日记日志失败: %w", err)
	}
	s.journals = restored
	return nil
}

func prepend[T any](items []T, item T) []T {
	items = append([]T{item}, items...)
	if len(items) > maxRecords {
		items = items[:maxRecords]
	}
	return items
}
