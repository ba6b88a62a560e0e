package session

import (
	"context"
	"sync"

	xerrors "StoryAI/internal/errors"
)

// MemoryStore 使用受互斥锁保护的 map 保存会话。
type MemoryStore struct {
	mu            sync.RWMutex
	stages        map[string]string
	conversations map[string]*Conversation
}

// NewMemoryStore 创建内存会话存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stages:        make(map[string]string),
		conversations: make(map[string]*Conversation),
	}
}

// Stage 返回用户当前阶段。
func (s *MemoryStore) Stage(_ context.Context, userID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stage, ok := s.stages[userID]
	return stage, ok, nil
}

// SetStage 设置用户阶段。
func (s *MemoryStore) SetStage(_ context.Context, userID, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[userID] = stage
	return nil
}

// ClearStage 清除用户阶段。
func (s *MemoryStore) ClearStage(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stages, userID)
	return nil
}

// Conversation 返回会话副本，调用方修改后需 SaveConversation。
func (s *MemoryStore) Conversation(_ context.Context, userID string) (*Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[userID]
	if !ok {
		return nil, false, nil
	}
	return cloneConversation(conv), true, nil
}

// SaveConversation 保存会话。
func (s *MemoryStore) SaveConversation(_ context.Context, conv *Conversation) error {
	if conv == nil || conv.UserID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "conversation requires a user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.UserID] = cloneConversation(conv)
	return nil
}

// DeleteConversation 删除会话。
func (s *MemoryStore) DeleteConversation(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, userID)
	return nil
}

// Close 实现 Store。
func (s *MemoryStore) Close() error { return nil }

func cloneConversation(conv *Conversation) *Conversation {
	out := *conv
	out.Messages = append(out.Messages[:0:0], conv.Messages...)
	out.History = append(out.History[:0:0], conv.History...)
	return &out
}

var _ Store = (*MemoryStore)(nil)
