package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "StoryAI/internal/errors"
)

// RedisConfig 描述 Redis 会话存储的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisStore 以 JSON 形式把会话保存在 Redis 中，多个实例可以共享。
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore 连接 Redis 并返回会话存储。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewRedisStoreFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisStoreFromClient 复用已有的 Redis 客户端。
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "story:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) stageKey(userID string) string {
	return s.prefix + "stage:" + userID
}

func (s *RedisStore) conversationKey(userID string) string {
	return s.prefix + "conversation:" + userID
}

// Stage 返回用户当前阶段。
func (s *RedisStore) Stage(ctx context.Context, userID string) (string, bool, error) {
	stage, err := s.client.Get(ctx, s.stageKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话阶段失败")
	}
	return stage, true, nil
}

// SetStage 设置用户阶段。
func (s *RedisStore) SetStage(ctx context.Context, userID, stage string) error {
	if err := s.client.Set(ctx, s.stageKey(userID), stage, s.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话阶段失败")
	}
	return nil
}

// ClearStage 清除用户阶段。
func (s *RedisStore) ClearStage(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.stageKey(userID)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清除会话阶段失败")
	}
	return nil
}

// Conversation 读取治疗会话。
func (s *RedisStore) Conversation(ctx context.Context, userID string) (*Conversation, bool, error) {
	raw, err := s.client.Get(ctx, s.conversationKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取治疗会话失败")
	}
	var conv Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析治疗会话失败")
	}
	return &conv, true, nil
}

// SaveConversation 保存治疗会话。
func (s *RedisStore) SaveConversation(ctx context.Context, conv *Conversation) error {
	if conv == nil || conv.UserID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "conversation requires a user id")
	}
	raw, err := json.Marshal(conv)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化治疗会话失败")
	}
	if err := s.client.Set(ctx, s.conversationKey(conv.UserID), raw, s.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存治疗会话失败")
	}
	return nil
}

// DeleteConversation 删除治疗会话。
func (s *RedisStore) DeleteConversation(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.conversationKey(userID)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除治疗会话失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
