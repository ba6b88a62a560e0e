package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "StoryAI/internal/errors"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 基于 Redis list 的可靠队列。消费时用 BLMOVE 把信封移入
// "<queue>:processing"，处理完成后再移除；进程崩溃遗留的信封在下次启动时回收。
// 列表元素是 redisItem，携带已重投次数。
type RedisQueue struct {
	client     *redis.Client
	queue      string
	processing string
	wait       time.Duration
}

type redisItem struct {
	Attempt int    `json:"attempt"`
	Body    []byte `json:"body"`
}

func encodeRedisItem(body []byte, attempt int) ([]byte, error) {
	raw, err := json.Marshal(redisItem{Attempt: attempt, Body: body})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "编码 Redis 队列元素失败")
	}
	return raw, nil
}

// decodeRedisItem 解析队列元素，无法解析时把整个元素当作首次投递的信封。
func decodeRedisItem(raw string) redisItem {
	var item redisItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil || item.Body == nil {
		return redisItem{Body: []byte(raw)}
	}
	return item
}

// NewRedisQueue 连接 Redis 并回收上次未完成的信封。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	q := NewRedisQueueFromClient(client, cfg.Queue, cfg.BlockWait)
	if _, err := q.Recover(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return q, nil
}

// NewRedisQueueFromClient 复用已有的 Redis 客户端。
func NewRedisQueueFromClient(client *redis.Client, queue string, wait time.Duration) *RedisQueue {
	if queue == "" {
		queue = "story:envelopes"
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, processing: queue + ":processing", wait: wait}
}

// Publish 将信封压入队列头部。
func (q *RedisQueue) Publish(ctx context.Context, message []byte) error {
	raw, err := encodeRedisItem(message, 0)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.queue, raw).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布消息失败")
	}
	return nil
}

// Recover 把 processing 列表中的遗留信封移回队列尾部，返回回收数量。
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.queue, "RIGHT", "RIGHT").Err()
		switch {
		case errors.Is(err, redis.Nil):
			return moved, nil
		case err != nil:
			return moved, xerrors.Wrap(xerrors.CodeQueueFailure, err, "回收 Redis 遗留信封失败")
		}
		moved++
	}
}

// Consume 以 workerCount 个协程消费队列。可重试的失败重新排到队尾，最多重投 maxRedeliveries 次。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler QueueHandler) error {
	return spawn(ctx, workerCount, func(ctx context.Context) error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := q.client.BLMove(ctx, q.queue, q.processing, "RIGHT", "LEFT", q.wait).Result()
			switch {
			case errors.Is(err, redis.Nil):
				continue
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return ctx.Err()
			case err != nil:
				return fmt.Errorf("Redis 取消息失败: %w", err)
			}
			item := decodeRedisItem(raw)
			if err := q.ack(ctx, raw, item, handler(ctx, item.Body)); err != nil {
				return err
			}
		}
	})
}

// ack 从 processing 中移除信封，需要重投时在同一事务内以递增的次数放回队列。
func (q *RedisQueue) ack(ctx context.Context, raw string, item redisItem, handled error) error {
	var requeue []byte
	if handled != nil && xerrors.RetryableError(handled) && item.Attempt < maxRedeliveries {
		encoded, err := encodeRedisItem(item.Body, item.Attempt+1)
		if err != nil {
			return err
		}
		requeue = encoded
	}

	ctx = context.WithoutCancel(ctx)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, raw)
		if requeue != nil {
			pipe.LPush(ctx, q.queue, requeue)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("Redis 确认消息失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
