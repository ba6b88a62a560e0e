package messaging

import (
	"context"
	"sync"

	xerrors "StoryAI/internal/errors"
)

type memoryItem struct {
	body    []byte
	attempt int
}

// MemoryQueue 在进程内传递信封，可重试的失败最多重投 maxRedeliveries 次。
// 关闭后 Publish 立即失败，未消费的信封被丢弃。
type MemoryQueue struct {
	items     chan memoryItem
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue 创建容量为 size 的内存队列，size 非正时取 64。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{items: make(chan memoryItem, size), done: make(chan struct{})}
}

var errMemoryQueueClosed = xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")

// Publish 投递信封，队列满时阻塞直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Publish(ctx context.Context, message []byte) error {
	select {
	case <-q.done:
		return errMemoryQueueClosed
	default:
	}
	select {
	case q.items <- memoryItem{body: message}:
		return nil
	case <-q.done:
		return errMemoryQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len 返回当前积压的信封数量。
func (q *MemoryQueue) Len() int {
	return len(q.items)
}

// Consume 以 workerCount 个协程消费队列，直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler QueueHandler) error {
	return spawn(ctx, workerCount, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.done:
				return nil
			case item := <-q.items:
				q.deliver(ctx, item, handler)
			}
		}
	})
}

func (q *MemoryQueue) deliver(ctx context.Context, item memoryItem, handler QueueHandler) {
	err := handler(ctx, item.body)
	if err == nil || !xerrors.RetryableError(err) || item.attempt >= maxRedeliveries {
		return
	}
	item.attempt++
	// 重投不阻塞消费协程，队列已满或已关闭时直接放弃。
	select {
	case <-q.done:
	case q.items <- item:
	default:
	}
}

// Close 关闭队列，之后的 Publish 返回 QUEUE_FAILURE。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
