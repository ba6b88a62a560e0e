package messaging

import (
	"context"
)

// QueueHandler 处理来自消息队列的序列化信封。返回可重试错误时队列会重新投递。
type QueueHandler func(ctx context.Context, message []byte) error

// Producer 负责向队列投递信封。
type Producer interface {
	Publish(ctx context.Context, message []byte) error
	Close() error
}

// Consumer 负责从队列中消费信封，阻塞直到 ctx 结束或底层连接失效。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler QueueHandler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// maxRedeliveries 限制同一信封因可重试错误被重投的次数。
const maxRedeliveries = 3

// spawn 启动 n 个协程运行 loop。任一协程返回错误时取消其余协程，
// 返回第一个错误；全部正常退出时返回 nil。
func spawn(ctx context.Context, n int, loop func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n = max(n, 1)
	errs := make(chan error, n)
	for range n {
		go func() { errs <- loop(ctx) }()
	}

	var first error
	for range n {
		if err := <-errs; err != nil && first == nil {
			first = err
			cancel()
		}
	}
	return first
}
