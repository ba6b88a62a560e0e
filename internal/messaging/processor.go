package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	xerrors "StoryAI/internal/errors"
)

// Processor 从队列消费信封并交给 Bus 分发。单条信封的 panic 被转换为错误，
// 不会终止消费协程。
type Processor struct {
	bus         *Bus
	consumer    Consumer
	workerCount int
	logger      *slog.Logger

	handled atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// ProcessorStats 是处理计数的快照。
type ProcessorStats struct {
	Handled int64
	Failed  int64
	Dropped int64
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		p.workerCount = max(workers, 1)
	}
}

// NewProcessor 构造 Processor，未指定日志时沿用 bus 的日志。
func NewProcessor(bus *Bus, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{bus: bus, consumer: consumer, workerCount: 1}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil && bus != nil {
		p.logger = bus.logger
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// Start 阻塞消费，直到 ctx 结束或队列失效。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.bus == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置消息消费者")
	}
	p.logger.Info("开始消费信封", "workers", p.workerCount)
	err := p.consumer.Consume(ctx, p.workerCount, p.handle)
	stats := p.Stats()
	p.logger.Info("停止消费信封",
		"handled", stats.Handled, "failed", stats.Failed, "dropped", stats.Dropped)
	return err
}

// Stats 返回当前计数。
func (p *Processor) Stats() ProcessorStats {
	return ProcessorStats{
		Handled: p.handled.Load(),
		Failed:  p.failed.Load(),
		Dropped: p.dropped.Load(),
	}
}

func (p *Processor) handle(ctx context.Context, message []byte) (err error) {
	env, err := ParseEnvelope(message)
	if err != nil {
		p.dropped.Add(1)
		p.logger.Warn("丢弃无法解析的信封", "error", err, "bytes", len(message))
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("处理信封时 panic: %v", r))
		}
		if err != nil {
			p.failed.Add(1)
			p.logger.Log(ctx, xerrors.LogLevel(err), "处理信封失败",
				"error", err, "sender", env.Sender, "target", env.Target, "schema", env.Schema)
			return
		}
		p.handled.Add(1)
	}()

	_, err = p.bus.Handle(ctx, env)
	return err
}
