package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "StoryAI/internal/errors"
)

const redeliveryHeader = "x-story-attempt"

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 使用 RabbitMQ 传递信封。发布共享一个 channel，
// 可重试的失败以递增的 x-story-attempt 头重新发布，超过 maxRedeliveries 后丢弃。
type RabbitMQQueue struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	durable bool

	publishMu sync.Mutex
	closed    chan *amqp.Error
}

// NewRabbitMQQueue 连接 RabbitMQ 并声明队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	q := &RabbitMQQueue{queue: cfg.Queue, durable: cfg.Durable}
	if q.queue == "" {
		q.queue = "story.envelopes"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	q.conn = conn
	if err := q.setup(cfg); err != nil {
		_ = conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "初始化 RabbitMQ 队列失败")
	}
	return q, nil
}

func (q *RabbitMQQueue) setup(cfg RabbitMQConfig) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("创建 channel: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("设置 QOS: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(q.queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("声明队列 %s: %w", q.queue, err)
	}
	q.ch = ch
	q.closed = ch.NotifyClose(make(chan *amqp.Error, 1))
	return nil
}

// Publish 将信封投递到 RabbitMQ。
func (q *RabbitMQQueue) Publish(ctx context.Context, message []byte) error {
	return q.publish(ctx, message, 0)
}

func (q *RabbitMQQueue) publish(ctx context.Context, message []byte, attempt int32) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	msg := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Body:        message,
		Headers:     amqp.Table{redeliveryHeader: attempt},
	}
	if q.durable {
		msg.DeliveryMode = amqp.Persistent
	}

	q.publishMu.Lock()
	defer q.publishMu.Unlock()
	if err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 发布消息失败")
	}
	return nil
}

// Consume 使用手动确认模式消费队列。channel 被服务端关闭时返回错误。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler QueueHandler) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	deliveries, err := q.ch.ConsumeWithContext(ctx, q.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
	}

	return spawn(ctx, workerCount, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case amqpErr, ok := <-q.closed:
				if !ok || amqpErr == nil {
					return nil
				}
				return xerrors.Wrap(xerrors.CodeQueueFailure, amqpErr, "RabbitMQ channel 已关闭")
			case d, ok := <-deliveries:
				if !ok {
					return nil
				}
				q.settle(ctx, d, handler(ctx, d.Body))
			}
		}
	})
}

// settle 确认投递；需要重投时先以新的尝试次数重新发布再确认原消息。
func (q *RabbitMQQueue) settle(ctx context.Context, d amqp.Delivery, handled error) {
	if handled != nil && xerrors.RetryableError(handled) {
		attempt := attemptOf(d.Headers) + 1
		if attempt <= maxRedeliveries {
			if err := q.publish(context.WithoutCancel(ctx), d.Body, attempt); err != nil {
				_ = d.Nack(false, true)
				return
			}
		}
	}
	_ = d.Ack(false)
}

func attemptOf(headers amqp.Table) int32 {
	switch v := headers[redeliveryHeader].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	default:
		return 0
	}
}

// Close 关闭 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
