package messaging

import (
	"context"
	"log/slog"
	"time"

	xerrors "StoryAI/internal/errors"
	"StoryAI/pkg/logger"
)

// Resolver 把远端智能体地址解析为 webhook 端点。
type Resolver interface {
	EndpointFor(address string) (string, bool)
}

// Observer 记录信封的收发情况。
type Observer interface {
	ObserveEnvelope(direction, schema, outcome string)
}

// Bus 负责构造、签名并投递智能体之间的信封。
//
// 本地地址优先走队列（配置了 Producer 时）或直接经 Router 分发，
// 其余地址通过 Resolver 找到 webhook 端点后 POST。启用 WithWebhookDelivery 后，
// 异步投递一律按端点 POST，本地地址也不例外。
type Bus struct {
	router     *Router
	producer   Producer
	webhook    *WebhookTransport
	resolver   Resolver
	viaWebhook bool
	ttl      time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer
}

// BusOption 定义可选配置。
type BusOption func(*Bus)

// WithProducer 使用队列异步投递本地消息。
func WithProducer(p Producer) BusOption {
	return func(b *Bus) { b.producer = p }
}

// WithWebhook 配置远端投递方式。
func WithWebhook(w *WebhookTransport, resolver Resolver) BusOption {
	return func(b *Bus) {
		b.webhook = w
		b.resolver = resolver
	}
}

// WithWebhookDelivery 让 Send 与 Reply 通过 webhook 端点投递，Call 仍在本地同步分发。
func WithWebhookDelivery() BusOption {
	return func(b *Bus) { b.viaWebhook = true }
}

// WithEnvelopeTTL 设置信封有效期。
func WithEnvelopeTTL(ttl time.Duration) BusOption {
	return func(b *Bus) { b.ttl = ttl }
}

// WithSendTimeout 设置异步发送的超时时间。
func WithSendTimeout(timeout time.Duration) BusOption {
	return func(b *Bus) {
		if timeout > 0 {
			b.timeout = timeout
		}
	}
}

// WithBusLogger 指定日志输出。
func WithBusLogger(l *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// WithObserver 配置指标采集。
func WithObserver(o Observer) BusOption {
	return func(b *Bus) { b.observer = o }
}

// NewBus 构造消息总线。
func NewBus(router *Router, opts ...BusOption) *Bus {
	b := &Bus{
		router:  router,
		ttl:     time.Hour,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.router == nil {
		b.router = NewRouter()
	}
	if b.logger == nil {
		b.logger = logger.Named("messaging")
	}
	return b
}

// Router 返回总线使用的路由表。
func (b *Bus) Router() *Router {
	return b.router
}

// Send 异步发送请求，不等待处理结果。
func (b *Bus) Send(ctx context.Context, from Signer, to string, payload Payload) error {
	env, err := b.seal(from, to, SchemaRequest, "", payload)
	if err != nil {
		return err
	}
	return b.deliver(ctx, env)
}

// Call 同步发送请求并返回对方的回复。
func (b *Bus) Call(ctx context.Context, from Signer, to string, payload Payload) (Payload, error) {
	env, err := b.seal(from, to, SchemaRequest, "", payload)
	if err != nil {
		return nil, err
	}
	if b.router.Has(to) {
		reply, err := b.router.Dispatch(ctx, env)
		b.observe("call", env.Schema, err)
		return reply, err
	}
	endpoint, ok := b.endpoint(to)
	if !ok {
		b.observe("call", env.Schema, errNoRoute)
		return nil, xerrors.Messagef(xerrors.CodeAgentNotConfigured, "no route to agent %s", to)
	}
	status, err := b.webhook.Post(ctx, endpoint, env)
	b.observe("call", env.Schema, err)
	return status, err
}

// Reply 以回复 schema 回应某个请求，沿用请求的会话 ID。
func (b *Bus) Reply(ctx context.Context, from Signer, request *Envelope, payload Payload) error {
	env, err := b.seal(from, request.Sender, SchemaReply, request.Session, payload)
	if err != nil {
		return err
	}
	return b.deliver(ctx, env)
}

// Handle 处理一个收到的信封：分发给本地智能体，并在需要时回复发送方。
func (b *Bus) Handle(ctx context.Context, env *Envelope) (Payload, error) {
	logger.Audit().Info("收到智能体消息",
		slog.String("sender", env.Sender),
		slog.String("target", env.Target),
		slog.String("schema", env.Schema),
		slog.String("session", env.Session),
	)
	reply, err := b.router.Dispatch(ctx, env)
	b.observe("inbound", env.Schema, err)
	if err != nil {
		return nil, err
	}
	if env.Schema != SchemaRequest || reply == nil {
		return reply, nil
	}
	handler, _ := b.router.Handler(env.Target)
	signer, ok := handler.(Signer)
	if !ok {
		b.logger.Debug("处理器不支持签名，跳过回复", slog.String("target", env.Target))
		return reply, nil
	}
	if err := b.Reply(ctx, signer, env, reply); err != nil {
		b.logger.Warn("回复智能体消息失败",
			slog.String("to", env.Sender),
			slog.Any("error", err),
		)
	}
	return reply, nil
}

func (b *Bus) seal(from Signer, to, schema, session string, payload Payload) (*Envelope, error) {
	if from == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "sender is nil")
	}
	if to == "" {
		return nil, xerrors.New(xerrors.CodeAgentNotConfigured, "")
	}
	env, err := NewEnvelope(from.Address(), to, schema, payload, b.ttl)
	if err != nil {
		return nil, err
	}
	if session != "" {
		env.Session = session
	}
	if err := env.Seal(from); err != nil {
		return nil, err
	}
	return env, nil
}

// deliver 异步投递：本地地址进入队列或后台分发，远端地址后台 POST。
func (b *Bus) deliver(ctx context.Context, env *Envelope) error {
	if b.viaWebhook {
		if endpoint, ok := b.endpoint(env.Target); ok {
			b.post(ctx, env, endpoint)
			return nil
		}
	}

	if b.router.Has(env.Target) {
		if b.producer != nil {
			raw, err := env.Encode()
			if err != nil {
				return xerrors.Wrap(xerrors.CodeEnvelopeInvalid, err, "encode envelope")
			}
			err = b.producer.Publish(ctx, raw)
			b.observe("outbound", env.Schema, err)
			return err
		}
		b.background(ctx, env, func(ctx context.Context) error {
			_, err := b.Handle(ctx, env)
			return err
		})
		return nil
	}

	endpoint, ok := b.endpoint(env.Target)
	if !ok {
		b.observe("outbound", env.Schema, errNoRoute)
		return xerrors.Messagef(xerrors.CodeAgentNotConfigured, "no route to agent %s", env.Target)
	}
	b.post(ctx, env, endpoint)
	return nil
}

func (b *Bus) post(ctx context.Context, env *Envelope, endpoint string) {
	b.background(ctx, env, func(ctx context.Context) error {
		_, err := b.webhook.Post(ctx, endpoint, env)
		b.observe("outbound", env.Schema, err)
		return err
	})
}

func (b *Bus) background(ctx context.Context, env *Envelope, fn func(context.Context) error) {
	detached := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(detached, b.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			b.logger.Log(ctx, xerrors.LogLevel(err), "投递智能体消息失败",
				slog.String("target", env.Target),
				slog.String("schema", env.Schema),
				slog.Any("error", err),
			)
		}
	}()
}

func (b *Bus) endpoint(address string) (string, bool) {
	if b.webhook == nil || b.resolver == nil {
		return "", false
	}
	return b.resolver.EndpointFor(address)
}

var errNoRoute = xerrors.New(xerrors.CodeAgentNotConfigured, "no route")

func (b *Bus) observe(direction, schema string, err error) {
	if b.observer == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	b.observer.ObserveEnvelope(direction, schema, outcome)
}
