package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"StoryAI/internal/analysis"
	xerrors "StoryAI/internal/errors"
	"StoryAI/internal/identity"
	"StoryAI/internal/knowledge"
	"StoryAI/internal/llm"
	"StoryAI/internal/messaging"
	"StoryAI/internal/registry"
	"StoryAI/internal/session"
	"StoryAI/internal/storage"
	"StoryAI/pkg/logger"
)

// 智能体名称，同时用于目录查找与 webhook 路径。
const (
	NameJournal   = "journal"
	NameExercise  = "exercise"
	NameGratitude = "gratitude"
	NameTherapy   = "therapy"
	NameGuide     = "guide"
	NameAssistant = "assistant"
	NameWorkflow  = "workflow"
)

// Agent 是所有智能体的公共能力。
type Agent interface {
	messaging.Handler
	Name() string
	Title() string
	Address() string
	Register(ctx context.Context) (bool, error)
}

// FallbackObserver 记录智能体降级为兜底结果的次数。
type FallbackObserver interface {
	ObserveFallback(agent, operation string)
}

// Base 持有智能体共用的依赖。各智能体通过嵌入 Base 获得签名、
// 大模型调用、消息转发与注册能力。
type Base struct {
	name       string
	id         *identity.Identity
	llm        llm.Client
	llmTimeout time.Duration
	logger     *slog.Logger

	bus       *messaging.Bus
	directory *registry.Directory
	store     storage.Store
	analyzer  analysis.Analyzer
	sessions  session.Store
	knowledge knowledge.Provider

	registrar *registry.Client
	spec      registry.AgentSpec
	endpoint  string

	fallbacks FallbackObserver
}

// Option 定义可选的智能体配置。
type Option func(*Base)

// WithLLMTimeout 设置单次大模型调用的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(b *Base) {
		if timeout <= 0 {
			b.llmTimeout = 0
			return
		}
		b.llmTimeout = timeout
	}
}

// WithBus 配置智能体之间的消息总线。
func WithBus(bus *messaging.Bus) Option {
	return func(b *Base) { b.bus = bus }
}

// WithDirectory 配置智能体目录，用于按名称查找地址。
func WithDirectory(dir *registry.Directory) Option {
	return func(b *Base) { b.directory = dir }
}

// WithStore 配置文档存储。
func WithStore(store storage.Store) Option {
	return func(b *Base) { b.store = store }
}

// WithAnalyzer 配置情感与情绪分析器。
func WithAnalyzer(a analysis.Analyzer) Option {
	return func(b *Base) { b.analyzer = a }
}

// WithSessions 配置会话存储。
func WithSessions(s session.Store) Option {
	return func(b *Base) { b.sessions = s }
}

// WithKnowledge 配置外部智能体检索。
func WithKnowledge(p knowledge.Provider) Option {
	return func(b *Base) { b.knowledge = p }
}

// WithRegistration 配置注册客户端、目录元数据与对外 webhook 地址。
func WithRegistration(client *registry.Client, spec registry.AgentSpec, endpoint string) Option {
	return func(b *Base) {
		b.registrar = client
		b.spec = spec
		b.endpoint = endpoint
	}
}

// WithLogger 替换默认日志。
func WithLogger(l *slog.Logger) Option {
	return func(b *Base) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithFallbackObserver 配置兜底指标。
func WithFallbackObserver(o FallbackObserver) Option {
	return func(b *Base) { b.fallbacks = o }
}

func newBase(name string, id *identity.Identity, client llm.Client, opts ...Option) Base {
	b := Base{
		name:   name,
		id:     id,
		llm:    client,
		logger: logger.Named(name),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&b)
		}
	}
	return b
}

// Name 返回智能体名称。
func (b *Base) Name() string { return b.name }

// Title 返回注册标题，未配置时使用名称。
func (b *Base) Title() string {
	if b.spec.Title != "" {
		return b.spec.Title
	}
	return b.name
}

// Address 返回智能体地址。
func (b *Base) Address() string {
	if b.id == nil {
		return ""
	}
	return b.id.Address()
}

// Sign 以智能体身份签名，满足 messaging.Signer。
func (b *Base) Sign(digest []byte) ([]byte, error) {
	if b.id == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "agent identity not configured")
	}
	return b.id.Sign(digest)
}

// Register 生成 README 并向目录服务注册，失败只返回 false 与错误，不影响服务启动。
func (b *Base) Register(ctx context.Context) (bool, error) {
	if b.registrar == nil {
		return false, nil
	}
	ok, err := b.registrar.Register(ctx, registry.Registration{
		Identity: b.id,
		Title:    b.Title(),
		Endpoint: b.endpoint,
		Readme:   b.spec.Readme(),
	}, b.spec.UseSecondaryKey)
	if err != nil {
		b.logger.Error("向目录服务注册失败", slog.String("title", b.Title()), slog.Any("error", err))
		return false, err
	}
	if ok {
		b.logger.Info("已向目录服务注册", slog.String("title", b.Title()), slog.String("address", b.Address()))
	}
	return ok, nil
}

func (b *Base) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.llmTimeout > 0 {
		return context.WithTimeout(ctx, b.llmTimeout)
	}
	return ctx, func() {}
}

// recoverProvider 把大模型客户端的 panic 转换为 LLM_FAILURE，调用方据此使用兜底结果。
func recoverProvider(err *error) {
	if r := recover(); r != nil {
		*err = xerrors.New(xerrors.CodeLLMFailure, fmt.Sprintf("llm client panic: %v", r))
	}
}

func (b *Base) generateText(ctx context.Context, prompt string, temperature float64) (_ string, err error) {
	defer recoverProvider(&err)
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	return llm.GenerateText(ctx, b.llm, prompt, temperature)
}

func (b *Base) generateStructured(ctx context.Context, prompt string, structure any, temperature float64) (_ any, err error) {
	defer recoverProvider(&err)
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	return llm.GenerateStructured(ctx, b.llm, prompt, structure, temperature)
}

func (b *Base) generateInto(ctx context.Context, prompt string, structure any, temperature float64, target any) error {
	value, err := b.generateStructured(ctx, prompt, structure, temperature)
	if err != nil {
		return err
	}
	return llm.DecodeInto(value, target)
}

func (b *Base) converse(ctx context.Context, req llm.Request) (_ string, err error) {
	defer recoverProvider(&err)
	if b.llm == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "llm client not configured")
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	resp, err := b.llm.Generate(ctx, req)
	if err != nil {
		if _, ok := xerrors.From(err); ok {
			return "", err
		}
		return "", llm.WrapProviderError(b.name, err)
	}
	if resp == nil {
		return "", xerrors.New(xerrors.CodeLLMFailure, "empty response")
	}
	return resp.Text, nil
}

// fallback 记录一次降级。
func (b *Base) fallback(operation string, err error) {
	b.logger.Log(context.Background(), xerrors.LogLevel(err), "调用失败，使用兜底结果",
		slog.String("operation", operation),
		slog.Any("error", err),
	)
	if b.fallbacks != nil {
		b.fallbacks.ObserveFallback(b.name, operation)
	}
}

func (b *Base) resolve(name string) (string, error) {
	if b.bus == nil || b.directory == nil {
		return "", xerrors.Messagef(xerrors.CodeAgentNotConfigured, "%s agent address not configured", name)
	}
	entry, ok := b.directory.Lookup(name)
	if !ok || entry.Address == "" {
		return "", xerrors.Messagef(xerrors.CodeAgentNotConfigured, "%s agent address not configured", name)
	}
	return entry.Address, nil
}

// forward 异步把载荷发送给目录中的另一个智能体。
func (b *Base) forward(ctx context.Context, target string, payload messaging.Payload) error {
	address, err := b.resolve(target)
	if err != nil {
		return err
	}
	if err := b.bus.Send(ctx, b, address, payload); err != nil {
		return err
	}
	b.logger.Info("已转发消息", slog.String("target", target), slog.String("address", address))
	return nil
}

// call 同步请求另一个智能体并返回其回复。
func (b *Base) call(ctx context.Context, target string, payload messaging.Payload) (messaging.Payload, error) {
	address, err := b.resolve(target)
	if err != nil {
		return nil, err
	}
	return b.bus.Call(ctx, b, address, payload)
}

// acknowledge 处理回复类信封：记录日志后不再回复。
func (b *Base) acknowledge(env *messaging.Envelope) bool {
	if env.Schema != messaging.SchemaReply {
		return false
	}
	payload, err := env.Message()
	if err != nil {
		b.logger.Warn("无法解析回复载荷", slog.String("sender", env.Sender), slog.Any("error", err))
		return true
	}
	b.logger.Info("收到回复", slog.String("sender", env.Sender), slog.Any("payload", payload))
	return true
}

// decode 解析请求载荷并检查必填字段。
func (b *Base) decode(env *messaging.Envelope, required ...string) (messaging.Payload, error) {
	payload, err := env.Message()
	if err != nil {
		return nil, err
	}
	b.logger.Info("收到消息", slog.String("sender", env.Sender), slog.Any("payload", payload))
	if missing, ok := payload.Require(required...); !ok {
		return nil, xerrors.Messagef(xerrors.CodeInvalidArgument, "Missing required fields: %s", missing)
	}
	return payload, nil
}
