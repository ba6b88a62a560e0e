package messaging

import (
	"context"
	"sync"

	xerrors "StoryAI/internal/errors"
)

// Handler 处理发往某个智能体的信封，返回值作为回复负载，nil 表示无需回复。
type Handler interface {
	HandleMessage(ctx context.Context, env *Envelope) (Payload, error)
}

// HandlerFunc 允许普通函数作为 Handler。
type HandlerFunc func(ctx context.Context, env *Envelope) (Payload, error)

// HandleMessage 实现 Handler。
func (f HandlerFunc) HandleMessage(ctx context.Context, env *Envelope) (Payload, error) {
	return f(ctx, env)
}

// Router 按地址把信封分发给本进程内的智能体。
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRouter 创建空路由表。
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register 绑定地址与处理器，重复注册会覆盖旧值。
func (r *Router) Register(address string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[address] = handler
}

// Handler 返回地址对应的处理器。
func (r *Router) Handler(address string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[address]
	return h, ok
}

// Has 判断地址是否属于本地智能体。
func (r *Router) Has(address string) bool {
	_, ok := r.Handler(address)
	return ok
}

// Dispatch 校验信封后交给目标处理器。
func (r *Router) Dispatch(ctx context.Context, env *Envelope) (Payload, error) {
	if env == nil {
		return nil, xerrors.New(xerrors.CodeEnvelopeInvalid, "envelope is nil")
	}
	if err := env.Verify(); err != nil {
		return nil, err
	}
	handler, ok := r.Handler(env.Target)
	if !ok {
		return nil, xerrors.Messagef(xerrors.CodeNotFound, "no agent registered for %s", env.Target)
	}
	return handler.HandleMessage(ctx, env)
}
