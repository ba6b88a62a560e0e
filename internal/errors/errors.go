package errors

import (
	stdErrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
)

// Code 是 Story.AI 内部统一的错误码。
type Code string

// Severity 决定错误写入日志时的级别。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
	CodeLLMFailure            Code = "LLM_FAILURE"
	CodeEnvelopeInvalid       Code = "ENVELOPE_INVALID"
	CodeAgentNotConfigured    Code = "AGENT_NOT_CONFIGURED"
	CodeRegistrationFailure   Code = "REGISTRATION_FAILURE"
)

// traits 是错误码的固定语义：默认文案、日志级别、是否值得重投以及对外的 HTTP 状态码。
type traits struct {
	message   string
	severity  Severity
	retryable bool
	status    int
}

var catalog = map[Code]traits{
	CodeUnknown:               {"unknown error", SeverityCritical, false, http.StatusInternalServerError},
	CodeInvalidArgument:       {"invalid argument", SeverityInfo, false, http.StatusBadRequest},
	CodeNotFound:              {"resource not found", SeverityInfo, false, http.StatusNotFound},
	CodeInitializationFailure: {"service not initialized", SeverityWarning, true, http.StatusServiceUnavailable},
	CodeStorageFailure:        {"storage failure", SeverityCritical, true, http.StatusInternalServerError},
	CodeQueueFailure:          {"queue failure", SeverityCritical, true, http.StatusServiceUnavailable},
	CodeTimeout:               {"operation timed out", SeverityWarning, true, http.StatusGatewayTimeout},
	CodeLLMFailure:            {"language model call failed", SeverityWarning, true, http.StatusBadGateway},
	CodeEnvelopeInvalid:       {"invalid agent envelope", SeverityWarning, false, http.StatusBadRequest},
	CodeAgentNotConfigured:    {"agent address not configured", SeverityWarning, false, http.StatusServiceUnavailable},
	CodeRegistrationFailure:   {"agent registration failed", SeverityWarning, true, http.StatusBadGateway},
}

func traitsOf(code Code) traits {
	if t, ok := catalog[code]; ok {
		return t
	}
	return catalog[CodeUnknown]
}

// DefaultMessage 返回错误码的默认文案。
func DefaultMessage(code Code) string {
	return traitsOf(code).message
}

// Error 携带错误码、面向调用方的文案以及可选的底层原因。
type Error struct {
	code      Code
	message   string
	cause     error
	details   map[string]string
	retryable *bool
}

// Option 调整新建错误的附加信息。
type Option func(*Error)

// WithDetail 附加一条排查用的键值，会随日志一起输出。
func WithDetail(key, value string) Option {
	return func(e *Error) {
		if e.details == nil {
			e.details = make(map[string]string)
		}
		e.details[key] = value
	}
}

// WithRetryable 覆盖错误码默认的重投语义。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// New 创建错误，message 为空时使用错误码的默认文案。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = DefaultMessage(code)
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 用错误码包裹 cause。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Messagef 以格式化文案创建错误，常用于参数校验。
func Messagef(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码比较，使 errors.Is(err, New(code, "")) 可用。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if e == nil || !ok || t == nil {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含错误码与原因的文案。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Details 返回附加信息的副本。
func (e *Error) Details() map[string]string {
	if e == nil || len(e.details) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.details))
	for k, v := range e.details {
		out[k] = v
	}
	return out
}

// Retryable 判断消息是否值得重新投递。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return traitsOf(e.code).retryable
}

// Severity 返回错误码对应的严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return traitsOf(e.code).severity
}

// LogValue 让 slog.Any("error", err) 输出结构化的错误码、文案与附加信息。
func (e *Error) LogValue() slog.Value {
	if e == nil {
		return slog.StringValue("")
	}
	attrs := []slog.Attr{
		slog.String("code", string(e.code)),
		slog.String("message", e.message),
	}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	keys := make([]string, 0, len(e.details))
	for k := range e.details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, e.details[k]))
	}
	return slog.GroupValue(attrs...)
}

// From 从错误链中取出 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err == nil || !stdErrors.As(err, &target) {
		return nil, false
	}
	return target, true
}

// CodeOf 返回错误链中的错误码，普通错误为 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断任意错误是否值得重新投递。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// LogLevel 把错误的严重程度映射为 slog 级别。
func LogLevel(err error) slog.Level {
	severity := traitsOf(CodeUnknown).severity
	if e, ok := From(err); ok {
		severity = e.Severity()
	}
	switch severity {
	case SeverityCritical:
		return slog.LevelError
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// HTTPStatus 返回错误对应的 HTTP 状态码。
func HTTPStatus(err error) int {
	return traitsOf(CodeOf(err)).status
}
