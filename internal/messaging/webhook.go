package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	xerrors "StoryAI/internal/errors"
	"StoryAI/internal/retry"
)

// WebhookTransport 通过 HTTP POST 把信封送到目标智能体的 webhook。
type WebhookTransport struct {
	client *http.Client
}

// NewWebhookTransport 创建带重试的 webhook 发送器。
func NewWebhookTransport(timeout time.Duration, retries int, logger *slog.Logger) *WebhookTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookTransport{client: retry.NewHTTPClient(retry.HTTPOptions{
		RetryMax: retries,
		Timeout:  timeout,
		Logger:   logger,
	})}
}

// NewWebhookTransportWithClient 使用调用方提供的 http.Client，主要用于测试。
func NewWebhookTransportWithClient(client *http.Client) *WebhookTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookTransport{client: client}
}

// Post 发送信封并返回对方的 JSON 状态体。
func (t *WebhookTransport) Post(ctx context.Context, endpoint string, env *Envelope) (Payload, error) {
	body, err := env.Encode()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEnvelopeInvalid, err, "encode envelope")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, fmt.Sprintf("post envelope to %s", endpoint))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "read webhook response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, xerrors.Messagef(xerrors.CodeQueueFailure, "webhook %s returned %d: %s", endpoint, resp.StatusCode, bytes.TrimSpace(raw))
	}

	status := Payload{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &status); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeEnvelopeInvalid, err, "decode webhook response")
		}
	}
	return status, nil
}
