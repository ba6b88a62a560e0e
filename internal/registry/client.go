package registry

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "StoryAI/internal/errors"
	"StoryAI/internal/identity"
	"StoryAI/internal/retry"
	"StoryAI/pkg/logger"
)

// ClientConfig 描述注册服务的连接参数。
type ClientConfig struct {
	Enabled      bool
	BaseURL      string
	APIKey       string
	SecondaryKey string
	Timeout      time.Duration
	RetryMax     int
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Registration 是一次智能体注册请求。
type Registration struct {
	Identity *identity.Identity
	Title    string
	Endpoint string
	Readme   string
}

// Client 向 Agentverse 风格的目录服务注册智能体。
type Client struct {
	enabled      bool
	baseURL      string
	apiKey       string
	secondaryKey string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewClient 创建注册客户端，HTTPClient 为空时使用带重试的客户端。
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Named("registry")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = retry.NewHTTPClient(retry.HTTPOptions{
			RetryMax: cfg.RetryMax,
			Timeout:  cfg.Timeout,
			Logger:   cfg.Logger,
		})
	}
	return &Client{
		enabled:      cfg.Enabled,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		secondaryKey: strings.TrimSpace(cfg.SecondaryKey),
		httpClient:   httpClient,
		logger:       cfg.Logger,
	}
}

type agentRequest struct {
	Address   string `json:"address"`
	Name      string `json:"name"`
	Endpoint  string `json:"endpoint"`
	AgentType string `json:"agent_type"`
	Signature string `json:"signature"`
}

type readmeRequest struct {
	Name     string `json:"name"`
	Readme   string `json:"readme"`
	Endpoint string `json:"endpoint"`
}

// Register 创建智能体并上传 README。注册未启用时直接返回 false。
func (c *Client) Register(ctx context.Context, reg Registration, useSecondary bool) (bool, error) {
	if c == nil || !c.enabled {
		return false, nil
	}
	if reg.Identity == nil {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "registration identity is nil")
	}
	key := c.apiKey
	if useSecondary {
		key = c.secondaryKey
	}
	if key == "" {
		return false, xerrors.New(xerrors.CodeRegistrationFailure, "Missing Agentverse API key")
	}

	address := reg.Identity.Address()
	sig, err := reg.Identity.Sign(identity.Digest([]byte(address), []byte(reg.Endpoint)))
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeRegistrationFailure, err, "sign registration")
	}

	create := agentRequest{
		Address:   address,
		Name:      reg.Title,
		Endpoint:  reg.Endpoint,
		AgentType: "custom",
		Signature: hex.EncodeToString(sig),
	}
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/agents", key, create, http.StatusConflict); err != nil {
		return false, err
	}

	update := readmeRequest{Name: reg.Title, Readme: reg.Readme, Endpoint: reg.Endpoint}
	if err := c.do(ctx, http.MethodPut, c.baseURL+"/v1/agents/"+url.PathEscape(address), key, update); err != nil {
		return false, err
	}

	logger.Audit().Info("智能体注册成功",
		slog.String("title", reg.Title),
		slog.String("address", address),
		slog.String("endpoint", reg.Endpoint),
	)
	return true, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, key string, body any, accepted ...int) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeRegistrationFailure, err, "encode registration")
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeRegistrationFailure, err, "build registration request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeRegistrationFailure, err, method+" "+endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	for _, code := range accepted {
		if resp.StatusCode == code {
			return nil
		}
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return xerrors.New(xerrors.CodeRegistrationFailure,
		fmt.Sprintf("%s %s returned %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(detail))),
		xerrors.WithDetail("status", fmt.Sprint(resp.StatusCode)),
	)
}
