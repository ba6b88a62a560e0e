package retry

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultRetryWaitMin = 500 * time.Millisecond
	defaultRetryWaitMax = 5 * time.Second
)

// HTTPOptions 控制重试次数与退避区间。
type HTTPOptions struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
}

// NewHTTPClient 返回带重试能力的标准 http.Client。
func NewHTTPClient(opts HTTPOptions) *http.Client {
	client := &http.Client{Timeout: opts.Timeout, CheckRedirect: checkRedirect}
	if opts.RetryMax <= 0 {
		return client
	}
	retryWaitMin := opts.RetryWaitMin
	if retryWaitMin == 0 {
		retryWaitMin = defaultRetryWaitMin
	}
	retryWaitMax := opts.RetryWaitMax
	if retryWaitMax == 0 {
		retryWaitMax = defaultRetryWaitMax
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = client
	retryClient.CheckRetry = checkRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = retryWaitMin
	retryClient.RetryWaitMax = retryWaitMax
	if opts.Logger != nil {
		retryClient.Logger = opts.Logger
	} else {
		retryClient.Logger = nil
	}
	return retryClient.StandardClient()
}

var (
	maxRedirects   = 10
	errTooManyHops = fmt.Errorf("stopped after %d redirects", maxRedirects)
)

func checkRedirect(_ *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errTooManyHops
	}
	return nil
}

// checkRetry 只在网络抖动、429 与 5xx 时重试，证书与重定向错误直接失败。
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		if errors.Is(err, errTooManyHops) {
			return false, nil
		}
		var certError *x509.CertificateInvalidError
		if errors.As(err, &certError) {
			return false, nil
		}
		var caError *x509.UnknownAuthorityError
		if errors.As(err, &caError) {
			return false, nil
		}
		return true, nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return true, nil
	}
	if resp.StatusCode == 0 || (resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented) {
		return true, nil
	}
	return false, nil
}
