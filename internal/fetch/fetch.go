package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/John-Robertt/mergesub/internal/model"
)

const stage = "fetch_sub"

// DefaultUserAgent is sent with every subscription request; several providers
// refuse clients that do not look like a browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

type Options struct {
	Timeout      time.Duration // default 10s
	MaxBytes     int64         // default 5 MiB
	MaxRedirects int           // default 5
	UserAgent    string        // default DefaultUserAgent

	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

func (o Options) withDefaults() Options {
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = 5 * 1024 * 1024
	}
	if o.MaxRedirects == 0 {
		o.MaxRedirects = 5
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Transport == nil {
		o.Transport = http.DefaultTransport
	}
	return o
}

type FetchError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Timeout reports whether the fetch failed because a deadline passed.
func (e *FetchError) Timeout() bool {
	return e != nil && e.AppError.Code == "FETCH_TIMEOUT"
}

var (
	errTooManyRedirects   = errors.New("too many redirects")
	errRedirectBadScheme  = errors.New("redirect target scheme is not http/https")
	errInvalidURLOrScheme = errors.New("invalid url or scheme")
)

// Fetcher retrieves the raw text of one subscription document.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// HTTPFetcher is the production Fetcher; its zero value uses the defaults.
type HTTPFetcher struct {
	Options Options
}

func (f HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	return FetchText(ctx, rawURL, f.Options)
}

// FetchText GETs rawURL and returns its body. Only a 2xx response with a
// body of at most MaxBytes succeeds; everything else is a *FetchError.
// Invalid UTF-8 sequences in the body are replaced with U+FFFD.
func FetchText(ctx context.Context, rawURL string, opt Options) (string, error) {
	opt = opt.withDefaults()
	if opt.MaxBytes < 0 {
		return "", newFetchError(http.StatusBadRequest, "INVALID_ARGUMENT", "响应大小上限必须大于 0", rawURL, nil)
	}

	u, err := url.Parse(rawURL)
	if err != nil || u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", newFetchError(http.StatusBadRequest, "INVALID_ARGUMENT", "仅允许 http/https URL", rawURL, errors.Join(errInvalidURLOrScheme, err))
	}

	client := &http.Client{
		Timeout:   opt.Timeout,
		Transport: opt.Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// 1st redirect => len(via)==1, 5th redirect => len(via)==5.
			if len(via) > opt.MaxRedirects {
				return errTooManyRedirects
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return errRedirectBadScheme
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", newFetchError(http.StatusBadRequest, "INVALID_ARGUMENT", "请求 URL 不合法", rawURL, err)
	}
	req.Header.Set("User-Agent", opt.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		switch {
		case errors.Is(err, errTooManyRedirects):
			return "", newFetchError(http.StatusBadGateway, "FETCH_FAILED", fmt.Sprintf("重定向次数超过上限（>%d）", opt.MaxRedirects), rawURL, err)
		case errors.Is(err, errRedirectBadScheme):
			return "", newFetchError(http.StatusBadRequest, "INVALID_ARGUMENT", "重定向目标仅允许 http/https", rawURL, err)
		case isTimeout(err):
			return "", newFetchError(http.StatusGatewayTimeout, "FETCH_TIMEOUT", "拉取远程资源超时", rawURL, err)
		default:
			return "", newFetchError(http.StatusBadGateway, "FETCH_FAILED", "拉取远程资源失败", rawURL, err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", newFetchError(http.StatusBadGateway, "FETCH_FAILED", fmt.Sprintf("上游返回非 2xx 状态码：%d", resp.StatusCode), rawURL, nil)
	}

	// Read at most MaxBytes+1 to detect overflow deterministically.
	body, err := io.ReadAll(io.LimitReader(resp.Body, opt.MaxBytes+1))
	if err != nil {
		if isTimeout(err) {
			return "", newFetchError(http.StatusGatewayTimeout, "FETCH_TIMEOUT", "拉取远程资源超时", rawURL, err)
		}
		return "", newFetchError(http.StatusBadGateway, "FETCH_FAILED", "读取上游响应失败", rawURL, err)
	}
	if int64(len(body)) > opt.MaxBytes {
		return "", newFetchError(http.StatusUnprocessableEntity, "TOO_LARGE", fmt.Sprintf("远程资源过大（>%d bytes）", opt.MaxBytes), rawURL, nil)
	}
	return strings.ToValidUTF8(string(body), "\uFFFD"), nil
}

// isTimeout sees through *url.Error wrapping.
func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func newFetchError(status int, code, message, rawURL string, cause error) *FetchError {
	return &FetchError{
		Status: status,
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   stage,
			URL:     rawURL,
		},
		Cause: cause,
	}
}
