package rpcrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-escrow/internal/obslog"
)

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// Upstream forwards JSON-RPC calls to the node provider. The provider key
// stays server side.
type Upstream struct {
	url     string
	http    *fasthttp.Client
	headers HeaderProvider
	allowed map[string]struct{}
	logger  *zap.Logger

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Upstream)

func WithTimeout(d time.Duration) Option {
	return func(u *Upstream) { u.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(u *Upstream) { u.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(u *Upstream) { u.headers = h }
}

func WithRetry(max int) Option {
	return func(u *Upstream) { u.retryMax = max }
}

// WithAPIKey appends the provider key as the last path segment.
func WithAPIKey(key string) Option {
	return func(u *Upstream) {
		if k := strings.TrimSpace(key); k != "" {
			u.url = u.url + "/" + k
		}
	}
}

// WithAllowedMethods restricts which methods may pass through.
func WithAllowedMethods(methods ...string) Option {
	return func(u *Upstream) {
		u.allowed = make(map[string]struct{}, len(methods))
		for _, m := range methods {
			u.allowed[strings.TrimSpace(m)] = struct{}{}
		}
	}
}

func WithLogger(l *zap.Logger) Option { return func(u *Upstream) { u.logger = l } }

// DefaultMethods is what the browser needs for reads and raw submissions.
var DefaultMethods = []string{
	"eth_chainId", "net_version", "eth_blockNumber", "eth_call", "eth_estimateGas",
	"eth_gasPrice", "eth_maxPriorityFeePerGas", "eth_feeHistory", "eth_getBalance",
	"eth_getCode", "eth_getTransactionCount", "eth_getTransactionByHash",
	"eth_getTransactionReceipt", "eth_getBlockByNumber", "eth_getLogs",
	"eth_sendRawTransaction",
}

func NewUpstream(url string, opts ...Option) *Upstream {
	u := &Upstream{
		url:            strings.TrimRight(strings.TrimSpace(url), "/"),
		http:           &fasthttp.Client{ReadTimeout: 15 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 15 * time.Second,
		retryMax:       3,
	}
	WithAllowedMethods(DefaultMethods...)(u)
	for _, opt := range opts {
		opt(u)
	}
	u.logger = obslog.Or(u.logger, "rpcrelay")
	return u
}

// Forward validates a browser envelope and returns the upstream body
// unchanged. Failures come back as a JSON-RPC error envelope together with a
// non-nil error so callers can log them.
func (u *Upstream) Forward(ctx context.Context, body []byte) ([]byte, error) {
	reqs, batch, rerr := parseBody(body)
	if rerr != nil {
		return ErrorEnvelope(nil, rerr.Code, rerr.Message), rerr
	}
	for _, r := range reqs {
		if !u.permitted(r.Method) {
			e := &RPCError{Code: CodeMethodDenied, Message: "method not allowed: " + r.Method}
			return ErrorEnvelope(r.ID, e.Code, e.Message), e
		}
	}

	var payload []byte
	var err error
	if batch {
		payload, err = json.Marshal(reqs)
	} else {
		payload, err = json.Marshal(reqs[0])
	}
	if err != nil {
		return ErrorEnvelope(reqs[0].ID, CodeUpstream, "encode request"), err
	}

	// only idempotent reads are retried
	retry := true
	for _, r := range reqs {
		if r.Method == "eth_sendRawTransaction" {
			retry = false
		}
	}
	out, err := u.do(ctx, payload, retry)
	if err != nil {
		u.logger.Warn("rpc_relay_error", zap.String("method", reqs[0].Method), zap.Int("calls", len(reqs)), zap.Error(err))
		return ErrorEnvelope(reqs[0].ID, CodeUpstream, "upstream unavailable"), err
	}
	return out, nil
}

// Call runs one method and decodes its result into out.
func (u *Upstream) Call(ctx context.Context, out any, method string, params ...any) error {
	if params == nil {
		params = []any{}
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	payload, err := json.Marshal(Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: method, Params: rawParams})
	if err != nil {
		return err
	}
	body, err := u.do(ctx, payload, true)
	if err != nil {
		return err
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

func (u *Upstream) permitted(method string) bool {
	if len(u.allowed) == 0 {
		return true
	}
	_, ok := u.allowed[method]
	return ok
}

func (u *Upstream) do(ctx context.Context, payload []byte, retry bool) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(u.url)
	req.Header.SetContentType("application/json")
	if u.headers != nil {
		for k, v := range u.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	req.SetBody(payload)

	attempts := 1
	if retry && u.retryMax > 1 {
		attempts = u.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := u.http.DoDeadline(req, resp, u.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return nil, lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return nil, lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("upstream error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if attempt == attempts || !shouldRetryStatus(status) {
				return nil, lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return nil, lastErr
			}
			continue
		}

		out := make([]byte, len(resp.Body()))
		copy(out, resp.Body())
		return out, nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return nil, lastErr
}

func (u *Upstream) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(u.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
