package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/errs"
	"github.com/JrMarcco/jremind/internal/pkg/metrics"
	"github.com/JrMarcco/jremind/internal/pkg/phone"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxRespBody = 64 << 10

var _ Client = (*HttpClient)(nil)

// HttpClient 基于 HTTP 的网关客户端实现
type HttpClient struct {
	client  *http.Client
	cfg     Config
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func (c *HttpClient) Send(ctx context.Context, msg domain.Message) (domain.DeliveryResult, error) {
	if err := msg.Validate(); err != nil {
		return domain.DeliveryResult{}, err
	}

	variants := phone.Variants(msg.Recipient)
	if len(variants) == 0 {
		return domain.DeliveryResult{}, fmt.Errorf(
			"%w: %w: %q", errs.ErrFormatRejected, errs.ErrInvalidAddress, msg.Recipient,
		)
	}

	var lastErr error
	transient := false
	for i, addr := range variants {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.DeliveryResult{}, err
		}

		res := c.sendOnce(ctx, addr, msg.Payload)
		c.metrics.GatewayRequests.WithLabelValues(res.outcome.String()).Inc()

		switch res.outcome {
		case outcomeAccepted:
			return domain.DeliveryResult{
				MessageId:  res.messageId,
				Address:    addr,
				StatusCode: res.statusCode,
				Attempts:   i + 1,
			}, nil
		case outcomeTerminal:
			return domain.DeliveryResult{}, fmt.Errorf("%w: address %s: %w", errs.ErrFormatRejected, addr, res.err)
		case outcomeTransient:
			transient = true
		}

		lastErr = res.err
		c.logger.Debug(
			"[jremind] gateway variant failed",
			zap.String("address", addr),
			zap.String("outcome", res.outcome.String()),
			zap.Int("status_code", res.statusCode),
			zap.Error(res.err),
		)

		// 调用方取消时不再尝试后续格式
		if ctx.Err() != nil {
			return domain.DeliveryResult{}, ctx.Err()
		}
	}

	if transient {
		return domain.DeliveryResult{}, fmt.Errorf("%w: all %d variants failed, last: %w", errs.ErrTransientDelivery, len(variants), lastErr)
	}
	return domain.DeliveryResult{}, fmt.Errorf("%w: all %d variants rejected, last: %w", errs.ErrFormatRejected, len(variants), lastErr)
}

func (c *HttpClient) sendOnce(ctx context.Context, addr string, body string) attemptResult {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(sendReq{To: addr, Body: body})
	if err != nil {
		return attemptResult{outcome: outcomeTerminal, err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL(), bytes.NewReader(data))
	if err != nil {
		return attemptResult{outcome: outcomeTerminal, err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.ApiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	c.metrics.GatewayLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return attemptResult{outcome: outcomeTransient, err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxRespBody))
	if err != nil {
		return attemptResult{outcome: outcomeTransient, statusCode: resp.StatusCode, err: err}
	}

	return classify(resp.StatusCode, respBody)
}

// classify 按状态码与响应体判定单次请求结果
func classify(statusCode int, body []byte) attemptResult {
	res := attemptResult{statusCode: statusCode}

	switch {
	case statusCode >= 200 && statusCode < 300:
		if id := ackId(body); id != "" {
			res.outcome = outcomeAccepted
			res.messageId = id
			return res
		}
		// 网关可能已接收，继续尝试其他格式会重复发送
		res.outcome = outcomeTerminal
		res.err = fmt.Errorf("gateway accepted without message id (status %d)", statusCode)
	case statusCode == http.StatusBadRequest:
		res.outcome = outcomeRejected
		res.err = fmt.Errorf("gateway rejected address (status 400): %s", snippet(body))
	case statusCode >= 500:
		res.outcome = outcomeTransient
		res.err = fmt.Errorf("gateway unavailable (status %d): %s", statusCode, snippet(body))
	default:
		res.outcome = outcomeTerminal
		res.err = fmt.Errorf("gateway refused request (status %d): %s", statusCode, snippet(body))
	}
	return res
}

// ackId 从响应体中读取回执 id，依次查找 id、messageId、message_id、key.id
func ackId(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	for _, field := range []string{"id", "messageId", "message_id"} {
		if id := stringify(payload[field]); id != "" {
			return id
		}
	}
	if key, ok := payload["key"].(map[string]any); ok {
		return stringify(key["id"])
	}
	return ""
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return ""
}

func snippet(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

func (c *HttpClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sendURL(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.cfg.ApiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrTransientDelivery, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxRespBody))
	_ = resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: gateway instance status %d", errs.ErrTransientDelivery, resp.StatusCode)
	}
	return nil
}

func (c *HttpClient) sendURL() string {
	return strings.TrimRight(c.cfg.Endpoint, "/") + "/" + c.cfg.Instance
}

func NewHttpClient(client *http.Client, cfg Config, metrics *metrics.Metrics, logger *zap.Logger) (*HttpClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("[jremind] gateway endpoint should not be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Rate
	}
	if client == nil {
		client = &http.Client{}
	}

	return &HttpClient{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		metrics: metrics,
		logger:  logger,
	}, nil
}
