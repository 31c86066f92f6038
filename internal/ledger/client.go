package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/scango-gate/internal/model"
)

// HTTPClient инкапсулирует HTTP-взаимодействие со шлюзом реестра.
type HTTPClient struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

type writeRequest struct {
	OrderHash string `json:"orderHash"`
}

type writeResponse struct {
	TxHash string `json:"txHash"`
}

type statusResponse struct {
	OrderHash string `json:"orderHash"`
	Status    string `json:"status"`
}

// NewHTTPClient создаёт клиент шлюза реестра по указанному адресу.
func NewHTTPClient(baseURL string, timeout time.Duration, retryMax int, logger *zap.Logger) *HTTPClient {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = timeout
	rc.RetryMax = retryMax
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if logger != nil {
		rc.Logger = &zapLeveledLogger{sugar: logger.Sugar()}
	} else {
		rc.Logger = nil
	}

	return &HTTPClient{
		baseURL:    base,
		httpClient: rc,
	}
}

// CreateOrder регистрирует заказ в реестре.
func (c *HTTPClient) CreateOrder(ctx context.Context, orderHash string) (string, error) {
	return c.write(ctx, "/orders", orderHash)
}

// MarkPaid записывает подтверждение оплаты.
func (c *HTTPClient) MarkPaid(ctx context.Context, orderHash string) (string, error) {
	return c.write(ctx, "/orders/"+url.PathEscape(orderHash)+"/paid", orderHash)
}

// MarkUsed записывает факт выхода по заказу.
func (c *HTTPClient) MarkUsed(ctx context.Context, orderHash string) (string, error) {
	return c.write(ctx, "/orders/"+url.PathEscape(orderHash)+"/used", orderHash)
}

// Status запрашивает статус заказа в реестре.
func (c *HTTPClient) Status(ctx context.Context, orderHash string) (model.OrderStatus, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orders/"+url.PathEscape(orderHash), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		return "", err
	}

	var result statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return model.OrderStatus(result.Status), nil
}

func (c *HTTPClient) write(ctx context.Context, path, orderHash string) (string, error) {
	body, err := json.Marshal(writeRequest{OrderHash: orderHash})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		return "", err
	}

	var result writeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if result.TxHash == "" {
		return "", fmt.Errorf("%w: empty transaction hash", ErrUnavailable)
	}

	return result.TxHash, nil
}

func statusError(code int) error {
	switch {
	case code == http.StatusOK || code == http.StatusCreated:
		return nil
	case code == http.StatusNotFound:
		return ErrUnknownOrder
	case code == http.StatusConflict:
		return ErrRejected
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrUnavailable, code)
	}
}

// zapLeveledLogger направляет диагностику повторов retryablehttp в zap.
type zapLeveledLogger struct {
	sugar *zap.SugaredLogger
}

func (l *zapLeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l *zapLeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *zapLeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *zapLeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

var (
	_ Client                      = (*HTTPClient)(nil)
	_ retryablehttp.LeveledLogger = (*zapLeveledLogger)(nil)
)
