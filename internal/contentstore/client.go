// Package contentstore 内容寻址存储客户端：上传加密信封（POST /pin），按 contentId 取回（GET /ipfs/{cid}）。
// 不做自动重试；ErrStoreUnavailable 可由调用方退避重试。
package contentstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var (
	ErrStoreUnavailable = errors.New("content store unavailable")
	ErrStoreRejected    = errors.New("content store rejected payload")
	ErrNotFound         = errors.New("content not found")
)

// IsRetryable 只有 ErrStoreUnavailable 可重试
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// Options 客户端配置
type Options struct {
	BaseURL          string
	GatewayURL       string // 为空时与 BaseURL 相同
	Token            string // Bearer token（可选）
	Timeout          time.Duration
	MaxEnvelopeBytes int
}

// PinRequest POST /pin 请求体
type PinRequest struct {
	Content domain.EncryptedEnvelope `json:"content"`
	Name    string                   `json:"name"`
	Tags    map[string]string        `json:"tags"`
}

// PinResponse POST /pin 成功响应
type PinResponse struct {
	ContentID string `json:"contentId"`
	Timestamp string `json:"timestamp"`
}

type errorBody struct {
	Error string `json:"error"`
}

// UploadResult 上传结果；同样的内容再次上传可能得到新的 ContentID，调用方需自行记录
type UploadResult struct {
	ContentID       string
	RemoteTimestamp string
}

// Client 内容存储客户端
type Client struct {
	api      *resty.Client
	gateway  *resty.Client
	maxBytes int
	logger   *zap.Logger
}

// NewClient 创建客户端
func NewClient(opts Options, logger *zap.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	gatewayURL := opts.GatewayURL
	if gatewayURL == "" {
		gatewayURL = opts.BaseURL
	}
	newResty := func(base string) *resty.Client {
		c := resty.New().
			SetBaseURL(strings.TrimSuffix(base, "/")).
			SetTimeout(timeout).
			SetRetryCount(0).
			SetHeader("Accept", "application/json")
		if opts.Token != "" {
			c.SetAuthToken(opts.Token)
		}
		return c
	}
	return &Client{
		api:      newResty(opts.BaseURL),
		gateway:  newResty(gatewayURL),
		maxBytes: opts.MaxEnvelopeBytes,
		logger:   logger,
	}
}

// Upload 上传加密信封
func (c *Client) Upload(ctx context.Context, env domain.EncryptedEnvelope, name string, tags map[string]string) (*UploadResult, error) {
	body, err := json.Marshal(PinRequest{Content: env, Name: name, Tags: tags})
	if err != nil {
		return nil, fmt.Errorf("%w: encode envelope: %v", ErrStoreRejected, err)
	}
	if c.maxBytes > 0 && len(body) > c.maxBytes {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds limit %d", ErrStoreRejected, len(body), c.maxBytes)
	}

	var out PinResponse
	resp, err := c.api.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/pin")
	if err != nil {
		c.logger.Warn("content store upload failed", zap.String("name", name), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !resp.IsSuccess() {
		err := classify(resp.StatusCode(), resp.Body(), false)
		c.logger.Warn("content store rejected upload",
			zap.String("name", name),
			zap.Int("status_code", resp.StatusCode()),
			zap.Error(err),
		)
		return nil, err
	}
	if out.ContentID == "" {
		return nil, fmt.Errorf("%w: response missing contentId", ErrStoreUnavailable)
	}

	c.logger.Info("envelope pinned",
		zap.String("content_id", out.ContentID),
		zap.String("name", name),
		zap.Int("bytes", len(body)),
	)
	return &UploadResult{ContentID: out.ContentID, RemoteTimestamp: out.Timestamp}, nil
}

// Fetch 取回信封原始字节
func (c *Client) Fetch(ctx context.Context, contentID string) ([]byte, error) {
	if strings.TrimSpace(contentID) == "" {
		return nil, fmt.Errorf("%w: empty content id", ErrNotFound)
	}
	resp, err := c.gateway.R().
		SetContext(ctx).
		Get("/ipfs/" + url.PathEscape(contentID))
	if err != nil {
		c.logger.Warn("content store fetch failed", zap.String("content_id", contentID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !resp.IsSuccess() {
		return nil, classify(resp.StatusCode(), resp.Body(), true)
	}
	return resp.Body(), nil
}

// FetchEnvelope Fetch + JSON 解码
func (c *Client) FetchEnvelope(ctx context.Context, contentID string) (domain.EncryptedEnvelope, error) {
	var env domain.EncryptedEnvelope
	raw, err := c.Fetch(ctx, contentID)
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: content %s is not an envelope: %v", ErrNotFound, contentID, err)
	}
	return env, nil
}

func classify(status int, body []byte, fetch bool) error {
	msg := http.StatusText(status)
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}

	switch {
	case fetch && (status == http.StatusNotFound || status == http.StatusGone || status == http.StatusBadRequest):
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case !fetch && (status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge || status == http.StatusUnprocessableEntity):
		return fmt.Errorf("%w: %s", ErrStoreRejected, msg)
	default:
		// 401/403/408/429/5xx 以及其它未知状态
		return fmt.Errorf("%w: status %d: %s", ErrStoreUnavailable, status, msg)
	}
}
