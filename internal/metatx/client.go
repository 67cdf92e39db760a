package metatx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/chain"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// State 请求状态
type State int

const (
	StateBuilt State = iota
	StateSigned
	StateSubmitted
	StateConfirmed
	StateRejected
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateSigned:
		return "signed"
	case StateSubmitted:
		return "submitted"
	case StateConfirmed:
		return "confirmed"
	case StateRejected:
		return "rejected"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

var (
	ErrRelayRejected = errors.New("relay rejected")
	ErrInvalidState  = errors.New("invalid request state")
)

// RelayError relayer 拒绝或不可达。Expired 与 Rejected 可通过 State 区分。
type RelayError struct {
	State    State
	Code     string
	Category chain.Category
	Message  string
}

func (e *RelayError) Error() string {
	var b strings.Builder
	b.WriteString("relay ")
	b.WriteString(e.State.String())
	if e.Code != "" {
		b.WriteString(" [" + e.Code + "]")
	}
	if e.Category != "" && e.Category != chain.Unknown {
		b.WriteString(" " + string(e.Category) + ": " + e.Category.UserMessage())
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

func (e *RelayError) Unwrap() error { return ErrRelayRejected }

// Expired 截止时间已过，需要用新 nonce 重新构建
func (e *RelayError) Expired() bool { return e.State == StateExpired }

// Request 单个 meta-transaction 的生命周期
type Request struct {
	Forward   domain.ForwardRequest
	Signature []byte
	State     State
	TxHash    string
}

// Options 客户端配置
type Options struct {
	RelayerURL  string
	Domain      Domain
	Contracts   chain.Contracts
	Timeout     time.Duration
	DeadlineTTL time.Duration
}

// Client relayer 客户端；不持有任何可变的 nonce 状态
type Client struct {
	http        *resty.Client
	domain      Domain
	contracts   chain.Contracts
	deadlineTTL time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewClient 创建客户端
func NewClient(opts Options, logger *zap.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ttl := opts.DeadlineTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.RelayerURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:        httpClient,
		domain:      opts.Domain,
		contracts:   opts.Contracts,
		deadlineTTL: ttl,
		now:         time.Now,
		logger:      logger,
	}
}

// Domain 签名域
func (c *Client) Domain() Domain { return c.domain }

// GetNonce 从 relayer 取号（relayer 原子预留，不会重复发放）
func (c *Client) GetNonce(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	var out NonceResponse
	var errBody ErrorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errBody).
		Get("/nonce/" + url.PathEscape(address))
	if err != nil {
		return nil, &RelayError{State: StateBuilt, Code: CodeRelayerUnavailable, Category: chain.Unknown, Message: err.Error()}
	}
	if resp.IsError() {
		return nil, &RelayError{State: StateBuilt, Code: errBody.Code, Category: chain.Unknown, Message: errorMessage(errBody, resp)}
	}
	n, ok := ParseDecimal(out.Nonce)
	if !ok {
		return nil, fmt.Errorf("relayer returned malformed nonce %q", out.Nonce)
	}
	return n, nil
}

// Build 填充请求字段；nonce 每次实时获取
func (c *Client) Build(ctx context.Context, from common.Address, to common.Address, data []byte, gas uint64) (*Request, error) {
	nonce, err := c.GetNonce(ctx, from.Hex())
	if err != nil {
		return nil, err
	}
	deadline := c.now().Add(c.deadlineTTL).Unix()
	return &Request{
		Forward: domain.ForwardRequest{
			From:     from.Hex(),
			To:       to.Hex(),
			Value:    new(big.Int),
			Gas:      new(big.Int).SetUint64(gas),
			Nonce:    nonce,
			Deadline: big.NewInt(deadline),
			Data:     append([]byte{}, data...),
		},
		State: StateBuilt,
	}, nil
}

// Sign Built -> Signed
func (c *Client) Sign(req *Request, signer Signer) error {
	if req.State != StateBuilt {
		return fmt.Errorf("%w: sign in state %s", ErrInvalidState, req.State)
	}
	if signer.Address() != common.HexToAddress(req.Forward.From) {
		return fmt.Errorf("signer %s does not match request sender %s", signer.Address().Hex(), req.Forward.From)
	}
	sig, err := SignRequest(c.domain, req.Forward, signer)
	if err != nil {
		return &RelayError{State: StateBuilt, Category: chain.NormalizeMessage(err.Error()), Message: err.Error()}
	}
	req.Signature = sig
	req.State = StateSigned
	return nil
}

// Submit Signed -> Submitted -> {Confirmed | Rejected | Expired}
func (c *Client) Submit(ctx context.Context, req *Request) error {
	if req.State != StateSigned {
		return fmt.Errorf("%w: submit in state %s", ErrInvalidState, req.State)
	}
	body := RelayBody{Request: ToWire(req.Forward), Signature: hexutil.Encode(req.Signature)}
	req.State = StateSubmitted

	var out RelayResponse
	var errBody ErrorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&errBody).
		Post("/relay")
	if err != nil {
		return c.fail(req, &RelayError{Code: CodeRelayerUnavailable, Category: chain.Unknown, Message: err.Error()})
	}
	if resp.IsError() {
		return c.fail(req, &RelayError{
			Code:     errBody.Code,
			Category: relayCategory(errBody),
			Message:  errorMessage(errBody, resp),
		})
	}
	if out.TransactionHash == "" {
		return c.fail(req, &RelayError{Category: chain.Unknown, Message: "relayer returned no transaction hash"})
	}
	req.TxHash = out.TransactionHash
	req.State = StateConfirmed
	c.logger.Info("meta-transaction relayed",
		zap.String("from", req.Forward.From),
		zap.String("to", req.Forward.To),
		zap.String("nonce", req.Forward.Nonce.String()),
		zap.String("tx_hash", out.TransactionHash),
	)
	return nil
}

func (c *Client) fail(req *Request, re *RelayError) error {
	if re.Code == CodeExpired || (req.Forward.Deadline != nil && c.now().Unix() > req.Forward.Deadline.Int64()) {
		req.State = StateExpired
	} else {
		req.State = StateRejected
	}
	re.State = req.State
	c.logger.Warn("meta-transaction rejected",
		zap.String("from", req.Forward.From),
		zap.String("state", req.State.String()),
		zap.String("code", re.Code),
		zap.String("category", string(re.Category)),
		zap.String("message", re.Message),
	)
	return re
}

// Call 一次合约调用的参数
type Call struct {
	To   common.Address
	Data []byte
	Gas  uint64
}

// Execute Build -> Sign -> Submit
func (c *Client) Execute(ctx context.Context, signer Signer, call Call) (*Request, error) {
	req, err := c.Build(ctx, signer.Address(), call.To, call.Data, call.Gas)
	if err != nil {
		return nil, err
	}
	if err := c.Sign(req, signer); err != nil {
		return req, err
	}
	if err := c.Submit(ctx, req); err != nil {
		return req, err
	}
	return req, nil
}

func relayCategory(e ErrorResponse) chain.Category {
	if e.Category != "" {
		return chain.Category(e.Category)
	}
	if e.Code == CodeExecutionReverted {
		return chain.NormalizeMessage(e.Error)
	}
	return chain.Unknown
}

func errorMessage(e ErrorResponse, resp *resty.Response) string {
	if e.Error != "" {
		return e.Error
	}
	var generic map[string]interface{}
	if json.Unmarshal(resp.Body(), &generic) == nil {
		if msg, ok := generic["message"].(string); ok {
			return msg
		}
	}
	return fmt.Sprintf("relayer returned HTTP %d", resp.StatusCode())
}
