package metatx

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// relayer HTTP 协议。所有大整数都以十进制字符串传输。

// WireRequest POST /relay 中的 request
type WireRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Gas      string `json:"gas"`
	Nonce    string `json:"nonce"`
	Deadline string `json:"deadline"`
	Data     string `json:"data"`
}

// RelayBody POST /relay 请求体
type RelayBody struct {
	Request   WireRequest `json:"request"`
	Signature string      `json:"signature"`
}

// RelayResponse POST /relay 成功响应
type RelayResponse struct {
	TransactionHash string `json:"transactionHash"`
}

// NonceResponse GET /nonce/{address} 响应
type NonceResponse struct {
	Nonce string `json:"nonce"`
}

// ErrorResponse relayer 非 2xx 响应
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Category string `json:"category,omitempty"`
}

// relayer 错误码
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeExpired            = "EXPIRED"
	CodeInvalidSignature   = "INVALID_SIGNATURE"
	CodeGasLimit           = "GAS_LIMIT"
	CodeTargetNotAllowed   = "TARGET_NOT_ALLOWED"
	CodeNonceConflict      = "NONCE_CONFLICT"
	CodeExecutionReverted  = "EXECUTION_REVERTED"
	CodeRelayerUnavailable = "RELAYER_UNAVAILABLE"
)

// ToWire 序列化为十进制字符串形式
func ToWire(req domain.ForwardRequest) WireRequest {
	return WireRequest{
		From:     req.From,
		To:       req.To,
		Value:    bigOrZero(req.Value).String(),
		Gas:      bigOrZero(req.Gas).String(),
		Nonce:    bigOrZero(req.Nonce).String(),
		Deadline: bigOrZero(req.Deadline).String(),
		Data:     hexutil.Encode(req.Data),
	}
}

// FromWire 解析十进制字符串；任何字段非法都返回错误
func FromWire(w WireRequest) (domain.ForwardRequest, error) {
	req := domain.ForwardRequest{From: w.From, To: w.To}
	fields := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"value", w.Value, &req.Value},
		{"gas", w.Gas, &req.Gas},
		{"nonce", w.Nonce, &req.Nonce},
		{"deadline", w.Deadline, &req.Deadline},
	}
	for _, f := range fields {
		v, ok := ParseDecimal(f.raw)
		if !ok {
			return req, fmt.Errorf("%s must be a non-negative decimal string, got %q", f.name, f.raw)
		}
		*f.dst = v
	}
	data := w.Data
	if data == "" {
		data = "0x"
	}
	b, err := hexutil.Decode(data)
	if err != nil {
		return req, fmt.Errorf("data must be 0x-prefixed hex: %w", err)
	}
	req.Data = b
	return req, nil
}

// ParseDecimal 只接受非负十进制
func ParseDecimal(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil, false
		}
	}
	return new(big.Int).SetString(s, 10)
}
