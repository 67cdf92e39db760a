package relayer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/chain"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Executor 把已验证的 forward request 送上链
type Executor interface {
	// ForwarderNonce forwarder 合约上 from 的 nonce（pending 状态，包含已发送未出块的交易）
	ForwarderNonce(ctx context.Context, from common.Address) (uint64, error)
	Execute(ctx context.Context, req domain.ForwardRequest, signature []byte) (common.Hash, error)
}

// NonceMismatchError 链上 nonce 与请求不一致
type NonceMismatchError struct {
	Got      uint64
	Expected uint64
}

func (e *NonceMismatchError) Error() string {
	return fmt.Sprintf("forwarder nonce mismatch: request %d, chain %d", e.Got, e.Expected)
}

// executeOverhead forwarder 自身校验签名、读写 nonce 的开销
const executeOverhead = 60_000

// ForwarderExecutor 调用 ERC2771Forwarder.execute，gas 由 relayer 钱包支付
type ForwarderExecutor struct {
	backend    chain.Backend
	transactor *chain.Transactor
	forwarder  common.Address
	logger     *zap.Logger
}

func NewForwarderExecutor(backend chain.Backend, transactor *chain.Transactor, forwarder common.Address, logger *zap.Logger) *ForwarderExecutor {
	return &ForwarderExecutor{backend: backend, transactor: transactor, forwarder: forwarder, logger: logger}
}

var _ Executor = (*ForwarderExecutor)(nil)

func (e *ForwarderExecutor) ForwarderNonce(ctx context.Context, from common.Address) (uint64, error) {
	data, err := chain.ForwarderABI.Pack("nonces", from)
	if err != nil {
		return 0, err
	}
	raw, err := e.backend.PendingCallContract(ctx, ethereum.CallMsg{To: &e.forwarder, Data: data})
	if err != nil {
		return 0, err
	}
	out, err := chain.ForwarderABI.Unpack("nonces", raw)
	if err != nil {
		return 0, err
	}
	n, ok := out[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("unexpected nonces() result %v", out[0])
	}
	return n.Uint64(), nil
}

// forwardRequestData 对应 execute 的 tuple 参数（nonce 由合约自己读取）
type forwardRequestData struct {
	From      common.Address
	To        common.Address
	Value     *big.Int
	Gas       *big.Int
	Deadline  *big.Int
	Data      []byte
	Signature []byte
}

func (e *ForwarderExecutor) Execute(ctx context.Context, req domain.ForwardRequest, signature []byte) (common.Hash, error) {
	from := common.HexToAddress(req.From)
	calldata, err := chain.ForwarderABI.Pack("execute", forwardRequestData{
		From:      from,
		To:        common.HexToAddress(req.To),
		Value:     req.Value,
		Gas:       req.Gas,
		Deadline:  req.Deadline,
		Data:      req.Data,
		Signature: signature,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack execute: %w", err)
	}

	// 预执行和发送都基于 pending 状态：同一地址的上一笔交易可能还在 mempool
	msg := ethereum.CallMsg{From: e.transactor.From(), To: &e.forwarder, Value: req.Value, Data: calldata}
	if _, err := e.backend.PendingCallContract(ctx, msg); err != nil {
		return common.Hash{}, e.explain(ctx, from, req.Nonce, err)
	}
	hash, err := e.transactor.SendWithGasLimit(ctx, e.forwarder, calldata, req.Value, forwardGasLimit(req.Gas))
	if err != nil {
		return common.Hash{}, e.explain(ctx, from, req.Nonce, err)
	}
	e.logger.Info("forward request executed",
		zap.String("from", req.From),
		zap.String("to", req.To),
		zap.String("nonce", req.Nonce.String()),
		zap.String("tx_hash", hash.Hex()),
	)
	return hash, nil
}

// explain 签名失效最常见的原因是 nonce 不一致，确认一下
func (e *ForwarderExecutor) explain(ctx context.Context, from common.Address, nonce *big.Int, cause error) error {
	chainNonce, err := e.ForwarderNonce(ctx, from)
	if err == nil && nonce.IsUint64() && chainNonce != nonce.Uint64() {
		return errors.Join(&NonceMismatchError{Got: nonce.Uint64(), Expected: chainNonce}, cause)
	}
	return cause
}

// forwardGasLimit forwarder 要求转发时至少剩余 gas*64/63
func forwardGasLimit(gas *big.Int) uint64 {
	if gas == nil || !gas.IsUint64() {
		return 0
	}
	g := gas.Uint64()
	return g + g/63 + executeOverhead
}
