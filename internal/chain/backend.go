package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend *ethclient.Client 满足此接口；测试中用 fake
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	// PendingCallContract 在 pending 状态上执行，能看到已进入 mempool 的交易
	PendingCallContract(ctx context.Context, call ethereum.CallMsg) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Dial 连接 JSON-RPC 节点
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	return c, nil
}

// ParsePrivateKey 接受带或不带 0x 前缀的 hex 私钥
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// Transactor 用已充值钱包签名并发送交易（直接写链和 relayer 执行共用）
type Transactor struct {
	backend Backend
	key     *ecdsa.PrivateKey
	chainID *big.Int
	// gasHeadroom 在 EstimateGas 基础上加的百分比
	gasHeadroom uint64
}

// NewTransactor 创建 Transactor
func NewTransactor(backend Backend, key *ecdsa.PrivateKey, chainID int64) *Transactor {
	return &Transactor{backend: backend, key: key, chainID: big.NewInt(chainID), gasHeadroom: 20}
}

// From 钱包地址
func (t *Transactor) From() common.Address {
	return crypto.PubkeyToAddress(t.key.PublicKey)
}

// Send 估算 gas 后发送 legacy 交易。合约 revert 通常在 EstimateGas 阶段暴露。
// EstimateGas 使用 latest 状态，同一发送方的 mempool 交易不可见。
func (t *Transactor) Send(ctx context.Context, to common.Address, data []byte, value *big.Int) (common.Hash, error) {
	return t.SendWithGasLimit(ctx, to, data, value, 0)
}

// SendWithGasLimit gasLimit > 0 时跳过估算，由调用方负责事先在 pending 状态上预执行
func (t *Transactor) SendWithGasLimit(ctx context.Context, to common.Address, data []byte, value *big.Int, gasLimit uint64) (common.Hash, error) {
	from := t.From()
	if value == nil {
		value = new(big.Int)
	}
	gas := gasLimit
	if gas == 0 {
		estimated, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
		if err != nil {
			return common.Hash{}, err
		}
		gas = estimated + estimated*t.gasHeadroom/100
	}

	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}
	nonce, err := t.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(t.chainID), t.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}
