// Package metatx 构建、签名并通过 relayer 提交 ERC-2771 meta-transaction。
// 客户端不缓存 nonce，每个请求都从 relayer 取号。
package metatx

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// SignatureLength r || s || v
const SignatureLength = 65

var ErrInvalidSignature = errors.New("invalid signature")

// Domain EIP-712 签名域，version 固定为 "1"
type Domain struct {
	Name              string
	ChainID           int64
	VerifyingContract string
}

var forwardRequestTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"ForwardRequest": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "gas", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint48"},
		{Name: "data", Type: "bytes"},
	},
}

// TypedData 组装 {domain, ForwardRequest schema, request}
func TypedData(d Domain, req domain.ForwardRequest) apitypes.TypedData {
	req = req.Clone()
	return apitypes.TypedData{
		Types:       forwardRequestTypes,
		PrimaryType: "ForwardRequest",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(d.ChainID),
			VerifyingContract: d.VerifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"from":     req.From,
			"to":       req.To,
			"value":    req.Value,
			"gas":      req.Gas,
			"nonce":    req.Nonce,
			"deadline": req.Deadline,
			"data":     req.Data,
		},
	}
}

// Digest keccak256("\x19\x01" || domainSeparator || structHash)
func Digest(d Domain, req domain.ForwardRequest) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(TypedData(d, req))
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}
	return digest, nil
}

// Signer 签名者（私钥、硬件钱包等）
type Signer interface {
	Address() common.Address
	SignDigest(digest []byte) ([]byte, error)
}

// PrivateKeySigner 本地 secp256k1 私钥
type PrivateKeySigner struct {
	key *ecdsa.PrivateKey
}

func NewPrivateKeySigner(key *ecdsa.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{key: key}
}

func (s *PrivateKeySigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// SignDigest 返回 V 为 27/28 的签名
func (s *PrivateKeySigner) SignDigest(digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// SignRequest 对请求签名
func SignRequest(d Domain, req domain.ForwardRequest, signer Signer) ([]byte, error) {
	digest, err := Digest(d, req)
	if err != nil {
		return nil, err
	}
	return signer.SignDigest(digest)
}

// Recover 从签名恢复签名者地址，接受 V 为 0/1 或 27/28
func Recover(d Domain, req domain.ForwardRequest, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	digest, err := Digest(d, req)
	if err != nil {
		return common.Address{}, err
	}
	s := make([]byte, SignatureLength)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature 恢复出的地址与 req.From 一致
func VerifySignature(d Domain, req domain.ForwardRequest, sig []byte) error {
	addr, err := Recover(d, req, sig)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(req.From) || addr != common.HexToAddress(req.From) {
		return fmt.Errorf("%w: recovered %s, expected %s", ErrInvalidSignature, addr.Hex(), req.From)
	}
	return nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
