// Package relayer 中继服务：发放 nonce，校验签名后的 forward request，并代付 gas 执行。
package relayer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/chain"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/metatx"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Error 带 HTTP 状态码和错误码的拒绝原因
type Error struct {
	Status   int
	Code     string
	Category chain.Category
	Message  string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func reject(status int, code, format string, args ...interface{}) *Error {
	return &Error{Status: status, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Options 服务配置
type Options struct {
	Domain         metatx.Domain
	MaxGas         uint64
	AllowedTargets []string
	SequenceWait   time.Duration
}

// Service 中继核心逻辑，HTTP 层见 internal/httpapi
type Service struct {
	domain   metatx.Domain
	maxGas   *big.Int
	allowed  map[common.Address]struct{}
	nonces   NonceStore
	executor Executor
	log      RelayLog
	events   fanout
	seq      *sequencer
	now      func() time.Time
	logger   *zap.Logger
}

func NewService(opts Options, nonces NonceStore, executor Executor, relayLog RelayLog, publishers []Publisher, logger *zap.Logger) *Service {
	allowed := make(map[common.Address]struct{}, len(opts.AllowedTargets))
	for _, t := range opts.AllowedTargets {
		if common.IsHexAddress(t) {
			allowed[common.HexToAddress(t)] = struct{}{}
		}
	}
	return &Service{
		domain:   opts.Domain,
		maxGas:   new(big.Int).SetUint64(opts.MaxGas),
		allowed:  allowed,
		nonces:   nonces,
		executor: executor,
		log:      relayLog,
		events:   fanout{publishers: publishers, logger: logger},
		seq:      newSequencer(opts.SequenceWait),
		now:      time.Now,
		logger:   logger,
	}
}

func (s *Service) seedFor(from common.Address) SeedFunc {
	return func(ctx context.Context) (uint64, error) {
		return s.executor.ForwarderNonce(ctx, from)
	}
}

// ReserveNonce GET /nonce/{address}
func (s *Service) ReserveNonce(ctx context.Context, address string) (uint64, error) {
	if !common.IsHexAddress(address) {
		return 0, reject(http.StatusBadRequest, metatx.CodeBadRequest, "invalid address %q", address)
	}
	from := common.HexToAddress(address)
	n, err := s.nonces.Reserve(ctx, from.Hex(), s.seedFor(from))
	if err != nil {
		s.logger.Error("nonce reservation failed", zap.String("address", from.Hex()), zap.Error(err))
		return 0, reject(http.StatusServiceUnavailable, metatx.CodeRelayerUnavailable, "nonce store unavailable")
	}
	s.logger.Debug("nonce reserved", zap.String("address", from.Hex()), zap.Uint64("nonce", n))
	return n, nil
}

// Relay POST /relay。返回的 error 总是 *Error。
func (s *Service) Relay(ctx context.Context, body metatx.RelayBody) (string, error) {
	req, sig, rerr := s.validate(body)
	if rerr != nil {
		s.logger.Info("relay request rejected",
			zap.String("from", body.Request.From),
			zap.String("code", rerr.Code),
			zap.String("reason", rerr.Message),
		)
		return "", rerr
	}
	from := common.HexToAddress(req.From)
	nonce := req.Nonce.Uint64()

	if err := s.nonces.Consume(ctx, from.Hex(), nonce); err != nil {
		rerr := s.consumeError(err, nonce)
		s.record(ctx, req, "", rerr)
		return "", rerr
	}

	release, err := s.seq.acquire(ctx, from.Hex(), nonce, s.seedFor(from))
	if err != nil {
		s.releaseNonce(ctx, from, nonce)
		if errors.Is(err, ErrNonceGap) {
			// 前序 nonce 被放弃，回拨计数器让客户端重新取号填补空缺。
			// floor 不低于已发送的 nonce，回拨只会重发从未上链的号
			if floor, ok := s.seq.gapFloor(from.Hex()); ok {
				if syncErr := s.nonces.Sync(ctx, from.Hex(), floor); syncErr != nil {
					s.logger.Warn("nonce resync failed", zap.String("address", from.Hex()), zap.Error(syncErr))
				}
				s.seq.reset(from.Hex())
			}
		}
		if errors.Is(err, ErrStaleNonce) {
			if syncErr := s.nonces.Advance(ctx, from.Hex(), s.seq.expected(from.Hex())); syncErr != nil {
				s.logger.Warn("nonce resync failed", zap.String("address", from.Hex()), zap.Error(syncErr))
			}
		}
		rerr := reject(http.StatusConflict, metatx.CodeNonceConflict, "%v", err)
		if !errors.Is(err, ErrStaleNonce) && !errors.Is(err, ErrNonceGap) {
			rerr = reject(http.StatusServiceUnavailable, metatx.CodeRelayerUnavailable, "%v", err)
		}
		s.record(ctx, req, "", rerr)
		return "", rerr
	}

	hash, err := s.executor.Execute(ctx, req, sig)
	release(err == nil)
	if err != nil {
		s.releaseNonce(ctx, from, nonce)
		var mismatch *NonceMismatchError
		if errors.As(err, &mismatch) {
			s.onNonceMismatch(ctx, from, mismatch)
		}
		category := chain.Normalize(err)
		rerr := &Error{
			Status:   http.StatusUnprocessableEntity,
			Code:     metatx.CodeExecutionReverted,
			Category: category,
			Message:  err.Error(),
		}
		if mismatch != nil {
			rerr.Status = http.StatusConflict
			rerr.Code = metatx.CodeNonceConflict
		}
		s.logger.Warn("relay execution failed",
			zap.String("from", from.Hex()),
			zap.Uint64("nonce", nonce),
			zap.String("category", string(category)),
			zap.Error(err),
		)
		s.record(ctx, req, "", rerr)
		return "", rerr
	}

	s.record(ctx, req, hash.Hex(), nil)
	return hash.Hex(), nil
}

// onNonceMismatch 计数器只前移。forwarder 落后时（前序交易未出块或被丢弃）不回拨，
// 否则已发送交易的 nonce 会被再次发放；客户端可在 pending 状态追上后用同一 nonce 重试。
func (s *Service) onNonceMismatch(ctx context.Context, from common.Address, mismatch *NonceMismatchError) {
	if mismatch.Expected <= mismatch.Got {
		s.logger.Warn("forwarder nonce behind relayer, counter kept",
			zap.String("address", from.Hex()),
			zap.Uint64("nonce", mismatch.Got),
			zap.Uint64("forwarder_nonce", mismatch.Expected),
		)
		return
	}
	s.seq.reset(from.Hex())
	if err := s.nonces.Advance(ctx, from.Hex(), mismatch.Expected); err != nil {
		s.logger.Warn("nonce resync failed", zap.String("address", from.Hex()), zap.Error(err))
	}
}

func (s *Service) validate(body metatx.RelayBody) (domain.ForwardRequest, []byte, *Error) {
	req, err := metatx.FromWire(body.Request)
	if err != nil {
		return req, nil, reject(http.StatusBadRequest, metatx.CodeBadRequest, "%v", err)
	}
	if !common.IsHexAddress(req.From) || !common.IsHexAddress(req.To) {
		return req, nil, reject(http.StatusBadRequest, metatx.CodeBadRequest, "from and to must be addresses")
	}
	if !req.Nonce.IsUint64() {
		return req, nil, reject(http.StatusBadRequest, metatx.CodeBadRequest, "nonce out of range")
	}
	sig, err := hexutil.Decode(body.Signature)
	if err != nil {
		return req, nil, reject(http.StatusBadRequest, metatx.CodeBadRequest, "signature must be 0x-prefixed hex")
	}
	if req.Deadline.Cmp(big.NewInt(s.now().Unix())) < 0 {
		return req, nil, reject(http.StatusBadRequest, metatx.CodeExpired, "deadline %s has passed", req.Deadline)
	}
	if err := metatx.VerifySignature(s.domain, req, sig); err != nil {
		return req, nil, reject(http.StatusUnauthorized, metatx.CodeInvalidSignature, "%v", err)
	}
	if req.Gas.Sign() <= 0 || req.Gas.Cmp(s.maxGas) > 0 {
		return req, nil, reject(http.StatusBadRequest, metatx.CodeGasLimit, "gas %s exceeds relayer limit %s", req.Gas, s.maxGas)
	}
	if req.Value.Sign() != 0 {
		return req, nil, reject(http.StatusBadRequest, metatx.CodeBadRequest, "relayer does not forward value")
	}
	if _, ok := s.allowed[common.HexToAddress(req.To)]; !ok {
		return req, nil, reject(http.StatusForbidden, metatx.CodeTargetNotAllowed, "target %s is not relayed", req.To)
	}
	return req, sig, nil
}

func (s *Service) consumeError(err error, nonce uint64) *Error {
	switch {
	case errors.Is(err, ErrNonceUsed):
		return reject(http.StatusConflict, metatx.CodeNonceConflict, "nonce %d already used", nonce)
	case errors.Is(err, ErrNonceNotIssued):
		return reject(http.StatusConflict, metatx.CodeNonceConflict, "nonce %d was not issued, fetch a fresh nonce", nonce)
	}
	s.logger.Error("nonce consume failed", zap.Error(err))
	return reject(http.StatusServiceUnavailable, metatx.CodeRelayerUnavailable, "nonce store unavailable")
}

func (s *Service) releaseNonce(ctx context.Context, from common.Address, nonce uint64) {
	if err := s.nonces.Release(ctx, from.Hex(), nonce); err != nil {
		s.logger.Warn("nonce release failed", zap.String("address", from.Hex()), zap.Uint64("nonce", nonce), zap.Error(err))
	}
}

func (s *Service) record(ctx context.Context, req domain.ForwardRequest, txHash string, rerr *Error) {
	rec := &RelayRecord{
		ID:        uuid.New().String(),
		TxHash:    txHash,
		From:      req.From,
		To:        req.To,
		Nonce:     req.Nonce.String(),
		Status:    StatusSubmitted,
		CreatedAt: s.now().UTC(),
	}
	if len(req.Data) >= 4 {
		rec.Selector = hexutil.Encode(req.Data[:4])
	}
	if rerr != nil {
		rec.Status = StatusFailed
		rec.ErrorCode = rerr.Code
		rec.Error = rerr.Message
	}
	if err := s.log.Save(ctx, rec); err != nil {
		s.logger.Warn("relay record save failed", zap.String("id", rec.ID), zap.Error(err))
	}
	s.events.publish(ctx, RelayEvent{
		ID:        rec.ID,
		From:      strings.ToLower(rec.From),
		To:        rec.To,
		Nonce:     rec.Nonce,
		Status:    rec.Status,
		TxHash:    rec.TxHash,
		ErrorCode: rec.ErrorCode,
		Timestamp: rec.CreatedAt.Unix(),
	})
}

// Status GET /relay/{txHash}
func (s *Service) Status(ctx context.Context, txHash string) (*RelayRecord, error) {
	return s.log.FindByTxHash(ctx, txHash)
}
