package relayer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/chain"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/metatx"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	testDomain = metatx.Domain{
		Name:              "MedicalForwarder",
		ChainID:           31337,
		VerifyingContract: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
	}
	accessControl = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

// chainExecutor 模拟 forwarder：严格按顺序消费 nonce
type chainExecutor struct {
	mu       sync.Mutex
	nonces   map[common.Address]uint64
	executed []domain.ForwardRequest
	revert   error
}

func newChainExecutor() *chainExecutor {
	return &chainExecutor{nonces: map[common.Address]uint64{}}
}

func (e *chainExecutor) ForwarderNonce(_ context.Context, from common.Address) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nonces[from], nil
}

func (e *chainExecutor) Execute(_ context.Context, req domain.ForwardRequest, _ []byte) (common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	from := common.HexToAddress(req.From)
	if e.revert != nil {
		return common.Hash{}, e.revert
	}
	if req.Nonce.Uint64() != e.nonces[from] {
		return common.Hash{}, &NonceMismatchError{Got: req.Nonce.Uint64(), Expected: e.nonces[from]}
	}
	e.nonces[from]++
	e.executed = append(e.executed, req)
	return crypto.Keccak256Hash(from.Bytes(), req.Nonce.Bytes()), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []RelayEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev RelayEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type fixture struct {
	svc    *Service
	exec   *chainExecutor
	log    *MemoryRelayLog
	pub    *recordingPublisher
	key    *ecdsa.PrivateKey
	signer *metatx.PrivateKeySigner
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith exec 为 nil 时使用 chainExecutor
func newFixtureWith(t *testing.T, exec Executor) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	f := &fixture{
		exec:   newChainExecutor(),
		log:    NewMemoryRelayLog(),
		pub:    &recordingPublisher{},
		key:    key,
		signer: metatx.NewPrivateKeySigner(key),
		now:    time.Unix(1_700_000_000, 0),
	}
	if exec == nil {
		exec = f.exec
	}
	f.svc = NewService(Options{
		Domain:         testDomain,
		MaxGas:         1_000_000,
		AllowedTargets: []string{accessControl.Hex()},
		SequenceWait:   500 * time.Millisecond,
	}, NewMemoryNonceStore(), exec, f.log, []Publisher{f.pub}, zap.NewNop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) signed(t *testing.T, nonce uint64, mutate func(*domain.ForwardRequest)) metatx.RelayBody {
	t.Helper()
	data, err := chain.EncodeRevokeAccess("0x3333333333333333333333333333333333333333")
	require.NoError(t, err)
	req := domain.ForwardRequest{
		From:     f.signer.Address().Hex(),
		To:       accessControl.Hex(),
		Value:    big.NewInt(0),
		Gas:      big.NewInt(150_000),
		Nonce:    new(big.Int).SetUint64(nonce),
		Deadline: big.NewInt(f.now.Add(time.Hour).Unix()),
		Data:     data,
	}
	if mutate != nil {
		mutate(&req)
	}
	sig, err := metatx.SignRequest(testDomain, req, f.signer)
	require.NoError(t, err)
	return metatx.RelayBody{Request: metatx.ToWire(req), Signature: hexutil.Encode(sig)}
}

func (f *fixture) reserve(t *testing.T) uint64 {
	t.Helper()
	n, err := f.svc.ReserveNonce(context.Background(), f.signer.Address().Hex())
	require.NoError(t, err)
	return n
}

func relayErr(t *testing.T, err error) *Error {
	t.Helper()
	var re *Error
	require.True(t, errors.As(err, &re), "expected *relayer.Error, got %v", err)
	return re
}

func TestService_RelaySuccess(t *testing.T) {
	f := newFixture(t)
	n := f.reserve(t)
	assert.Equal(t, uint64(0), n)

	hash, err := f.svc.Relay(context.Background(), f.signed(t, n, nil))
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	require.Len(t, f.exec.executed, 1)

	rec, err := f.svc.Status(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, rec.Status)
	assert.Equal(t, "0", rec.Nonce)
	assert.Len(t, rec.Selector, 10)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, hash, f.pub.events[0].TxHash)
}

func TestService_ReplayAfterConfirmIsRejected(t *testing.T) {
	f := newFixture(t)
	n := f.reserve(t)
	body := f.signed(t, n, nil)

	_, err := f.svc.Relay(context.Background(), body)
	require.NoError(t, err)

	_, err = f.svc.Relay(context.Background(), body)
	re := relayErr(t, err)
	assert.Equal(t, metatx.CodeNonceConflict, re.Code)
	assert.Equal(t, http.StatusConflict, re.Status)
	assert.Len(t, f.exec.executed, 1)
}

func TestService_ExpiredDeadline(t *testing.T) {
	f := newFixture(t)
	n := f.reserve(t)
	body := f.signed(t, n, func(r *domain.ForwardRequest) {
		r.Deadline = big.NewInt(f.now.Unix() - 1)
	})

	_, err := f.svc.Relay(context.Background(), body)
	re := relayErr(t, err)
	assert.Equal(t, metatx.CodeExpired, re.Code)
	assert.Empty(t, f.exec.executed)
}

func TestService_TamperedRequestFailsSignature(t *testing.T) {
	f := newFixture(t)
	n := f.reserve(t)
	body := f.signed(t, n, nil)
	body.Request.Gas = "149999"

	_, err := f.svc.Relay(context.Background(), body)
	re := relayErr(t, err)
	assert.Equal(t, metatx.CodeInvalidSignature, re.Code)
	assert.Equal(t, http.StatusUnauthorized, re.Status)
}

func TestService_Validation(t *testing.T) {
	f := newFixture(t)
	n := f.reserve(t)

	cases := []struct {
		name string
		body metatx.RelayBody
		code string
	}{
		{"gas above ceiling", f.signed(t, n, func(r *domain.ForwardRequest) { r.Gas = big.NewInt(2_000_000) }), metatx.CodeGasLimit},
		{"target not allowed", f.signed(t, n, func(r *domain.ForwardRequest) {
			r.To = "0x9999999999999999999999999999999999999999"
		}), metatx.CodeTargetNotAllowed},
		{"value forwarded", f.signed(t, n, func(r *domain.ForwardRequest) { r.Value = big.NewInt(1) }), metatx.CodeBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Relay(context.Background(), tc.body)
			assert.Equal(t, tc.code, relayErr(t, err).Code)
		})
	}

	bad := f.signed(t, n, nil)
	bad.Request.Nonce = "-1"
	_, err := f.svc.Relay(context.Background(), bad)
	assert.Equal(t, metatx.CodeBadRequest, relayErr(t, err).Code)

	bad = f.signed(t, n, nil)
	bad.Signature = "zz"
	_, err = f.svc.Relay(context.Background(), bad)
	assert.Equal(t, metatx.CodeBadRequest, relayErr(t, err).Code)
}

func TestService_UnissuedNonceIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Relay(context.Background(), f.signed(t, 0, nil))
	assert.Equal(t, metatx.CodeNonceConflict, relayErr(t, err).Code)
	assert.Empty(t, f.exec.executed)
}

func TestService_RevertIsNormalizedAndNonceReleased(t *testing.T) {
	f := newFixture(t)
	n := f.reserve(t)
	f.exec.revert = errors.New("execution reverted: Access not granted")

	_, err := f.svc.Relay(context.Background(), f.signed(t, n, nil))
	re := relayErr(t, err)
	assert.Equal(t, metatx.CodeExecutionReverted, re.Code)
	assert.Equal(t, chain.AccessNotGranted, re.Category)

	f.exec.revert = nil
	_, err = f.svc.Relay(context.Background(), f.signed(t, n, nil))
	assert.NoError(t, err, "failed execution frees the nonce")
}

func TestService_StaleNonceAdvancesCounter(t *testing.T) {
	f := newFixture(t)
	n := f.reserve(t)
	// 有人绕过 relayer 直接调用了 forwarder
	f.exec.nonces[f.signer.Address()] = 3
	f.svc.seq.reset(f.signer.Address().Hex())

	_, err := f.svc.Relay(context.Background(), f.signed(t, n, nil))
	assert.Equal(t, metatx.CodeNonceConflict, relayErr(t, err).Code)

	// 失败后客户端取到的新 nonce 应该对齐链上
	next := f.reserve(t)
	assert.Equal(t, uint64(3), next)
	_, err = f.svc.Relay(context.Background(), f.signed(t, next, nil))
	assert.NoError(t, err)
}

func TestService_OutOfOrderSubmissionsAreSequenced(t *testing.T) {
	f := newFixture(t)
	first := f.reserve(t)
	second := f.reserve(t)
	require.NotEqual(t, first, second)

	bodies := []metatx.RelayBody{f.signed(t, second, nil), f.signed(t, first, nil)}
	var wg sync.WaitGroup
	errs := make([]error, len(bodies))
	for i, b := range bodies {
		wg.Add(1)
		go func(i int, b metatx.RelayBody) {
			defer wg.Done()
			_, errs[i] = f.svc.Relay(context.Background(), b)
		}(i, b)
		if i == 0 {
			time.Sleep(20 * time.Millisecond)
		}
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Len(t, f.exec.executed, 2)
	assert.Equal(t, first, f.exec.executed[0].Nonce.Uint64())
	assert.Equal(t, second, f.exec.executed[1].Nonce.Uint64())
}

func TestService_AbandonedNonceGapRewindsCounter(t *testing.T) {
	f := newFixture(t)
	abandoned := f.reserve(t)
	n := f.reserve(t)

	_, err := f.svc.Relay(context.Background(), f.signed(t, n, nil))
	assert.Equal(t, metatx.CodeNonceConflict, relayErr(t, err).Code)

	fresh := f.reserve(t)
	assert.Equal(t, abandoned, fresh)
	_, err = f.svc.Relay(context.Background(), f.signed(t, fresh, nil))
	assert.NoError(t, err)
}

func TestService_ReserveNonceRejectsBadAddress(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ReserveNonce(context.Background(), "not-an-address")
	assert.Equal(t, metatx.CodeBadRequest, relayErr(t, err).Code)
}

func TestService_ForwarderBehindKeepsCounter(t *testing.T) {
	f := newFixture(t)
	n := f.reserve(t)
	_, err := f.svc.Relay(context.Background(), f.signed(t, n, nil))
	require.NoError(t, err)

	// 上一笔交易还没进入 pending 状态，forwarder 仍然报 0
	f.exec.mu.Lock()
	f.exec.nonces[f.signer.Address()] = 0
	f.exec.mu.Unlock()

	n = f.reserve(t)
	assert.Equal(t, uint64(1), n)
	_, err = f.svc.Relay(context.Background(), f.signed(t, n, nil))
	assert.Equal(t, metatx.CodeNonceConflict, relayErr(t, err).Code)

	// 已发送的 nonce 0 不会再次发放
	assert.Equal(t, uint64(2), f.reserve(t))

	// forwarder 追上后，同一个 nonce 可以重试
	f.exec.mu.Lock()
	f.exec.nonces[f.signer.Address()] = 1
	f.exec.mu.Unlock()
	_, err = f.svc.Relay(context.Background(), f.signed(t, 1, nil))
	assert.NoError(t, err)
}

func TestService_ForwarderAheadAdvancesCounter(t *testing.T) {
	f := newFixture(t)
	n := f.reserve(t)
	_, err := f.svc.Relay(context.Background(), f.signed(t, n, nil))
	require.NoError(t, err)

	// 有人绕过 relayer 消费了 1..4
	f.exec.mu.Lock()
	f.exec.nonces[f.signer.Address()] = 5
	f.exec.mu.Unlock()

	n = f.reserve(t)
	_, err = f.svc.Relay(context.Background(), f.signed(t, n, nil))
	assert.Equal(t, metatx.CodeNonceConflict, relayErr(t, err).Code)

	next := f.reserve(t)
	assert.Equal(t, uint64(5), next)
	_, err = f.svc.Relay(context.Background(), f.signed(t, next, nil))
	assert.NoError(t, err)
}
